// Package main implements the pampax CLI - a context assembly engine for
// retrieval-augmented coding agents.
//
// This file serves as the entry point and command registration hub,
// following codeNERD's cmd/nerd/main.go split (one root command, command
// implementations in separate cmd_*.go files).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pampax/internal/pampaxconfig"
)

var (
	verbose    bool
	configPath string
	dbPath     string
	timeout    time.Duration

	logger *zap.Logger
	cfg    pampaxconfig.Config
)

var rootCmd = &cobra.Command{
	Use:   "pampax",
	Short: "pampax - budget-aware context assembly for coding agents",
	Long: `pampax assembles a token-budgeted context bundle for a natural-language
query against an indexed code repository: classify intent, gate retrieval
depth, fan out across BM25/vector/memory/symbol search, optionally expand
the code graph, rerank, and degrade to fit the caller's token budget.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = pampaxconfig.Load(configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to pampax.toml")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "pampax.db", "path to the SQLite index database")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "per-query timeout")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
