package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pampax/internal/assembler"
	"pampax/internal/cache"
	"pampax/internal/store"
	"pampax/internal/telemetry"
	"pampax/internal/tokenizer"
)

var (
	queryBudget   int
	queryRepo     string
	queryLanguage string
	queryGraph    bool
	queryRerank   bool
	queryJSON     bool
)

// queryCmd assembles a token-budgeted context bundle for a natural-language
// query against the index at --db.
var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Assemble a context bundle for a query",
	Long: `Runs the full pipeline - classify, gate, retrieve, expand, rerank,
degrade, emit - against the index at --db and prints the resulting bundle.

Example:
  pampax query "where do we validate auth tokens"
  pampax query --graph --rerank --budget 8000 "UserService callers"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	query := args[0]
	logger.Info("running query", zap.String("query", query), zap.Int("budget", queryBudget))

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	backend, err := store.Open(dbPath, 0)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer backend.Close()

	var c *cache.Cache
	if cfg.Cache.Enabled {
		c = cache.New(1000, durationSeconds(cfg.Cache.TTLSeconds))
	}

	collector := telemetry.NewCollector()
	tLogger, err := telemetry.New("assembler", telemetry.Config{
		Level:  telemetry.LevelInfo,
		Format: telemetry.FormatJSON,
		Output: "stderr",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline logger: %w", err)
	}

	a := assembler.NewAssembler(backend, c, tokenizer.NewFactory(nil), collector, tLogger)
	defer a.Shutdown()

	bundle := a.AssembleWithExplanation(ctx, query, assembler.Options{
		Budget:        queryBudget,
		Repo:          queryRepo,
		Language:      queryLanguage,
		GraphEnabled:  queryGraph,
		RerankEnabled: queryRerank,
		CacheEnabled:  cfg.Cache.Enabled,
	})

	if queryJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(bundle)
	}

	fmt.Printf("Query:   %s\n", bundle.Query)
	fmt.Printf("Budget:  %d tokens (used %d)\n", bundle.Budget, bundle.TotalTokens)
	fmt.Printf("Sources: %v\n", bundle.Sources)
	fmt.Printf("Degrade level: %d\n", bundle.Explanation.DegradeLevel)
	if bundle.Truncated {
		fmt.Println("Truncated: yes")
	}
	fmt.Println()
	for _, r := range bundle.Results {
		fmt.Printf("--- %s (%s)\n", r.ID, r.Path)
		fmt.Println(r.Content)
		fmt.Println()
	}
	return nil
}

func durationSeconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func init() {
	queryCmd.Flags().IntVar(&queryBudget, "budget", 4096, "token budget for the assembled bundle")
	queryCmd.Flags().StringVar(&queryRepo, "repo", "", "repository identifier, for policy overrides")
	queryCmd.Flags().StringVar(&queryLanguage, "language", "", "dominant language hint")
	queryCmd.Flags().BoolVar(&queryGraph, "graph", false, "expand the code graph from top retrieval hits")
	queryCmd.Flags().BoolVar(&queryRerank, "rerank", false, "rerank fused results before degrading")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the bundle as JSON")
}
