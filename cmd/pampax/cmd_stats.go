package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pampax/internal/cache"
)

var statsJSON bool

// statsCmd surfaces process-local cache health. A running pipeline's
// telemetry.Collector snapshot is exporter-scoped (spec §4.12's sinks push to
// Prometheus/stdout on their own schedule) rather than something this
// one-shot CLI polls, so stats here is cache-focused: the one collaborator
// whose health is meaningful to check interactively between queries.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache health and hit-rate statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	c := cache.New(1000, 0)
	health := c.CheckHealth()

	if statsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(health)
	}

	fmt.Printf("Healthy: %v\n", health.Healthy)
	if len(health.Issues) == 0 {
		fmt.Println("Issues:  none")
	} else {
		fmt.Println("Issues:")
		for _, issue := range health.Issues {
			fmt.Printf("  - %s\n", issue)
		}
	}
	fmt.Printf("Hit rate (global): %.2f%%\n", health.Stats.GlobalHitRate*100)
	for name, st := range health.Stats.Namespaces {
		fmt.Printf("  %-10s hits=%-6d misses=%-6d size=%-6d hit_rate=%.2f%%\n", name, st.Hits, st.Misses, st.Size, st.HitRate*100)
	}
	return nil
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print stats as JSON")
}
