package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query telemetry",
		Long: `Display local query telemetry: query type distribution, top query
terms, recent zero-result queries and the latency histogram. Metrics
are collected by the serving process and persisted to telemetry.db
under the data dir; nothing leaves the machine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")

	return cmd
}

// StatsOutput is the JSON shape of `loreweave stats`.
type StatsOutput struct {
	QueryTypeCounts     map[string]int64 `json:"query_type_counts"`
	TopTerms            []StatsTermCount `json:"top_terms"`
	ZeroResultQueries   []string         `json:"zero_result_queries"`
	LatencyDistribution map[string]int64 `json:"latency_distribution"`
}

// StatsTermCount is one term with its cumulative query count.
type StatsTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

func runStats(cmd *cobra.Command, jsonOutput bool, days int) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	metricsStore, err := telemetry.NewSQLiteMetricsStore(cfg.TelemetryDBPath())
	if err != nil {
		return fmt.Errorf("open telemetry store: %w", err)
	}
	defer func() { _ = metricsStore.Close() }()

	output, err := collectStats(metricsStore, days)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	}
	return printStats(cmd, output)
}

func collectStats(metricsStore *telemetry.SQLiteMetricsStore, days int) (*StatsOutput, error) {
	if days <= 0 {
		days = 7
	}
	to := time.Now().Format("2006-01-02")
	from := time.Now().AddDate(0, 0, -days+1).Format("2006-01-02")

	typeCounts, err := metricsStore.TypeCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get type counts: %w", err)
	}

	topTerms, err := metricsStore.TopTerms(10)
	if err != nil {
		return nil, fmt.Errorf("get top terms: %w", err)
	}

	zeroResults, err := metricsStore.RecentZeroResults(10)
	if err != nil {
		return nil, fmt.Errorf("get zero-result queries: %w", err)
	}

	latencies, err := metricsStore.LatencyCounts(from, to)
	if err != nil {
		return nil, fmt.Errorf("get latency counts: %w", err)
	}

	out := &StatsOutput{
		QueryTypeCounts:     typeCounts,
		TopTerms:            make([]StatsTermCount, 0, len(topTerms)),
		ZeroResultQueries:   zeroResults,
		LatencyDistribution: make(map[string]int64, len(latencies)),
	}
	for _, tc := range topTerms {
		out.TopTerms = append(out.TopTerms, StatsTermCount{Term: tc.Term, Count: tc.Count})
	}
	for bucket, count := range latencies {
		out.LatencyDistribution[string(bucket)] = count
	}
	return out, nil
}

func printStats(cmd *cobra.Command, output *StatsOutput) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Query Statistics")
	fmt.Fprintln(w, "================")
	fmt.Fprintln(w)

	if len(output.QueryTypeCounts) > 0 {
		fmt.Fprintln(w, "Query Type Distribution:")
		for qt, count := range output.QueryTypeCounts {
			fmt.Fprintf(w, "  %s: %d\n", qt, count)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "No queries recorded in the selected window.")
		fmt.Fprintln(w)
	}

	if len(output.TopTerms) > 0 {
		fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range output.TopTerms {
			fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
		fmt.Fprintln(w)
	}

	if len(output.ZeroResultQueries) > 0 {
		fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range output.ZeroResultQueries {
			fmt.Fprintf(w, "  - %q\n", q)
		}
		fmt.Fprintln(w)
	}

	if len(output.LatencyDistribution) > 0 {
		fmt.Fprintln(w, "Latency Distribution:")
		buckets := []string{"p10", "p50", "p100", "p500", "p1000"}
		labels := map[string]string{
			"p10":   "<10ms",
			"p50":   "10-50ms",
			"p100":  "50-100ms",
			"p500":  "100-500ms",
			"p1000": ">500ms",
		}
		for _, b := range buckets {
			if count, ok := output.LatencyDistribution[b]; ok {
				fmt.Fprintf(w, "  %-10s %d\n", labels[b], count)
			}
		}
	}

	return nil
}
