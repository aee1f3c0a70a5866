package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loreweave/loreweave/internal/mcp"
	"github.com/loreweave/loreweave/internal/search"
	"github.com/loreweave/loreweave/internal/store"
)

func newQueryCmd() *cobra.Command {
	var (
		queryType  string
		season     int
		episode    int
		limit      int
		jsonOutput bool
		explain    bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Query the story memory",
		Long: `Run a natural-language query against the indexed story.

The analyzer classifies the question (character, location, event,
theme, general) unless --type pins it. Three strategies run in
parallel and their evidence is fused into one ranked list.`,
		Example: `  loreweave query "Who is Sullivan?"
  loreweave query "the night the lighthouse went out" --season 1
  loreweave query "Harrowgate" --type location --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return runQuery(cmd.Context(), cmd, text, queryType, season, episode, limit, jsonOutput, explain)
		},
	}

	cmd.Flags().StringVar(&queryType, "type", "", "Pin the query type (character|location|event|theme|general)")
	cmd.Flags().IntVar(&season, "season", 0, "Restrict to a season")
	cmd.Flags().IntVar(&episode, "episode", 0, "Restrict to an episode (requires --season)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (0 uses the configured default)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&explain, "explain", false, "Show the executed plan")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, text, queryType string, season, episode, limit int, jsonOutput, explain bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	req := search.QueryRequest{
		Text:  text,
		Type:  queryType,
		Limit: limit,
	}
	if season > 0 || episode > 0 {
		req.Filter = &store.ScopeFilter{Season: season, Episode: episode}
	}

	resp, err := a.engine.Query(ctx, req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(mcp.ToQueryOutput(resp))
	}

	fmt.Fprintln(w, mcp.FormatQueryResults(resp))
	if explain {
		fmt.Fprintf(w, "Plan: %s\n", resp.Metadata.PlanExplanation)
		fmt.Fprintf(w, "Strategies: %s\n", strings.Join(resp.Metadata.StrategiesExecuted, ", "))
		for name, d := range resp.Metadata.Timings {
			fmt.Fprintf(w, "  %s: %s\n", name, d)
		}
	}
	return nil
}
