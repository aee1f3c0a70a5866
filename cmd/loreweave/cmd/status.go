package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/loreweave/loreweave/internal/mcp"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show corpus and index status",
		Long: `Display counts for passages, entities, lexical documents and
vector partitions, plus embedding model availability.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	server, err := mcp.NewServer(
		a.engine, a.pipeline, a.lore, a.lexical, a.vectors, a.embedder, a.cfg)
	if err != nil {
		return err
	}

	out, err := server.CallTool(ctx, "status", nil)
	if err != nil {
		return err
	}
	status, ok := out.(*mcp.StatusOutput)
	if !ok {
		return fmt.Errorf("unexpected status payload %T", out)
	}

	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintln(w, "Story Memory Status")
	fmt.Fprintln(w, "===================")
	fmt.Fprintf(w, "Passages:       %d\n", status.Passages)
	fmt.Fprintf(w, "Entities:       %d\n", status.Entities)
	fmt.Fprintf(w, "Lexical docs:   %d\n", status.LexicalDocs)

	if len(status.Embeddings) > 0 {
		fmt.Fprintln(w, "\nEmbeddings by model:")
		for _, model := range sortedKeys(status.Embeddings) {
			fmt.Fprintf(w, "  %-20s %d\n", model, status.Embeddings[model])
		}
	}
	if len(status.Vectors) > 0 {
		fmt.Fprintln(w, "\nVectors by partition:")
		dims := make([]string, 0, len(status.Vectors))
		for d := range status.Vectors {
			dims = append(dims, d)
		}
		sort.Strings(dims)
		for _, d := range dims {
			fmt.Fprintf(w, "  %s dims: %d\n", d, status.Vectors[d])
		}
	}
	if len(status.Models) > 0 {
		fmt.Fprintln(w, "\nEmbedding models:")
		for _, m := range status.Models {
			avail := "unavailable"
			if m.Available {
				avail = "available"
			}
			fmt.Fprintf(w, "  %-20s %s via %s (%d dims)\n", m.Model, avail, m.Provider, m.Dimensions)
		}
	}
	if status.LastIngestAt != "" {
		fmt.Fprintf(w, "\nLast ingest: %s\n", status.LastIngestAt)
	}
	return nil
}
