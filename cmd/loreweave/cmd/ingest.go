package cmd

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loreweave/loreweave/internal/output"
)

func newIngestCmd() *cobra.Command {
	var rebuildRarity bool

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest story documents",
		Long: `Split story documents into scene passages and index them.

Documents are divided at scene markers of the form

    [SCENE S1E2-3: the-harbor]

optionally followed by @location:, @characters: and @tags: attribute
lines. Re-ingesting a document overwrites its passages in place.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd, args, rebuildRarity)
		},
	}

	cmd.Flags().BoolVar(&rebuildRarity, "rebuild-rarity", true, "Rebuild the rarity dictionary after ingesting")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, paths []string, rebuildRarity bool) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := output.New(cmd.OutOrStdout())

	totalPassages := 0
	for _, path := range paths {
		report, err := a.pipeline.IngestFile(ctx, path)
		if err != nil {
			out.Errorf("%s: %v", path, err)
			return err
		}
		totalPassages += report.Passages

		out.Successf("%s: %d passages in %s", path, report.Passages,
			report.Duration.Round(time.Millisecond))
		for _, model := range sortedKeys(report.EmbeddedByModel) {
			out.Detailf("%s: %d embeddings", model, report.EmbeddedByModel[model])
		}
		if len(report.SkippedModels) > 0 {
			out.Warningf("models skipped (no provider available): %s",
				strings.Join(report.SkippedModels, ", "))
		}
	}

	if rebuildRarity && totalPassages > 0 {
		dict, err := a.rarity.Rebuild(ctx)
		if err != nil {
			out.Warningf("rarity rebuild failed: %v", err)
		} else {
			out.Detailf("rarity dictionary rebuilt: %d terms over %d passages",
				dict.Len(), dict.TotalDocs())
		}
	}

	out.Statusf("📚", "ingested %d passage(s) from %d document(s)", totalPassages, len(paths))
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
