package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loreweave/loreweave/internal/output"
)

func newRarityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rarity",
		Short: "Manage the term rarity dictionary",
		Long: `The rarity dictionary holds IDF-style term weights computed from
passage document frequencies. The rescorer uses it to favor matches on
rare terms; a cold dictionary degrades to flat weights, never an error.`,
	}

	cmd.AddCommand(newRarityRebuildCmd())
	cmd.AddCommand(newRarityStatusCmd())
	return cmd
}

func newRarityRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the rarity dictionary from the corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRarityRebuild(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runRarityRebuild(ctx context.Context, cmd *cobra.Command) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	dict, err := a.rarity.Rebuild(ctx)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	out.Successf("rarity dictionary rebuilt: %d terms over %d passages",
		dict.Len(), dict.TotalDocs())
	return nil
}

func newRarityStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show rarity dictionary freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRarityStatus(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runRarityStatus(ctx context.Context, cmd *cobra.Command) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	info := a.rarity.Info()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Status:    %s\n", info.Status)
	fmt.Fprintf(w, "Terms:     %d\n", info.Terms)
	fmt.Fprintf(w, "Passages:  %d\n", info.TotalDocs)
	if !info.BuiltAt.IsZero() {
		fmt.Fprintf(w, "Built at:  %s\n", info.BuiltAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
