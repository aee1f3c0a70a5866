package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/output"
	"github.com/loreweave/loreweave/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var noInitialSync bool

	cmd := &cobra.Command{
		Use:   "watch [dir]...",
		Short: "Watch story directories and re-ingest on change",
		Long: `Watch one or more story directories and re-ingest documents as
they change. Rapid saves within the debounce window collapse into one
ingest. With no arguments, the configured story.watch_paths are used,
falling back to the current directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, args, !noInitialSync)
		},
	}

	cmd.Flags().BoolVar(&noInitialSync, "no-initial-sync", false, "Skip the initial full ingest of existing documents")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, args []string, initialSync bool) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	dirs := args
	if len(dirs) == 0 {
		dirs = cfg.Story.WatchPaths
	}
	if len(dirs) == 0 {
		dirs = []string{"."}
	}

	a, err := openAppWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := output.New(cmd.OutOrStdout())

	opts := watch.Options{
		Debounce:   cfg.Story.WatchDebounceDuration(),
		Extensions: cfg.Story.Extensions,
	}

	runners := make([]*watch.Runner, 0, len(dirs))
	for _, dir := range dirs {
		w, err := watch.New(dir, opts, nil)
		if err != nil {
			return err
		}
		r := watch.NewRunner(w, a.pipeline, nil)
		r.OnBatch = func(processed, failed int) {
			if failed > 0 {
				out.Warningf("re-ingested %d document(s), %d failed", processed, failed)
			} else if processed > 0 {
				out.Successf("re-ingested %d document(s)", processed)
			}
		}
		runners = append(runners, r)
		out.Statusf("👀", "watching %s", w.Root())
	}

	if initialSync {
		for _, r := range runners {
			processed, failed, err := r.IngestAll(ctx)
			if err != nil {
				return err
			}
			out.Detailf("initial sync: %d ingested, %d failed", processed, failed)
		}
		if _, err := a.rarity.Rebuild(ctx); err != nil {
			out.Warningf("rarity rebuild failed: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
