package cmd

import (
	"context"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		file    string
		lines   int
		level   string
		pattern string
		follow  bool
		noColor bool
		rotated bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View server logs",
		Long: `Tail the server log for the current project.

The log lives under the data dir (.loreweave/logs/server.log) when
serving from a project, or ~/.loreweave/logs otherwise. Entries are
JSON; the viewer parses, filters and pretty-prints them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd.Context(), cmd, file, lines, level, pattern, follow, noColor, rotated)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Explicit log file path")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&pattern, "grep", "", "Only show lines matching this regexp")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep reading as the log grows")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&rotated, "rotated", false, "Include rotated log files in the tail")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, file string, lines int, level, pattern string, follow, noColor, rotated bool) error {
	var candidates []string
	if cfg, err := config.Load("."); err == nil {
		candidates = append(candidates, logging.ServerLogPath(cfg.LogDir()))
	}

	path, err := logging.FindLogFile(file, candidates...)
	if err != nil {
		return err
	}

	vcfg := logging.ViewerConfig{Level: level, NoColor: noColor}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern: %w", err)
		}
		vcfg.Pattern = re
	}

	viewer := logging.NewViewer(vcfg, cmd.OutOrStdout())

	var entries []logging.LogEntry
	if rotated {
		entries, err = viewer.TailMultiple(logging.RotatedLogFiles(path), lines)
	} else {
		entries, err = viewer.Tail(path, lines)
	}
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !follow {
		return nil
	}

	ch := make(chan logging.LogEntry, 64)
	go func() {
		for entry := range ch {
			fmt.Fprintln(cmd.OutOrStdout(), viewer.FormatEntry(entry))
		}
	}()
	return viewer.Follow(ctx, path, ch)
}
