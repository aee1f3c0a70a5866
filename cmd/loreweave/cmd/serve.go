package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/logging"
	"github.com/loreweave/loreweave/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server exposing query, ingest and status tools.

On the stdio transport, stdout carries JSON-RPC exclusively; all
diagnostics go to the log file under the data dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to use (stdio)")

	return cmd
}

func runServe(ctx context.Context, transport string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return err
	}

	// Route slog to a file before anything else can print. The MCP
	// client owns stdout from here on.
	logCleanup, err := logging.SetupMCPModeWithLevel(
		logging.ServerLogPath(cfg.LogDir()), cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("setup server logging: %w", err)
	}
	defer logCleanup()

	a, err := openAppWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	server, err := mcp.NewServer(
		a.engine, a.pipeline, a.lore, a.lexical, a.vectors, a.embedder, cfg)
	if err != nil {
		return err
	}
	if a.metrics != nil {
		server.SetMetrics(a.metrics)
	}

	if transport == "" {
		transport = cfg.Server.Transport
	}
	return server.Serve(ctx, transport)
}
