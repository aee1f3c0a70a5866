package logging

import (
	"log/slog"
)

// SetupMCPMode initializes logging for MCP server mode at debug level.
// The MCP protocol uses stdout exclusively for JSON-RPC; any write to
// stdout or stderr during operation corrupts the stream, so MCP mode
// logs to file only. logPath empty falls back to the global default.
func SetupMCPMode(logPath string) (func(), error) {
	return SetupMCPModeWithLevel(logPath, "debug")
}

// SetupMCPModeWithLevel initializes MCP-safe logging with a specific level.
func SetupMCPModeWithLevel(logPath, level string) (func(), error) {
	if logPath == "" {
		logPath = DefaultLogPath()
	}

	cfg := Config{
		Level:         level,
		FilePath:      logPath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false, // stdout/stderr belong to the protocol stream
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	slog.Info("mcp mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
