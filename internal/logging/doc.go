// Package logging provides file-based logging with rotation for loreweave.
// Logs are written as JSON lines to the project's .loreweave/logs directory,
// falling back to ~/.loreweave/logs when no project is resolved.
//
// In MCP server mode stdout carries JSON-RPC exclusively, so logging goes
// to file only and never to stdout or stderr.
package logging
