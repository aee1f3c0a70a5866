// Package configs provides embedded configuration templates.
//
// Templates are embedded at build time with go:embed so they ship with
// every distribution. `loreweave config init` writes them out; the
// resolution order they document lives in internal/config.Load:
// built-in defaults, then ~/.config/loreweave/config.yaml, then the
// project's .loreweave.yaml, then LOREWEAVE_* environment variables.
package configs

import _ "embed"

// UserConfigTemplate is the machine-level template written to
// ~/.config/loreweave/config.yaml by `loreweave config init --user`.
// It holds settings shared by every story on this machine, such as the
// Ollama host and backend selection.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the per-story template written to
// .loreweave.yaml at the project root by `loreweave config init`.
// It holds story-specific settings like the protagonist, watch paths
// and fusion weights, and is meant to be version-controlled with the
// story.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
