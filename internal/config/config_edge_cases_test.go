package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Edge case tests for scenarios that could cause silent misconfiguration:
// zero-value merging, boolean toggles, and validation boundaries.

// =============================================================================
// FindProjectRoot Edge Cases
// =============================================================================

func TestFindProjectRoot_DeepNesting_FindsGitRoot(t *testing.T) {
	// Given: a deeply nested directory structure with .git at root
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	deepNested := filepath.Join(tmpDir, "a", "b", "c", "d", "e", "f", "g", "h")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(deepNested, 0o755))

	// When: finding project root from deep nested directory
	root, err := FindProjectRoot(deepNested)

	// Then: git root is returned
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_RelativePath_ResolvesToAbsolute(t *testing.T) {
	// Given: a directory with .git
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))

	oldWd, _ := os.Getwd()
	defer func() { _ = os.Chdir(oldWd) }()
	require.NoError(t, os.Chdir(tmpDir))

	// When: finding project root with relative path
	root, err := FindProjectRoot(".")

	// Then: absolute path is returned
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root), "root should be an absolute path")
	// EvalSymlinks handles /var -> /private/var on macOS.
	expectedRoot, _ := filepath.EvalSymlinks(tmpDir)
	actualRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, expectedRoot, actualRoot)
}

func TestFindProjectRoot_NonExistentDir_StillResolves(t *testing.T) {
	// Given: a path that doesn't exist
	nonExistent := "/nonexistent/path/that/does/not/exist"

	// When: finding project root
	root, err := FindProjectRoot(nonExistent)

	// Then: the absolute path comes back; stat failures just mean
	// no marker was found on the way up
	require.NoError(t, err)
	assert.Equal(t, nonExistent, root)
}

// =============================================================================
// Merge Edge Cases
// =============================================================================

func TestMergeWith_ZeroValueOverlayKeepsDefaults(t *testing.T) {
	// Given: defaults and an entirely empty overlay
	cfg := NewConfig()
	cfg.mergeWith(&Config{})

	// Then: nothing changes
	fresh := NewConfig()
	assert.Equal(t, fresh.Search, cfg.Search)
	assert.Equal(t, fresh.Embeddings.Models, cfg.Embeddings.Models)
	assert.Equal(t, fresh.Lexical, cfg.Lexical)
	assert.Equal(t, fresh.Rarity, cfg.Rarity)
}

func TestMergeWith_ExplicitFalseOverridesEnabledDefault(t *testing.T) {
	// Given: telemetry enabled by default and a file that disables it
	cfg := NewConfig()
	require.True(t, cfg.Telemetry.IsEnabled())

	cfg.mergeWith(&Config{Telemetry: TelemetryConfig{Enabled: boolPtr(false)}})

	// Then: the explicit false survives the merge
	assert.False(t, cfg.Telemetry.IsEnabled())
}

func TestMergeWith_UnsetBoolKeepsDefault(t *testing.T) {
	// Given: an overlay that never mentions telemetry
	cfg := NewConfig()
	cfg.mergeWith(&Config{Server: ServerConfig{LogLevel: "warn"}})

	// Then: telemetry stays enabled
	assert.True(t, cfg.Telemetry.IsEnabled())
	assert.Equal(t, "warn", cfg.Server.LogLevel)
}

func TestMergeWith_ModelListReplacesWholesale(t *testing.T) {
	// Given: defaults with two models and an overlay with one
	cfg := NewConfig()
	cfg.mergeWith(&Config{Embeddings: EmbeddingsConfig{Models: []ModelConfig{
		{Name: "solo", Dimensions: 256, Weight: 1.0, Providers: []string{"static"}},
	}}})

	// Then: only the overlay's model remains
	require.Len(t, cfg.Embeddings.Models, 1)
	assert.Equal(t, "solo", cfg.Embeddings.Models[0].Name)
}

func TestLoad_EnabledFalseInProjectFile_DisablesTelemetry(t *testing.T) {
	// Given: a project config that turns telemetry off
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	configContent := `
version: 1
telemetry:
  enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".loreweave.yaml"), []byte(configContent), 0o644))

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: telemetry is disabled
	require.NoError(t, err)
	assert.False(t, cfg.Telemetry.IsEnabled())
}

// =============================================================================
// Validation Edge Cases
// =============================================================================

func TestValidate_RejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.DataDir = "" },
			wantMsg: "data_dir",
		},
		{
			name:    "model without name",
			mutate:  func(c *Config) { c.Embeddings.Models[0].Name = "" },
			wantMsg: "name must not be empty",
		},
		{
			name: "duplicate model names",
			mutate: func(c *Config) {
				c.Embeddings.Models[1].Name = c.Embeddings.Models[0].Name
			},
			wantMsg: "duplicate model",
		},
		{
			name:    "non-positive dimensions",
			mutate:  func(c *Config) { c.Embeddings.Models[0].Dimensions = 0 },
			wantMsg: "dimensions must be positive",
		},
		{
			name:    "negative weight",
			mutate:  func(c *Config) { c.Embeddings.Models[0].Weight = -0.5 },
			wantMsg: "weight must be positive",
		},
		{
			name:    "empty provider chain",
			mutate:  func(c *Config) { c.Embeddings.Models[0].Providers = nil },
			wantMsg: "at least one provider",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Embeddings.Models[0].Providers = []string{"openai"} },
			wantMsg: "unknown provider",
		},
		{
			name:    "zero default limit",
			mutate:  func(c *Config) { c.Search.DefaultLimit = 0 },
			wantMsg: "default_limit",
		},
		{
			name:    "max limit below default",
			mutate:  func(c *Config) { c.Search.MaxLimit = 5 },
			wantMsg: "max_limit",
		},
		{
			name:    "phrase boost below one",
			mutate:  func(c *Config) { c.Search.PhraseBoost = 0.5 },
			wantMsg: "phrase_boost",
		},
		{
			name:    "entity boost below one",
			mutate:  func(c *Config) { c.Search.EntityBoost = 0.9 },
			wantMsg: "entity_boost",
		},
		{
			name:    "zero oversample",
			mutate:  func(c *Config) { c.Search.Oversample = 0 },
			wantMsg: "oversample",
		},
		{
			name:    "garbage duration",
			mutate:  func(c *Config) { c.Search.StrategyTimeout = "five seconds" },
			wantMsg: "invalid duration",
		},
		{
			name:    "unknown lexical backend",
			mutate:  func(c *Config) { c.Lexical.Backend = "lucene" },
			wantMsg: "lexical.backend",
		},
		{
			name:    "unknown vector backend",
			mutate:  func(c *Config) { c.Vector.Backend = "pinecone" },
			wantMsg: "vector.backend",
		},
		{
			name: "qdrant without host",
			mutate: func(c *Config) {
				c.Vector.Backend = "qdrant"
				c.Vector.Qdrant.Host = ""
			},
			wantMsg: "qdrant.host",
		},
		{
			name: "qdrant port out of range",
			mutate: func(c *Config) {
				c.Vector.Backend = "qdrant"
				c.Vector.Qdrant.Port = 70000
			},
			wantMsg: "qdrant.port",
		},
		{
			name:    "unknown rarity store",
			mutate:  func(c *Config) { c.Rarity.Store = "memcached" },
			wantMsg: "rarity.store",
		},
		{
			name: "redis store without addr",
			mutate: func(c *Config) {
				c.Rarity.Store = "redis"
				c.Rarity.RedisAddr = ""
			},
			wantMsg: "redis_addr",
		},
		{
			name: "oracle enabled without model",
			mutate: func(c *Config) {
				c.Oracle.Enabled = boolPtr(true)
				c.Oracle.Model = ""
			},
			wantMsg: "oracle.model",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Server.Transport = "grpc" },
			wantMsg: "transport",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "trace" },
			wantMsg: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidate_AcceptsBoundaryValues(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.DefaultLimit = 1
	cfg.Search.MaxLimit = 1
	cfg.Search.PhraseBoost = 1.0
	cfg.Search.EntityBoost = 1.0
	cfg.Search.RecencyBoost = 1.0
	cfg.Search.Oversample = 1

	assert.NoError(t, cfg.Validate())
}

func TestValidate_NoModels_IsAllowed(t *testing.T) {
	// A lexical-only deployment configures no embedding models; vector
	// strategies then simply never plan.
	cfg := NewConfig()
	cfg.Embeddings.Models = nil

	assert.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Embeddings.Dimensions())
}

// =============================================================================
// WriteYAML Round Trip
// =============================================================================

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	// Given: a modified config written to a project file
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()

	original := NewConfig()
	original.Story.Protagonist = "Mira Voss"
	original.Search.DefaultLimit = 42
	original.Lexical.Backend = "bleve"
	require.NoError(t, original.WriteYAML(filepath.Join(tmpDir, ".loreweave.yaml")))

	// When: loading from that directory
	loaded, err := Load(tmpDir)

	// Then: the written values survive
	require.NoError(t, err)
	assert.Equal(t, "Mira Voss", loaded.Story.Protagonist)
	assert.Equal(t, 42, loaded.Search.DefaultLimit)
	assert.Equal(t, "bleve", loaded.Lexical.Backend)
}

func TestWriteYAML_CreatesParentDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "deeply", "nested", "config.yaml")

	require.NoError(t, NewConfig().WriteYAML(nested))

	_, err := os.Stat(nested)
	assert.NoError(t, err)
}
