// Package config loads and validates loreweave configuration.
//
// Configuration is resolved in four layers, each overriding the last:
// built-in defaults, the user config (~/.config/loreweave/config.yaml),
// the project config (.loreweave.yaml at the project root), and
// LOREWEAVE_* environment variables. The resulting Config value is
// treated as immutable: constructors receive it by pointer and never
// write through it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	loreerr "github.com/loreweave/loreweave/internal/errors"
)

const (
	// ConfigVersion is the current schema version written by config init.
	ConfigVersion = 1

	// ProjectConfigName is the per-project config file at the project root.
	ProjectConfigName = ".loreweave.yaml"

	// DefaultDataDir holds the databases, vector indexes and logs,
	// relative to the project root unless overridden with an absolute path.
	DefaultDataDir = ".loreweave"
)

// Config is the root configuration for the retrieval engine.
type Config struct {
	Version int    `yaml:"version" json:"version"`
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Story      StoryConfig      `yaml:"story" json:"story"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Lexical    LexicalConfig    `yaml:"lexical" json:"lexical"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Rarity     RarityConfig     `yaml:"rarity" json:"rarity"`
	Oracle     OracleConfig     `yaml:"oracle" json:"oracle"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`

	// ProjectRoot is resolved by Load and never serialized.
	ProjectRoot string `yaml:"-" json:"-"`
}

// StoryConfig describes the narrative corpus being indexed.
type StoryConfig struct {
	// Protagonist is the canonical entity name that first-person
	// pronouns in queries resolve to. Empty disables pronoun mapping.
	Protagonist string `yaml:"protagonist" json:"protagonist"`

	// WatchPaths are directories scanned by watch mode for new or
	// edited story files.
	WatchPaths []string `yaml:"watch_paths" json:"watch_paths"`

	// Extensions restricts watch mode to matching files.
	Extensions []string `yaml:"extensions" json:"extensions"`

	// WatchDebounce batches rapid file events before re-ingesting.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// ModelConfig declares one embedding model the engine may use.
type ModelConfig struct {
	Name string `yaml:"name" json:"name"`

	// Dimensions is the declared output dimensionality. It selects the
	// vector partition every embedding of this model is routed to.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Weight is this model's share in cross-model score fusion.
	Weight float64 `yaml:"weight" json:"weight"`

	// Providers is the ordered fallback chain tried for this model.
	// Valid entries: "ollama", "static".
	Providers []string `yaml:"providers" json:"providers"`
}

// EmbeddingsConfig configures the embedding manager.
type EmbeddingsConfig struct {
	Models         []ModelConfig `yaml:"models" json:"models"`
	OllamaHost     string        `yaml:"ollama_host" json:"ollama_host"`
	CacheSize      int           `yaml:"cache_size" json:"cache_size"`
	RequestTimeout string        `yaml:"request_timeout" json:"request_timeout"`
}

// SearchConfig tunes planning, scoring and fusion.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int `yaml:"max_limit" json:"max_limit"`

	// PhraseBoost multiplies lexical relevance when the full query
	// phrase occurs verbatim in a passage. Must be >= 1.
	PhraseBoost float64 `yaml:"phrase_boost" json:"phrase_boost"`

	// EntityBoost multiplies the fused score when a result's entity
	// kind matches the query type or its text mentions an alias of a
	// query entity.
	EntityBoost float64 `yaml:"entity_boost" json:"entity_boost"`

	// RecencyBoost multiplies the fused score for passages updated
	// within RecencyWindow.
	RecencyBoost  float64 `yaml:"recency_boost" json:"recency_boost"`
	RecencyWindow string  `yaml:"recency_window" json:"recency_window"`

	// Oversample is the candidate multiplier lexical backends use
	// before rarity rescoring truncates to the requested limit.
	Oversample int `yaml:"oversample" json:"oversample"`

	// StrategyTimeout bounds each search strategy independently.
	StrategyTimeout string `yaml:"strategy_timeout" json:"strategy_timeout"`
}

// LexicalConfig selects the keyword index backend.
type LexicalConfig struct {
	// Backend is "sqlite" (FTS5) or "bleve".
	Backend string `yaml:"backend" json:"backend"`
}

// VectorConfig selects the vector store backend.
type VectorConfig struct {
	// Backend is "hnsw" (embedded) or "qdrant" (remote).
	Backend string       `yaml:"backend" json:"backend"`
	Qdrant  QdrantConfig `yaml:"qdrant" json:"qdrant"`
}

// QdrantConfig holds connection settings for the qdrant backend.
type QdrantConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	APIKey string `yaml:"api_key" json:"api_key"`
	UseTLS bool   `yaml:"use_tls" json:"use_tls"`

	// CollectionPrefix prefixes the per-dimension collection names,
	// e.g. "loreweave" yields loreweave_768.
	CollectionPrefix string `yaml:"collection_prefix" json:"collection_prefix"`
}

// RarityConfig controls the term rarity dictionary.
type RarityConfig struct {
	// Store is "file" or "redis".
	Store string `yaml:"store" json:"store"`

	// MaxAge marks a built dictionary stale once the artifact is older
	// than this duration.
	MaxAge string `yaml:"max_age" json:"max_age"`

	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	RedisKey  string `yaml:"redis_key" json:"redis_key"`
}

// OracleConfig configures the optional LLM query analyzer. The
// deterministic analyzer always runs; the oracle only refines it.
type OracleConfig struct {
	Enabled   *bool  `yaml:"enabled" json:"enabled"`
	Host      string `yaml:"host" json:"host"`
	Model     string `yaml:"model" json:"model"`
	Timeout   string `yaml:"timeout" json:"timeout"`
	CacheSize int    `yaml:"cache_size" json:"cache_size"`
}

// ServerConfig configures the MCP server surface.
type ServerConfig struct {
	// Transport is "stdio" or "http".
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig controls local query metrics collection.
type TelemetryConfig struct {
	Enabled       *bool  `yaml:"enabled" json:"enabled"`
	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: ConfigVersion,
		DataDir: DefaultDataDir,
		Story: StoryConfig{
			Extensions:    []string{".md", ".txt"},
			WatchDebounce: "2s",
		},
		Embeddings: EmbeddingsConfig{
			Models: []ModelConfig{
				{Name: "nomic-embed-text", Dimensions: 768, Weight: 0.6, Providers: []string{"ollama", "static"}},
				{Name: "all-minilm", Dimensions: 384, Weight: 0.4, Providers: []string{"ollama", "static"}},
			},
			OllamaHost:     "http://localhost:11434",
			CacheSize:      2048,
			RequestTimeout: "30s",
		},
		Search: SearchConfig{
			DefaultLimit:    10,
			MaxLimit:        100,
			PhraseBoost:     2.0,
			EntityBoost:     1.25,
			RecencyBoost:    1.1,
			RecencyWindow:   "720h",
			Oversample:      3,
			StrategyTimeout: "5s",
		},
		Lexical: LexicalConfig{Backend: "sqlite"},
		Vector: VectorConfig{
			Backend: "hnsw",
			Qdrant: QdrantConfig{
				Host:             "localhost",
				Port:             6334,
				CollectionPrefix: "loreweave",
			},
		},
		Rarity: RarityConfig{
			Store:     "file",
			MaxAge:    "24h",
			RedisAddr: "localhost:6379",
			RedisKey:  "loreweave:rarity",
		},
		Oracle: OracleConfig{
			Host:      "http://localhost:11434",
			Model:     "llama3.2:3b",
			Timeout:   "10s",
			CacheSize: 512,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:       boolPtr(true),
			FlushInterval: "30s",
		},
	}
}

// Load resolves configuration starting from startDir. Missing user and
// project config files are not errors; a file that exists but fails to
// parse or validate is.
func Load(startDir string) (*Config, error) {
	cfg := NewConfig()

	root, err := FindProjectRoot(startDir)
	if err != nil {
		return nil, loreerr.ConfigError("resolving project root", err)
	}
	cfg.ProjectRoot = root

	if path := GetUserConfigPath(); path != "" {
		user, err := loadYAML(path)
		switch {
		case err == nil:
			cfg.mergeWith(user)
		case os.IsNotExist(err):
			// No user config is the common case.
		default:
			return nil, loreerr.ConfigError(fmt.Sprintf("loading user config %s", path), err)
		}
	}

	projectPath := findProjectConfig(root)
	project, err := loadYAML(projectPath)
	switch {
	case err == nil:
		cfg.mergeWith(project)
	case os.IsNotExist(err):
	default:
		return nil, loreerr.ConfigError(fmt.Sprintf("loading project config %s", projectPath), err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, loreerr.ConfigError("invalid configuration", err).
			WithSuggestion("Fix the reported field in .loreweave.yaml, or run 'loreweave config init' to regenerate defaults")
	}

	return cfg, nil
}

// findProjectConfig prefers .loreweave.yaml and falls back to the .yml
// spelling when only that exists.
func findProjectConfig(root string) string {
	primary := filepath.Join(root, ProjectConfigName)
	if _, err := os.Stat(primary); err == nil {
		return primary
	}
	alt := filepath.Join(root, ".loreweave.yml")
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return primary
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeWith overlays non-zero fields from other onto c. Lists replace
// wholesale rather than appending, so a project config can narrow the
// model set. Boolean toggles use pointers to distinguish "set to false"
// from "not set".
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Story.Protagonist != "" {
		c.Story.Protagonist = other.Story.Protagonist
	}
	if len(other.Story.WatchPaths) > 0 {
		c.Story.WatchPaths = other.Story.WatchPaths
	}
	if len(other.Story.Extensions) > 0 {
		c.Story.Extensions = other.Story.Extensions
	}
	if other.Story.WatchDebounce != "" {
		c.Story.WatchDebounce = other.Story.WatchDebounce
	}

	if len(other.Embeddings.Models) > 0 {
		c.Embeddings.Models = other.Embeddings.Models
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.RequestTimeout != "" {
		c.Embeddings.RequestTimeout = other.Embeddings.RequestTimeout
	}

	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.PhraseBoost != 0 {
		c.Search.PhraseBoost = other.Search.PhraseBoost
	}
	if other.Search.EntityBoost != 0 {
		c.Search.EntityBoost = other.Search.EntityBoost
	}
	if other.Search.RecencyBoost != 0 {
		c.Search.RecencyBoost = other.Search.RecencyBoost
	}
	if other.Search.RecencyWindow != "" {
		c.Search.RecencyWindow = other.Search.RecencyWindow
	}
	if other.Search.Oversample != 0 {
		c.Search.Oversample = other.Search.Oversample
	}
	if other.Search.StrategyTimeout != "" {
		c.Search.StrategyTimeout = other.Search.StrategyTimeout
	}

	if other.Lexical.Backend != "" {
		c.Lexical.Backend = other.Lexical.Backend
	}

	if other.Vector.Backend != "" {
		c.Vector.Backend = other.Vector.Backend
	}
	if other.Vector.Qdrant.Host != "" {
		c.Vector.Qdrant.Host = other.Vector.Qdrant.Host
	}
	if other.Vector.Qdrant.Port != 0 {
		c.Vector.Qdrant.Port = other.Vector.Qdrant.Port
	}
	if other.Vector.Qdrant.APIKey != "" {
		c.Vector.Qdrant.APIKey = other.Vector.Qdrant.APIKey
	}
	if other.Vector.Qdrant.UseTLS {
		c.Vector.Qdrant.UseTLS = true
	}
	if other.Vector.Qdrant.CollectionPrefix != "" {
		c.Vector.Qdrant.CollectionPrefix = other.Vector.Qdrant.CollectionPrefix
	}

	if other.Rarity.Store != "" {
		c.Rarity.Store = other.Rarity.Store
	}
	if other.Rarity.MaxAge != "" {
		c.Rarity.MaxAge = other.Rarity.MaxAge
	}
	if other.Rarity.RedisAddr != "" {
		c.Rarity.RedisAddr = other.Rarity.RedisAddr
	}
	if other.Rarity.RedisKey != "" {
		c.Rarity.RedisKey = other.Rarity.RedisKey
	}

	if other.Oracle.Enabled != nil {
		c.Oracle.Enabled = other.Oracle.Enabled
	}
	if other.Oracle.Host != "" {
		c.Oracle.Host = other.Oracle.Host
	}
	if other.Oracle.Model != "" {
		c.Oracle.Model = other.Oracle.Model
	}
	if other.Oracle.Timeout != "" {
		c.Oracle.Timeout = other.Oracle.Timeout
	}
	if other.Oracle.CacheSize != 0 {
		c.Oracle.CacheSize = other.Oracle.CacheSize
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	if other.Telemetry.Enabled != nil {
		c.Telemetry.Enabled = other.Telemetry.Enabled
	}
	if other.Telemetry.FlushInterval != "" {
		c.Telemetry.FlushInterval = other.Telemetry.FlushInterval
	}
}

// applyEnvOverrides applies LOREWEAVE_* environment variables. Env wins
// over every file layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LOREWEAVE_DATA_DIR"); v != "" {
		c.DataDir = expandPath(v)
	}
	if v := os.Getenv("LOREWEAVE_PROTAGONIST"); v != "" {
		c.Story.Protagonist = v
	}
	if v := os.Getenv("LOREWEAVE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("LOREWEAVE_LEXICAL_BACKEND"); v != "" {
		c.Lexical.Backend = v
	}
	if v := os.Getenv("LOREWEAVE_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = v
	}
	if v := os.Getenv("LOREWEAVE_QDRANT_HOST"); v != "" {
		c.Vector.Qdrant.Host = v
	}
	if v := os.Getenv("LOREWEAVE_QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Vector.Qdrant.Port = port
		}
	}
	if v := os.Getenv("LOREWEAVE_QDRANT_API_KEY"); v != "" {
		c.Vector.Qdrant.APIKey = v
	}
	if v := os.Getenv("LOREWEAVE_RARITY_STORE"); v != "" {
		c.Rarity.Store = v
	}
	if v := os.Getenv("LOREWEAVE_REDIS_ADDR"); v != "" {
		c.Rarity.RedisAddr = v
	}
	if v := os.Getenv("LOREWEAVE_ORACLE_ENABLED"); v != "" {
		c.Oracle.Enabled = boolPtr(envBool(v))
	}
	if v := os.Getenv("LOREWEAVE_ORACLE_HOST"); v != "" {
		c.Oracle.Host = v
	}
	if v := os.Getenv("LOREWEAVE_ORACLE_MODEL"); v != "" {
		c.Oracle.Model = v
	}
	if v := os.Getenv("LOREWEAVE_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("LOREWEAVE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("LOREWEAVE_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = boolPtr(envBool(v))
	}
	if envBool(os.Getenv("LOREWEAVE_DEBUG")) {
		c.Server.LogLevel = "debug"
	}
}

// Validate checks field-level constraints. It returns the first
// violation so the user sees one actionable message at a time.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	seen := make(map[string]bool, len(c.Embeddings.Models))
	for i, m := range c.Embeddings.Models {
		if m.Name == "" {
			return fmt.Errorf("embeddings.models[%d].name must not be empty", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("embeddings.models: duplicate model %q", m.Name)
		}
		seen[m.Name] = true
		if m.Dimensions <= 0 {
			return fmt.Errorf("embeddings.models[%s].dimensions must be positive, got %d", m.Name, m.Dimensions)
		}
		if m.Weight <= 0 {
			return fmt.Errorf("embeddings.models[%s].weight must be positive, got %g", m.Name, m.Weight)
		}
		if len(m.Providers) == 0 {
			return fmt.Errorf("embeddings.models[%s].providers must list at least one provider", m.Name)
		}
		for _, p := range m.Providers {
			if p != "ollama" && p != "static" {
				return fmt.Errorf("embeddings.models[%s]: unknown provider %q (valid: ollama, static)", m.Name, p)
			}
		}
	}

	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("search.default_limit must be at least 1, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search.max_limit (%d) must be >= search.default_limit (%d)", c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if c.Search.PhraseBoost < 1 {
		return fmt.Errorf("search.phrase_boost must be >= 1, got %g", c.Search.PhraseBoost)
	}
	if c.Search.EntityBoost < 1 {
		return fmt.Errorf("search.entity_boost must be >= 1, got %g", c.Search.EntityBoost)
	}
	if c.Search.RecencyBoost < 1 {
		return fmt.Errorf("search.recency_boost must be >= 1, got %g", c.Search.RecencyBoost)
	}
	if c.Search.Oversample < 1 {
		return fmt.Errorf("search.oversample must be at least 1, got %d", c.Search.Oversample)
	}

	durations := []struct {
		field string
		value string
	}{
		{"story.watch_debounce", c.Story.WatchDebounce},
		{"embeddings.request_timeout", c.Embeddings.RequestTimeout},
		{"search.recency_window", c.Search.RecencyWindow},
		{"search.strategy_timeout", c.Search.StrategyTimeout},
		{"rarity.max_age", c.Rarity.MaxAge},
		{"oracle.timeout", c.Oracle.Timeout},
		{"telemetry.flush_interval", c.Telemetry.FlushInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", d.field, d.value)
		}
	}

	switch c.Lexical.Backend {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("lexical.backend must be sqlite or bleve, got %q", c.Lexical.Backend)
	}

	switch c.Vector.Backend {
	case "hnsw":
	case "qdrant":
		if c.Vector.Qdrant.Host == "" {
			return fmt.Errorf("vector.qdrant.host is required when vector.backend is qdrant")
		}
		if c.Vector.Qdrant.Port < 1 || c.Vector.Qdrant.Port > 65535 {
			return fmt.Errorf("vector.qdrant.port must be in 1..65535, got %d", c.Vector.Qdrant.Port)
		}
	default:
		return fmt.Errorf("vector.backend must be hnsw or qdrant, got %q", c.Vector.Backend)
	}

	switch c.Rarity.Store {
	case "file":
	case "redis":
		if c.Rarity.RedisAddr == "" {
			return fmt.Errorf("rarity.redis_addr is required when rarity.store is redis")
		}
	default:
		return fmt.Errorf("rarity.store must be file or redis, got %q", c.Rarity.Store)
	}

	if c.Oracle.IsEnabled() {
		if c.Oracle.Model == "" {
			return fmt.Errorf("oracle.model is required when oracle.enabled is true")
		}
		if c.Oracle.Host == "" {
			return fmt.Errorf("oracle.host is required when oracle.enabled is true")
		}
	}

	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("server.transport must be stdio or http, got %q", c.Server.Transport)
	}

	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be one of debug, info, warn, error, got %q", c.Server.LogLevel)
	}

	return nil
}

// DataPath returns the absolute data directory.
func (c *Config) DataPath() string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	if c.ProjectRoot == "" {
		return c.DataDir
	}
	return filepath.Join(c.ProjectRoot, c.DataDir)
}

// DBPath returns the sqlite database holding passages, entities,
// embeddings and the FTS index.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataPath(), "lore.db")
}

// VectorDir returns the directory for hnsw partition files.
func (c *Config) VectorDir() string {
	return filepath.Join(c.DataPath(), "vectors")
}

// BleveDir returns the bleve index directory.
func (c *Config) BleveDir() string {
	return filepath.Join(c.DataPath(), "bleve")
}

// RarityPath returns the file-store rarity dictionary artifact.
func (c *Config) RarityPath() string {
	return filepath.Join(c.DataPath(), "rarity.json")
}

// LogDir returns the log directory.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataPath(), "logs")
}

// TelemetryDBPath returns the local query metrics database.
func (c *Config) TelemetryDBPath() string {
	return filepath.Join(c.DataPath(), "telemetry.db")
}

// EnsureDataDirs creates the data directory tree.
func (c *Config) EnsureDataDirs() error {
	for _, dir := range []string{c.DataPath(), c.VectorDir(), c.LogDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return loreerr.StorageError(fmt.Sprintf("creating %s", dir), err)
		}
	}
	return nil
}

// WriteYAML serializes c to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Model returns the configuration for the named model.
func (e EmbeddingsConfig) Model(name string) (ModelConfig, bool) {
	for _, m := range e.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// ModelNames returns configured model names in declaration order.
func (e EmbeddingsConfig) ModelNames() []string {
	names := make([]string, len(e.Models))
	for i, m := range e.Models {
		names[i] = m.Name
	}
	return names
}

// Dimensions returns the distinct declared dimensionalities, ascending.
// Each one maps to a vector store partition.
func (e EmbeddingsConfig) Dimensions() []int {
	set := make(map[int]bool, len(e.Models))
	for _, m := range e.Models {
		set[m.Dimensions] = true
	}
	dims := make([]int, 0, len(set))
	for d := range set {
		dims = append(dims, d)
	}
	sort.Ints(dims)
	return dims
}

// Weights returns the fusion weight per model name.
func (e EmbeddingsConfig) Weights() map[string]float64 {
	w := make(map[string]float64, len(e.Models))
	for _, m := range e.Models {
		w[m.Name] = m.Weight
	}
	return w
}

func (e EmbeddingsConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(e.RequestTimeout, 30*time.Second)
}

func (s SearchConfig) StrategyTimeoutDuration() time.Duration {
	return parseDurationOr(s.StrategyTimeout, 5*time.Second)
}

func (s SearchConfig) RecencyWindowDuration() time.Duration {
	return parseDurationOr(s.RecencyWindow, 720*time.Hour)
}

func (s StoryConfig) WatchDebounceDuration() time.Duration {
	return parseDurationOr(s.WatchDebounce, 2*time.Second)
}

func (r RarityConfig) MaxAgeDuration() time.Duration {
	return parseDurationOr(r.MaxAge, 24*time.Hour)
}

// IsEnabled reports whether the oracle analyzer should be consulted.
// Disabled by default.
func (o OracleConfig) IsEnabled() bool {
	return o.Enabled != nil && *o.Enabled
}

func (o OracleConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(o.Timeout, 10*time.Second)
}

// IsEnabled reports whether query metrics are recorded. Enabled by
// default.
func (t TelemetryConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

func (t TelemetryConfig) FlushIntervalDuration() time.Duration {
	return parseDurationOr(t.FlushInterval, 30*time.Second)
}

// FindProjectRoot walks up from startDir looking for a project marker:
// a .loreweave.yaml file, a .loreweave data directory, or a .git
// directory. If none is found it returns startDir unchanged, so a fresh
// directory still works.
func FindProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", startDir, err)
	}

	dir := abs
	for {
		if isProjectRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	for _, marker := range []string{ProjectConfigName, ".loreweave.yml", DefaultDataDir, ".git"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// GetUserConfigDir returns the per-user config directory, honoring
// XDG_CONFIG_HOME. Empty when the home directory cannot be determined.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "loreweave")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "loreweave")
}

// GetUserConfigPath returns the per-user config file path.
func GetUserConfigPath() string {
	dir := GetUserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// UserConfigExists reports whether a per-user config file is present.
func UserConfigExists() bool {
	path := GetUserConfigPath()
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func envBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func boolPtr(b bool) *bool {
	return &b
}
