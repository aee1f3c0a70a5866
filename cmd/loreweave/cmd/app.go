package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loreweave/loreweave/internal/alias"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/embed"
	"github.com/loreweave/loreweave/internal/ingest"
	"github.com/loreweave/loreweave/internal/rarity"
	"github.com/loreweave/loreweave/internal/search"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/internal/telemetry"
)

// app holds every constructed component for one CLI invocation.
// Construction order matters: stores first, then the embedding manager,
// then the engine that reads all of them.
type app struct {
	cfg      *config.Config
	lore     *store.SQLiteStore
	lexical  store.LexicalIndex
	vectors  *store.PartitionedVectorStore
	embedder *embed.Manager
	resolver *alias.Resolver
	rarity   *rarity.Manager
	engine   *search.Engine
	pipeline *ingest.Pipeline
	metrics  *telemetry.Collector

	closers []func() error
}

// openApp loads config from the current directory and wires the full
// engine stack on top of the persisted data directory.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	return openAppWithConfig(ctx, cfg)
}

func openAppWithConfig(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.EnsureDataDirs(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	lore, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open lore store: %w", err)
	}
	a.lore = lore
	a.closers = append(a.closers, lore.Close)

	lexical, err := store.NewLexicalIndexWithBackend(
		lexicalBasePath(cfg), cfg.Lexical.Backend)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	a.lexical = lexical
	a.closers = append(a.closers, lexical.Close)

	opener, err := store.NewPartitionOpener(vectorFactoryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	vectors := store.NewPartitionedVectorStore(modelDims(cfg), opener)
	a.vectors = vectors
	a.closers = append(a.closers, vectors.Close)

	embedder, err := embed.NewManager(ctx, cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("start embedding manager: %w", err)
	}
	a.embedder = embedder
	a.closers = append(a.closers, embedder.Close)

	resolver := alias.NewResolver(lore, cfg.Story.Protagonist)
	if err := resolver.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("load entity aliases: %w", err)
	}
	a.resolver = resolver

	artifacts, err := rarity.NewStore(rarityStoreConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("open rarity store: %w", err)
	}
	a.rarity = rarity.NewManager(artifacts, lore, rarity.Config{
		MaxAge:   cfg.Rarity.MaxAgeDuration(),
		PageSize: rarity.DefaultConfig().PageSize,
	})
	// A missing artifact is fine; the rescorer runs with flat weights
	// until the first rebuild.
	_ = a.rarity.Load(ctx)

	analyzer, planner, err := buildPlanning(cfg, embedder, resolver)
	if err != nil {
		return nil, err
	}

	var engineOpts []search.EngineOption
	if cfg.Telemetry.IsEnabled() {
		metricsStore, err := telemetry.NewSQLiteMetricsStore(cfg.TelemetryDBPath())
		if err != nil {
			return nil, fmt.Errorf("open telemetry store: %w", err)
		}
		collector := telemetry.NewCollectorWithConfig(metricsStore, telemetry.Config{
			FlushInterval: cfg.Telemetry.FlushIntervalDuration(),
		})
		a.metrics = collector
		a.closers = append(a.closers, collector.Close)
		engineOpts = append(engineOpts, search.WithMetrics(collector))
	}

	engine, err := search.NewEngine(
		lore, lexical, vectors, embedder, resolver,
		analyzer, planner,
		search.NewRescorer(a.rarity, cfg.Search.PhraseBoost),
		search.NewFuser(cfg.Search, cfg.Embeddings.Weights()),
		cfg.Search,
		engineOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("build search engine: %w", err)
	}
	a.engine = engine

	pipeline, err := ingest.NewPipeline(lore, lexical, vectors, embedder)
	if err != nil {
		return nil, fmt.Errorf("build ingest pipeline: %w", err)
	}
	a.pipeline = pipeline

	ok = true
	return a, nil
}

// buildPlanning returns the analyzer and planner, oracle-wrapped when
// the oracle is enabled. The deterministic pair stays the fallback
// inside both wrappers.
func buildPlanning(cfg *config.Config, embedder *embed.Manager, resolver *alias.Resolver) (search.Analyzer, search.Planner, error) {
	patterns := search.NewPatternAnalyzer(resolver)
	rules := search.NewRulePlanner(embedder.Models(), resolver)

	if !cfg.Oracle.IsEnabled() {
		return patterns, rules, nil
	}

	oracle := search.NewOracle(cfg.Oracle)
	analyzer, err := search.NewOracleAnalyzer(oracle, patterns, cfg.Oracle.CacheSize)
	if err != nil {
		return nil, nil, fmt.Errorf("build oracle analyzer: %w", err)
	}
	return analyzer, search.NewOraclePlanner(oracle, rules), nil
}

// Close releases components in reverse construction order.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// lexicalBasePath is extension-free; the factory appends .db or .bleve.
func lexicalBasePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataPath(), "lexical")
}

func vectorFactoryConfig(cfg *config.Config) store.VectorFactoryConfig {
	fc := store.VectorFactoryConfig{
		Backend: cfg.Vector.Backend,
		DataDir: cfg.VectorDir(),
	}
	if cfg.Vector.Backend == "qdrant" {
		scheme := "http"
		if cfg.Vector.Qdrant.UseTLS {
			scheme = "https"
		}
		fc.QdrantURL = fmt.Sprintf("%s://%s:%d", scheme, cfg.Vector.Qdrant.Host, cfg.Vector.Qdrant.Port)
		fc.CollectionPrefix = cfg.Vector.Qdrant.CollectionPrefix
	}
	return fc
}

func rarityStoreConfig(cfg *config.Config) rarity.StoreConfig {
	sc := rarity.StoreConfig{
		Backend: cfg.Rarity.Store,
		DataDir: cfg.DataPath(),
	}
	if cfg.Rarity.Store == "redis" {
		addr := cfg.Rarity.RedisAddr
		if !strings.Contains(addr, "://") {
			addr = "redis://" + addr
		}
		sc.RedisURL = addr
		sc.RedisKey = cfg.Rarity.RedisKey
	}
	return sc
}

func modelDims(cfg *config.Config) map[string]int {
	dims := make(map[string]int, len(cfg.Embeddings.Models))
	for _, m := range cfg.Embeddings.Models {
		dims[m.Name] = m.Dimensions
	}
	return dims
}
