package rarity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loreweave/loreweave/internal/store"
)

// Status is the dictionary lifecycle state: cold (never built), built
// (fresh), or stale (older than the configured max age). A rebuild
// re-enters built; Info.Rebuilds counts how often that happened.
type Status string

const (
	StatusCold  Status = "cold"
	StatusBuilt Status = "built"
	StatusStale Status = "stale"
)

// PassageSource supplies the corpus to build from. Satisfied by
// store.LoreStore.
type PassageSource interface {
	ListPassages(ctx context.Context, cursor string, limit int) ([]*store.Passage, string, error)
}

// Config tunes the dictionary lifecycle.
type Config struct {
	// MaxAge is the staleness threshold. A dictionary older than this is
	// rebuilt by EnsureFresh.
	MaxAge time.Duration

	// PageSize is how many passages a rebuild scans per page.
	PageSize int
}

// DefaultConfig returns sensible lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		MaxAge:   24 * time.Hour,
		PageSize: 256,
	}
}

// Info is a snapshot of the dictionary lifecycle for status surfaces.
type Info struct {
	Status    Status    `json:"status"`
	Terms     int       `json:"terms"`
	TotalDocs int       `json:"total_docs"`
	BuiltAt   time.Time `json:"built_at"`
	Rebuilds  int64     `json:"rebuilds"`
}

// Manager owns the live dictionary and its rebuild lifecycle. The current
// dictionary sits behind an atomic pointer: queries read whatever is swapped
// in and a rebuild publishes its result only once fully built, so in-flight
// queries never observe a half-built table.
type Manager struct {
	artifacts Store
	source    PassageSource
	config    Config

	current  atomic.Pointer[Dictionary]
	rebuilds atomic.Int64

	// rebuildMu serializes rebuilds; readers never take it.
	rebuildMu sync.Mutex
}

// NewManager creates a manager over an artifact store and a passage source.
// artifacts may be nil, in which case the dictionary lives only in memory.
func NewManager(artifacts Store, source PassageSource, cfg Config) *Manager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	m := &Manager{
		artifacts: artifacts,
		source:    source,
		config:    cfg,
	}
	m.current.Store(&Dictionary{})
	return m
}

// Current returns the live dictionary. Never nil; a cold manager returns an
// empty dictionary that weighs everything at zero.
func (m *Manager) Current() *Dictionary {
	return m.current.Load()
}

// Weight reports the current rarity weight for a normalized term.
func (m *Manager) Weight(term string) float64 {
	return m.Current().Weight(term)
}

// WeightClass reports the current weight class for a normalized term.
func (m *Manager) WeightClass(term string) WeightClass {
	return m.Current().WeightClass(term)
}

// Status reports the lifecycle state of the live dictionary.
func (m *Manager) Status() Status {
	return m.statusOf(m.Current())
}

func (m *Manager) statusOf(d *Dictionary) Status {
	switch {
	case d.BuiltAt().IsZero():
		return StatusCold
	case time.Since(d.BuiltAt()) > m.config.MaxAge:
		return StatusStale
	default:
		return StatusBuilt
	}
}

// Info returns a lifecycle snapshot for status output.
func (m *Manager) Info() Info {
	d := m.Current()
	return Info{
		Status:    m.statusOf(d),
		Terms:     d.Len(),
		TotalDocs: d.TotalDocs(),
		BuiltAt:   d.BuiltAt(),
		Rebuilds:  m.rebuilds.Load(),
	}
}

// Load restores the dictionary from the artifact store, if an artifact
// exists. A missing artifact leaves the manager cold.
func (m *Manager) Load(ctx context.Context) error {
	if m.artifacts == nil {
		return nil
	}
	artifact, err := m.artifacts.Load(ctx)
	if err != nil {
		return err
	}
	if artifact == nil {
		return nil
	}
	m.current.Store(FromArtifact(artifact))
	slog.Debug("rarity_dictionary_loaded",
		slog.Int("terms", len(artifact.Terms)),
		slog.Int("total_docs", artifact.TotalDocs),
		slog.Time("built_at", artifact.BuiltAt))
	return nil
}

// Rebuild scans the full corpus, builds a fresh dictionary, persists it, and
// swaps it in. Concurrent rebuilds serialize; concurrent readers keep the
// previous dictionary until the swap.
func (m *Manager) Rebuild(ctx context.Context) (*Dictionary, error) {
	m.rebuildMu.Lock()
	defer m.rebuildMu.Unlock()

	start := time.Now()
	dict, err := BuildFromPassages(ctx, m.source, m.config.PageSize)
	if err != nil {
		return nil, err
	}
	if m.artifacts != nil {
		if err := m.artifacts.Save(ctx, dict.Artifact()); err != nil {
			return nil, err
		}
	}
	m.current.Store(dict)
	m.rebuilds.Add(1)
	slog.Info("rarity_dictionary_rebuilt",
		slog.Int("terms", dict.Len()),
		slog.Int("total_docs", dict.TotalDocs()),
		slog.Duration("took", time.Since(start)))
	return dict, nil
}

// EnsureFresh returns the live dictionary, rebuilding first when it is cold
// or stale. Query paths should use Current instead and leave rebuilds to
// ingestion and the rebuild command, so a stale dictionary never adds
// rebuild latency to a search.
func (m *Manager) EnsureFresh(ctx context.Context) (*Dictionary, error) {
	if m.Status() == StatusBuilt {
		return m.Current(), nil
	}
	return m.Rebuild(ctx)
}

// BuildFromPassages pages through the corpus and builds a dictionary from
// per-passage unique tokens.
func BuildFromPassages(ctx context.Context, source PassageSource, pageSize int) (*Dictionary, error) {
	if source == nil {
		return nil, fmt.Errorf("no passage source configured")
	}
	if pageSize <= 0 {
		pageSize = DefaultConfig().PageSize
	}

	stats := CorpusStats{DocFreq: make(map[string]int)}
	cursor := ""
	for {
		passages, next, err := source.ListPassages(ctx, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to scan passages: %w", err)
		}
		for _, p := range passages {
			stats.TotalDocs++
			for _, term := range store.UniqueTokens(p.Text) {
				stats.DocFreq[term]++
			}
		}
		if next == "" || len(passages) == 0 {
			break
		}
		cursor = next
	}
	return Build(stats), nil
}
