// Package store provides the persistence layer: passage and entity records
// in SQLite, lexical full-text indexes (SQLite FTS5 or Bleve), and
// dimension-partitioned vector stores (HNSW or Qdrant).
package store

import (
	"context"
	"fmt"
	"time"
)

// Passage is an immutable unit of narrative text bounded by scene markers.
// Re-ingestion with the same ID replaces the stored passage, never duplicates.
type Passage struct {
	ID        string // derived from the scene marker, e.g. "s01e02-sc03"
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Meta      *PassageMetadata
}

// PassageMetadata carries the structural attributes of a passage.
// Every passage has exactly one metadata row.
type PassageMetadata struct {
	PassageID  string
	Season     int
	Episode    int
	Scene      int
	Slug       string
	Location   string
	Characters []string
	Tags       []string
}

// Embedding is one model's vector for a passage. At most one embedding
// exists per (passage, model); absence is a valid state, not an error.
type Embedding struct {
	PassageID string
	Model     string
	Dims      int
	Vector    []float32
}

// EntityKind classifies structured entity records.
type EntityKind string

const (
	EntityKindCharacter EntityKind = "character"
	EntityKindPlace     EntityKind = "place"
)

// Entity is a structured record for a named narrative entity. Entities are
// mutated only by external authoring flows; the engine reads them.
type Entity struct {
	ID          string
	Kind        EntityKind
	Name        string
	Aliases     []string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Lookup confidence levels, ordered: exact name > alias > fuzzy substring.
const (
	ConfidenceExact = 1.0
	ConfidenceAlias = 0.9
	ConfidenceFuzzy = 0.6
)

// EntityMatch pairs an entity with the confidence of the lookup that found it.
type EntityMatch struct {
	Entity     *Entity
	Confidence float64
}

// ScopeFilter narrows searches to a season and/or episode. Zero means any.
type ScopeFilter struct {
	Season  int
	Episode int
}

// Empty reports whether the filter constrains nothing.
func (f *ScopeFilter) Empty() bool {
	return f == nil || (f.Season == 0 && f.Episode == 0)
}

// Matches reports whether a passage scope satisfies the filter.
func (f *ScopeFilter) Matches(season, episode int) bool {
	if f == nil {
		return true
	}
	if f.Season != 0 && season != f.Season {
		return false
	}
	if f.Episode != 0 && episode != f.Episode {
		return false
	}
	return true
}

// LoreStore persists passages, their metadata and embeddings, and entity
// records. Ingestion writes are transactional per passage: the passage, its
// metadata row, and all embedding rows commit together or not at all.
type LoreStore interface {
	// Passage operations
	SavePassage(ctx context.Context, p *Passage, embeddings []*Embedding) error
	GetPassage(ctx context.Context, id string) (*Passage, error)
	GetPassages(ctx context.Context, ids []string) ([]*Passage, error)
	ListPassages(ctx context.Context, cursor string, limit int) ([]*Passage, string, error)
	DeletePassages(ctx context.Context, ids []string) error
	CountPassages(ctx context.Context) (int, error)

	// Embedding operations (vector partitions are derived indexes,
	// rebuildable from these rows)
	GetEmbeddingsByModel(ctx context.Context, model string) ([]*Embedding, error)
	EmbeddingStats(ctx context.Context) (map[string]int, error)

	// Entity operations
	SaveEntities(ctx context.Context, entities []*Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	ListEntities(ctx context.Context, kind EntityKind) ([]*Entity, error)
	LookupEntities(ctx context.Context, kind EntityKind, candidates []string, limit int) ([]*EntityMatch, error)
	DeleteEntities(ctx context.Context, ids []string) error
	CountEntities(ctx context.Context) (int, error)

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// State keys recorded by ingestion and read by the status surface.
const (
	StateKeyLastIngestAt  = "last_ingest_at"
	StateKeySchemaVersion = "schema_version"
)

// LexicalDoc is a unit of text to index for keyword search.
type LexicalDoc struct {
	ID      string
	Text    string
	Season  int
	Episode int
}

// LexicalResult is a backend-scored keyword search candidate. Backends rank
// by their native full-text scoring; the engine rescores candidates with
// phrase and rarity weighting before fusion.
type LexicalResult struct {
	PassageID    string
	Score        float64
	MatchedTerms []string
}

// LexicalStats provides statistics about a lexical index.
type LexicalStats struct {
	DocumentCount int
}

// LexicalIndex provides keyword search over raw passage text.
type LexicalIndex interface {
	// Index adds documents. Re-indexing an existing ID replaces it.
	Index(ctx context.Context, docs []*LexicalDoc) error

	// Search returns candidates matching any of the keywords, best first.
	// An empty keyword set and backend query-syntax failures both yield
	// empty results, not errors.
	Search(ctx context.Context, keywords []string, filter *ScopeFilter, limit int) ([]*LexicalResult, error)

	// Delete removes documents by ID.
	Delete(ctx context.Context, ids []string) error

	// Stats returns index statistics.
	Stats(ctx context.Context) (*LexicalStats, error)

	Close() error
}

// VectorItem is a vector plus the scope attributes used for filtering.
type VectorItem struct {
	ID      string
	Vector  []float32
	Season  int
	Episode int
}

// VectorResult is a single similarity search hit. Similarity is normalized
// to [0,1] regardless of backend.
type VectorResult struct {
	ID         string
	Distance   float32
	Similarity float32
}

// VectorStore is one similarity partition holding vectors of a single
// dimensionality. Partitions are managed by PartitionedVectorStore.
type VectorStore interface {
	// Upsert inserts vectors. An existing ID is replaced, never duplicated.
	Upsert(ctx context.Context, items []*VectorItem) error

	// Search finds the k nearest neighbors of the query vector.
	Search(ctx context.Context, query []float32, k int, filter *ScopeFilter) ([]*VectorResult, error)

	// Delete removes vectors by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)

	// Flush persists pending state. A no-op for server-backed stores.
	Flush(ctx context.Context) error

	Close() error
}

// VectorStoreConfig configures an HNSW vector partition.
type VectorStoreConfig struct {
	// Dimensions is the vector dimensionality of this partition.
	Dimensions int

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int

	// FilterOverfetch multiplies k when a scope filter is applied, so that
	// post-search filtering still returns up to k hits.
	FilterOverfetch int
}

// DefaultVectorStoreConfig returns sensible defaults for a partition.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:      dimensions,
		M:               16,
		EfSearch:        64,
		FilterOverfetch: 4,
	}
}

// ErrDimensionMismatch indicates a vector's length does not match its
// partition's dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// ErrUnknownModel indicates a model name with no configured dimensionality;
// such a model cannot be routed to a partition.
type ErrUnknownModel struct {
	Model string
}

func (e ErrUnknownModel) Error() string {
	return fmt.Sprintf("unknown embedding model: %q has no configured dimensionality", e.Model)
}
