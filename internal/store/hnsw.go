package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
)

// HNSWStore implements VectorStore using the coder/hnsw pure Go HNSW
// implementation. Each store holds one dimension partition; a passage's
// scope travels with its vector so searches can filter without a second
// store round-trip.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig
	path   string

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64 // string ID -> internal key
	keyMap  map[uint64]string // internal key -> string ID
	nextKey uint64            // next available key

	// Scope metadata per internal key, for post-search filtering.
	scopes map[uint64]vectorScope

	closed bool
}

// vectorScope is the filterable metadata carried alongside each vector.
type vectorScope struct {
	Season  int
	Episode int
}

// hnswMetadata stores ID mappings and scopes for persistence.
type hnswMetadata struct {
	IDMap   map[string]uint64
	Scopes  map[uint64]vectorScope
	NextKey uint64
	Config  VectorStoreConfig
}

// Verify interface implementation
var _ VectorStore = (*HNSWStore)(nil)

// NewHNSWStore creates an HNSW vector store persisted at path. If the file
// exists it is loaded; an unreadable or mismatched file is cleared and the
// store starts empty (vectors are derived state rebuildable from the lore
// database). An empty path keeps the store in memory for testing.
func NewHNSWStore(path string, cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16 // coder/hnsw default recommendation
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	if cfg.FilterOverfetch == 0 {
		cfg.FilterOverfetch = 4
	}

	s := &HNSWStore{
		config: cfg,
		path:   path,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		scopes: make(map[uint64]vectorScope),
	}
	s.resetGraph()

	if path != "" && fileExists(path) {
		if err := s.load(path); err != nil {
			slog.Warn("vector_partition_unreadable",
				slog.String("path", path),
				slog.String("error", err.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("vector partition corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, err)
			}
			_ = os.Remove(path + ".meta")

			slog.Info("vector_partition_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))

			// Start fresh
			s.idMap = make(map[string]uint64)
			s.keyMap = make(map[uint64]string)
			s.scopes = make(map[uint64]vectorScope)
			s.nextKey = 0
			s.resetGraph()
		}
	}

	return s, nil
}

// resetGraph replaces the graph with an empty one using the configured
// parameters. Cosine distance throughout: embeddings are unit vectors.
func (s *HNSWStore) resetGraph() {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25 // default level generation factor (1/ln(M))
	s.graph = graph
}

// Upsert inserts vectors, replacing any existing entry with the same ID so
// a passage never has more than one vector per partition.
func (s *HNSWStore) Upsert(ctx context.Context, items []*VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	// Validate dimensions before mutating anything
	for _, item := range items {
		if len(item.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(item.Vector),
			}
		}
	}

	for _, item := range items {
		// If the ID exists, use lazy deletion (update mappings, leave the
		// node in the graph). Deleting the last node breaks coder/hnsw.
		if existingKey, exists := s.idMap[item.ID]; exists {
			delete(s.keyMap, existingKey) // orphan the old key
			delete(s.scopes, existingKey)
			delete(s.idMap, item.ID)
		}

		key := s.nextKey
		s.nextKey++

		// Normalize for cosine similarity
		vec := make([]float32, len(item.Vector))
		copy(vec, item.Vector)
		normalizeVectorInPlace(vec)

		node := hnsw.MakeNode(key, vec)
		s.graph.Add(node)

		s.idMap[item.ID] = key
		s.keyMap[key] = item.ID
		s.scopes[key] = vectorScope{Season: item.Season, Episode: item.Episode}
	}

	return nil
}

// Search finds the k nearest neighbors of the query vector. HNSW has no
// native filtering, so scoped searches overfetch and filter on the scope
// metadata carried with each vector.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int, filter *ScopeFilter) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	if s.graph.Len() == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	// Normalize query for cosine similarity
	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	normalizeVectorInPlace(normalizedQuery)

	fetchK := k
	filtered := filter != nil && !filter.Empty()
	if filtered {
		fetchK = k * s.config.FilterOverfetch
	}

	nodes := s.graph.Search(normalizedQuery, fetchK)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Lazy-deleted orphan
			continue
		}
		if filtered {
			scope := s.scopes[node.Key]
			if !filter.Matches(scope.Season, scope.Episode) {
				continue
			}
		}

		distance := s.graph.Distance(normalizedQuery, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			// Cosine distance ranges 0 (identical) to 2 (opposite);
			// map onto [0, 1] with 1 meaning identical.
			Similarity: 1.0 - distance/2.0,
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes vectors by ID. Lazy deletion: the mappings are dropped
// and the graph node is orphaned.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.scopes, key)
			delete(s.idMap, id)
		}
	}

	return nil
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	return len(s.idMap), nil
}

// Flush persists the graph and its metadata to disk atomically (temp file
// plus rename), guarded by a file lock so concurrent processes cannot
// interleave saves. A memory-only store flushes as a no-op.
func (s *HNSWStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if s.path == "" {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileLock := flock.New(s.path + ".lock")
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire save lock: %w", err)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn("failed to release save lock", slog.String("error", err.Error()))
		}
	}()

	// Export the graph to a temp file
	tmpIndexPath := s.path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	// Rename to final path (atomic on most filesystems)
	if err := os.Rename(tmpIndexPath, s.path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(s.path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

// saveMetadata saves ID mappings and scopes to a gob file.
func (s *HNSWStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		Scopes:  s.scopes,
		NextKey: s.nextKey,
		Config:  s.config,
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// load restores the graph and its metadata from disk.
func (s *HNSWStore) load(path string) error {
	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// Use bufio.Reader because coder/hnsw Import requires io.ByteReader
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	return nil
}

// loadMetadata loads ID mappings and scopes from a gob file.
func (s *HNSWStore) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata

	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	// A partition file has one dimensionality for life
	if meta.Config.Dimensions != s.config.Dimensions {
		return fmt.Errorf("dimension mismatch: partition has %d, store configured for %d",
			meta.Config.Dimensions, s.config.Dimensions)
	}

	// Rebuild mappings
	s.idMap = meta.IDMap
	s.scopes = meta.Scopes
	s.nextKey = meta.NextKey

	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	if s.scopes == nil {
		s.scopes = make(map[uint64]vectorScope)
	}

	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases resources without saving. Callers flush explicitly.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	// coder/hnsw Graph doesn't need explicit cleanup
	s.graph = nil

	return nil
}

// ReadHNSWDimensions reads the dimensions from an existing partition's
// metadata. Returns 0 if the metadata file doesn't exist (fresh start).
func ReadHNSWDimensions(vectorPath string) (int, error) {
	metaPath := vectorPath + ".meta"

	file, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // Fresh start
		}
		return 0, fmt.Errorf("failed to open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode hnsw metadata: %w", err)
	}

	return meta.Config.Dimensions, nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
