package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored with every point.
const (
	payloadPassageID = "passage_id"
	payloadSeason    = "season"
	payloadEpisode   = "episode"
)

// qdrantPointNamespace makes point IDs a pure function of the passage ID,
// so re-upserting a passage overwrites its point instead of duplicating it.
var qdrantPointNamespace = uuid.MustParse("9c30a7e4-30b2-4e5f-9d4a-5b8f0e6c1a27")

// QdrantVectorStore implements VectorStore against one Qdrant collection.
// Each collection holds one dimension partition. Unlike the HNSW backend,
// scope filters are evaluated natively by Qdrant.
type QdrantVectorStore struct {
	mu         sync.RWMutex
	client     *qdrant.Client
	collection string
	config     VectorStoreConfig
	closed     bool
}

// Verify interface implementation
var _ VectorStore = (*QdrantVectorStore)(nil)

// NewQdrantVectorStore connects to Qdrant and ensures the collection exists
// with the configured dimensionality. urlStr is the HTTP URL (for example
// "http://localhost:6333"); the gRPC port is derived as HTTP port + 1.
func NewQdrantVectorStore(ctx context.Context, urlStr, collection string, cfg VectorStoreConfig) (*QdrantVectorStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is empty")
	}

	host, port, err := parseQdrantURL(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	s := &QdrantVectorStore{
		client:     client,
		collection: collection,
		config:     cfg,
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return s, nil
}

// parseQdrantURL extracts host and gRPC port from an HTTP URL.
func parseQdrantURL(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	// Default gRPC port; the gRPC port is typically HTTP port + 1
	port := 6334
	if parsedURL.Port() != "" {
		if httpPort, err := strconv.Atoi(parsedURL.Port()); err == nil {
			port = httpPort + 1
		}
	}

	return host, port, nil
}

// ensureCollection creates the collection if missing, or validates that an
// existing collection matches the configured dimensionality.
func (s *QdrantVectorStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
		}
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}

	config := info.Config
	if config == nil || config.Params == nil {
		return fmt.Errorf("collection %s config is invalid", s.collection)
	}
	vectorsConfig := config.Params.GetVectorsConfig()
	if vectorsConfig == nil {
		return fmt.Errorf("collection %s vectors config is invalid", s.collection)
	}
	params := vectorsConfig.GetParams()
	if params == nil {
		return fmt.Errorf("collection %s vector params are invalid", s.collection)
	}

	if int(params.Size) != s.config.Dimensions {
		return fmt.Errorf("collection %s vector size mismatch: expected %d, got %d",
			s.collection, s.config.Dimensions, params.Size)
	}

	return nil
}

// PointID returns the deterministic Qdrant point UUID for a passage ID.
func PointID(passageID string) string {
	return uuid.NewSHA1(qdrantPointNamespace, []byte(passageID)).String()
}

// Upsert inserts vectors, replacing any existing point with the same
// passage ID. Waits for the write so searches observe it immediately.
func (s *QdrantVectorStore) Upsert(ctx context.Context, items []*VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, item := range items {
		if len(item.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(item.Vector),
			}
		}

		// Normalize locally so scores match the HNSW backend exactly
		vec := make([]float32, len(item.Vector))
		copy(vec, item.Vector)
		normalizeVectorInPlace(vec)

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(item.ID)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadPassageID: item.ID,
				payloadSeason:    int64(item.Season),
				payloadEpisode:   int64(item.Episode),
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Search finds the k nearest neighbors. Scope filters become native Qdrant
// must-conditions, so no overfetching is needed.
func (s *QdrantVectorStore) Search(ctx context.Context, query []float32, k int, filter *ScopeFilter) ([]*VectorResult, error) {
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
	if k <= 0 {
		return []*VectorResult{}, nil
	}

	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	normalizeVectorInPlace(normalizedQuery)

	limit := uint64(k)
	queryReq := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(normalizedQuery...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if filter != nil && !filter.Empty() {
		var must []*qdrant.Condition
		if filter.Season > 0 {
			must = append(must, qdrant.NewMatchInt(payloadSeason, int64(filter.Season)))
		}
		if filter.Episode > 0 {
			must = append(must, qdrant.NewMatchInt(payloadEpisode, int64(filter.Episode)))
		}
		if len(must) > 0 {
			queryReq.Filter = &qdrant.Filter{Must: must}
		}
	}

	scoredPoints, err := s.client.Query(ctx, queryReq)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]*VectorResult, 0, len(scoredPoints))
	for _, point := range scoredPoints {
		passageID := passageIDFromPayload(point.Payload)
		if passageID == "" {
			// Point written by something else; skip rather than invent an ID
			continue
		}

		// With cosine distance Qdrant scores are cos(theta) in [-1, 1].
		// Convert to the same distance and similarity the HNSW backend
		// reports: distance = 1 - cos, similarity = (cos + 1) / 2.
		cos := point.Score
		results = append(results, &VectorResult{
			ID:         passageID,
			Distance:   1.0 - cos,
			Similarity: (cos + 1.0) / 2.0,
		})
	}

	return results, nil
}

// passageIDFromPayload extracts the passage ID string from a point payload.
func passageIDFromPayload(payload map[string]*qdrant.Value) string {
	if payload == nil {
		return ""
	}
	v, ok := payload[payloadPassageID]
	if !ok || v == nil {
		return ""
	}
	if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
		return sv.StringValue
	}
	return ""
}

// Delete removes points by passage ID.
func (s *QdrantVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(PointID(id)))
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}

	return nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	exact := true
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}

	return int(count), nil
}

// Flush is a no-op: Qdrant persists server-side.
func (s *QdrantVectorStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close releases the gRPC connection. Idempotent.
func (s *QdrantVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
