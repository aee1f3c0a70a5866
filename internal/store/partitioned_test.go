package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testModelDims declares two models sharing one partition and a third in
// its own.
var testModelDims = map[string]int{
	"nomic-embed-text": 4,
	"all-minilm":       2,
	"minilm-clone":     2,
}

func newTestPartitioned(t *testing.T) (*PartitionedVectorStore, *int) {
	t.Helper()

	opens := 0
	var mu sync.Mutex
	p := NewPartitionedVectorStore(testModelDims, func(ctx context.Context, dims int) (VectorStore, error) {
		mu.Lock()
		opens++
		mu.Unlock()
		return NewHNSWStore("", DefaultVectorStoreConfig(dims))
	})
	t.Cleanup(func() { _ = p.Close() })

	return p, &opens
}

func TestPartitionedVectorStore_Route(t *testing.T) {
	p, _ := newTestPartitioned(t)

	dims, err := p.Route("nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, 4, dims)

	dims, err = p.Route("all-minilm")
	require.NoError(t, err)
	assert.Equal(t, 2, dims)

	// Routing is stable across calls
	again, err := p.Route("all-minilm")
	require.NoError(t, err)
	assert.Equal(t, dims, again)

	// Undeclared models are an error, never a fallback partition
	_, err = p.Route("mystery-model")
	var unknownErr ErrUnknownModel
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "mystery-model", unknownErr.Model)
}

func TestPartitionedVectorStore_Dimensions(t *testing.T) {
	p, _ := newTestPartitioned(t)

	assert.Equal(t, []int{2, 4}, p.Dimensions())
}

func TestPartitionedVectorStore_ModelsShareDimensionPartition(t *testing.T) {
	p, opens := newTestPartitioned(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "all-minilm", []*VectorItem{
		{ID: "a", Vector: []float32{1, 0}},
	}))
	require.NoError(t, p.Upsert(ctx, "minilm-clone", []*VectorItem{
		{ID: "b", Vector: []float32{0, 1}},
	}))

	// Both models landed in one lazily opened partition
	assert.Equal(t, 1, *opens)

	counts, err := p.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{2: 2}, counts)
}

func TestPartitionedVectorStore_SearchIsolation(t *testing.T) {
	p, _ := newTestPartitioned(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "nomic-embed-text", []*VectorItem{
		{ID: "wide", Vector: []float32{1, 0, 0, 0}},
	}))
	require.NoError(t, p.Upsert(ctx, "all-minilm", []*VectorItem{
		{ID: "narrow", Vector: []float32{1, 0}},
	}))

	// Each model's search sees only its own partition
	results, err := p.Search(ctx, "nomic-embed-text", []float32{1, 0, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "wide", results[0].ID)

	results, err = p.Search(ctx, "all-minilm", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "narrow", results[0].ID)
}

func TestPartitionedVectorStore_RejectsWrongWidth(t *testing.T) {
	p, _ := newTestPartitioned(t)
	ctx := context.Background()

	// A 2-wide vector cannot enter the 4-dimension partition
	err := p.Upsert(ctx, "nomic-embed-text", []*VectorItem{
		{ID: "bad", Vector: []float32{1, 0}},
	})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)

	_, err = p.Search(ctx, "all-minilm", []float32{1, 0, 0, 0}, 1, nil)
	require.ErrorAs(t, err, &dimErr)

	// Unknown models are rejected before touching any partition
	err = p.Upsert(ctx, "mystery-model", []*VectorItem{
		{ID: "bad", Vector: []float32{1, 0}},
	})
	var unknownErr ErrUnknownModel
	assert.ErrorAs(t, err, &unknownErr)
}

func TestPartitionedVectorStore_DeleteSpansPartitions(t *testing.T) {
	p, _ := newTestPartitioned(t)
	ctx := context.Background()

	// The same passage has vectors in both partitions
	require.NoError(t, p.Upsert(ctx, "nomic-embed-text", []*VectorItem{
		{ID: "s01e01-sc01", Vector: []float32{1, 0, 0, 0}},
	}))
	require.NoError(t, p.Upsert(ctx, "all-minilm", []*VectorItem{
		{ID: "s01e01-sc01", Vector: []float32{1, 0}},
	}))

	require.NoError(t, p.Delete(ctx, []string{"s01e01-sc01"}))

	counts, err := p.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{2: 0, 4: 0}, counts)
}

func TestPartitionedVectorStore_Flush(t *testing.T) {
	p, _ := newTestPartitioned(t)
	ctx := context.Background()

	require.NoError(t, p.Upsert(ctx, "all-minilm", []*VectorItem{
		{ID: "a", Vector: []float32{1, 0}},
	}))

	// Memory-only partitions flush as a no-op
	assert.NoError(t, p.Flush(ctx))
}

func TestPartitionedVectorStore_ClosedErrors(t *testing.T) {
	p, _ := newTestPartitioned(t)
	ctx := context.Background()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Upsert(ctx, "all-minilm", []*VectorItem{{ID: "a", Vector: []float32{1, 0}}})
	assert.Error(t, err)

	_, err = p.Search(ctx, "all-minilm", []float32{1, 0}, 1, nil)
	assert.Error(t, err)
}
