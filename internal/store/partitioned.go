package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// PartitionOpener opens the vector store backing one dimension partition.
// Opening may be a network call (Qdrant creates its collection here), so it
// takes a context.
type PartitionOpener func(ctx context.Context, dims int) (VectorStore, error)

// PartitionedVectorStore routes each embedding model's vectors to a store
// partition keyed by dimensionality. Models declaring the same
// dimensionality share a partition; a vector can never land in a partition
// of the wrong width. Partitions open lazily on first use.
type PartitionedVectorStore struct {
	mu         sync.Mutex
	modelDims  map[string]int
	open       PartitionOpener
	partitions map[int]VectorStore
	closed     bool
}

// NewPartitionedVectorStore creates a router over the declared models.
// modelDims maps model name to its declared dimensionality.
func NewPartitionedVectorStore(modelDims map[string]int, open PartitionOpener) *PartitionedVectorStore {
	dims := make(map[string]int, len(modelDims))
	for model, d := range modelDims {
		dims[model] = d
	}
	return &PartitionedVectorStore{
		modelDims:  dims,
		open:       open,
		partitions: make(map[int]VectorStore),
	}
}

// Route returns the partition dimensionality for a model. Routing is a
// pure function of the declared configuration: the same model always maps
// to the same partition, and undeclared models are an error rather than a
// fallback.
func (p *PartitionedVectorStore) Route(model string) (int, error) {
	dims, ok := p.modelDims[model]
	if !ok {
		return 0, ErrUnknownModel{Model: model}
	}
	return dims, nil
}

// Dimensions returns the declared partition dimensionalities, sorted.
func (p *PartitionedVectorStore) Dimensions() []int {
	seen := make(map[int]struct{}, len(p.modelDims))
	var dims []int
	for _, d := range p.modelDims {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dims = append(dims, d)
	}
	sort.Ints(dims)
	return dims
}

// partition returns the store for a dimensionality, opening it on demand.
func (p *PartitionedVectorStore) partition(ctx context.Context, dims int) (VectorStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if vs, ok := p.partitions[dims]; ok {
		return vs, nil
	}

	vs, err := p.open(ctx, dims)
	if err != nil {
		return nil, fmt.Errorf("failed to open %d-dimension partition: %w", dims, err)
	}
	p.partitions[dims] = vs
	return vs, nil
}

// Upsert stores a model's vectors in its partition.
func (p *PartitionedVectorStore) Upsert(ctx context.Context, model string, items []*VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	dims, err := p.Route(model)
	if err != nil {
		return err
	}

	for _, item := range items {
		if len(item.Vector) != dims {
			return ErrDimensionMismatch{Expected: dims, Got: len(item.Vector)}
		}
	}

	vs, err := p.partition(ctx, dims)
	if err != nil {
		return err
	}
	return vs.Upsert(ctx, items)
}

// Search queries a model's partition for the k nearest neighbors.
func (p *PartitionedVectorStore) Search(ctx context.Context, model string, query []float32, k int, filter *ScopeFilter) ([]*VectorResult, error) {
	dims, err := p.Route(model)
	if err != nil {
		return nil, err
	}
	if len(query) != dims {
		return nil, ErrDimensionMismatch{Expected: dims, Got: len(query)}
	}

	vs, err := p.partition(ctx, dims)
	if err != nil {
		return nil, err
	}
	return vs.Search(ctx, query, k, filter)
}

// Delete removes the IDs from every declared partition, keeping partitions
// consistent with the embeddings table when a passage is re-ingested under
// a different model set.
func (p *PartitionedVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	for _, dims := range p.Dimensions() {
		vs, err := p.partition(ctx, dims)
		if err != nil {
			return err
		}
		if err := vs.Delete(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete from %d-dimension partition: %w", dims, err)
		}
	}
	return nil
}

// Counts reports the vector count per open partition, for status output.
func (p *PartitionedVectorStore) Counts(ctx context.Context) (map[int]int, error) {
	p.mu.Lock()
	open := make(map[int]VectorStore, len(p.partitions))
	for dims, vs := range p.partitions {
		open[dims] = vs
	}
	p.mu.Unlock()

	counts := make(map[int]int, len(open))
	for dims, vs := range open {
		n, err := vs.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count %d-dimension partition: %w", dims, err)
		}
		counts[dims] = n
	}
	return counts, nil
}

// Flush persists every open partition.
func (p *PartitionedVectorStore) Flush(ctx context.Context) error {
	p.mu.Lock()
	open := make([]VectorStore, 0, len(p.partitions))
	for _, vs := range p.partitions {
		open = append(open, vs)
	}
	p.mu.Unlock()

	for _, vs := range open {
		if err := vs.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every open partition. Idempotent.
func (p *PartitionedVectorStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for dims, vs := range p.partitions {
		if err := vs.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %d-dimension partition: %w", dims, err)
		}
	}
	p.partitions = nil
	return firstErr
}
