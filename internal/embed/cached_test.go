package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps a static embedder and counts provider calls,
// so tests can tell cache hits from misses.
type countingEmbedder struct {
	inner      *StaticEmbedder
	embeds     int
	batchTexts int
}

func newCountingEmbedder(model string, dims int) *countingEmbedder {
	return &countingEmbedder{inner: NewStaticEmbedder(model, dims)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embeds++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchTexts += len(texts)
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *countingEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *countingEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *countingEmbedder) Close() error                       { return c.inner.Close() }

func TestCachedEmbedder_Embed_CachesRepeatedText(t *testing.T) {
	// Given: a cached embedder
	counting := newCountingEmbedder("nomic-embed-text", 768)
	cached := NewCachedEmbedder(counting, 16)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	text := "The dragon circled above Havenmoor"

	// When: I embed the same text twice
	first, err := cached.Embed(ctx, text)
	require.NoError(t, err)
	second, err := cached.Embed(ctx, text)
	require.NoError(t, err)

	// Then: the provider is hit once and both calls agree
	assert.Equal(t, 1, counting.embeds, "second call should be served from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedder_Embed_DistinctTextsMiss(t *testing.T) {
	// Given: a cached embedder
	counting := newCountingEmbedder("nomic-embed-text", 768)
	cached := NewCachedEmbedder(counting, 16)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()

	// When: I embed two different texts
	_, err := cached.Embed(ctx, "Sullivan drew his blade")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "Veyra unsealed the archive")
	require.NoError(t, err)

	// Then: both go to the provider
	assert.Equal(t, 2, counting.embeds)
	assert.Equal(t, 2, cached.Len())
}

func TestCachedEmbedder_CacheKeyBindsTextAndModel(t *testing.T) {
	// Given: a cached embedder over a named model
	cached := NewCachedEmbedder(NewStaticEmbedder("nomic-embed-text", 768), 16)
	defer func() { _ = cached.Close() }()

	// When: I derive the cache key for a text
	key := cached.cacheKey("the archive")

	// Then: it is sha256 over text, a NUL separator, and the model name
	sum := sha256.Sum256([]byte("the archive\x00nomic-embed-text"))
	assert.Equal(t, hex.EncodeToString(sum[:]), key)
}

func TestCachedEmbedder_SameTextDifferentModelsCacheSeparately(t *testing.T) {
	// Given: cached embedders for two models
	nomic := NewCachedEmbedder(NewStaticEmbedder("nomic-embed-text", 768), 16)
	minilm := NewCachedEmbedder(NewStaticEmbedder("all-minilm", 384), 16)
	defer func() { _ = nomic.Close() }()
	defer func() { _ = minilm.Close() }()

	// When: I derive keys for the same text
	// Then: the keys differ because the model name is part of the key
	assert.NotEqual(t, nomic.cacheKey("the archive"), minilm.cacheKey("the archive"))
}

func TestCachedEmbedder_EmbedBatch_OnlyMissesReachProvider(t *testing.T) {
	// Given: a cached embedder with one text already cached
	counting := newCountingEmbedder("nomic-embed-text", 768)
	cached := NewCachedEmbedder(counting, 16)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	warm, err := cached.Embed(ctx, "Sullivan drew his blade")
	require.NoError(t, err)
	require.Equal(t, 1, counting.embeds)

	// When: I batch-embed three texts including the cached one
	texts := []string{
		"The caravan reached the gates",
		"Sullivan drew his blade",
		"A quiet morning in the archive",
	}
	results, err := cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Then: only the two misses reach the provider, in their original slots
	assert.Equal(t, 2, counting.batchTexts)
	assert.Equal(t, warm, results[1], "cached entry should keep its batch position")
	assert.Equal(t, 3, cached.Len())
}

func TestCachedEmbedder_EmbedBatch_AllCachedSkipsProvider(t *testing.T) {
	// Given: a cached embedder with both texts cached
	counting := newCountingEmbedder("all-minilm", 384)
	cached := NewCachedEmbedder(counting, 16)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	texts := []string{"first passage", "second passage"}
	_, err := cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Equal(t, 2, counting.batchTexts)

	// When: I batch the same texts again
	_, err = cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	// Then: the provider is not called again
	assert.Equal(t, 2, counting.batchTexts)
}

func TestCachedEmbedder_EvictsLeastRecentlyUsed(t *testing.T) {
	// Given: a cache that holds two entries
	counting := newCountingEmbedder("nomic-embed-text", 768)
	cached := NewCachedEmbedder(counting, 2)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	_, err := cached.Embed(ctx, "one")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "two")
	require.NoError(t, err)

	// When: a third text evicts the oldest entry
	_, err = cached.Embed(ctx, "three")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "one")
	require.NoError(t, err)

	// Then: the evicted text is recomputed
	assert.Equal(t, 4, counting.embeds)
}

func TestCachedEmbedder_PassesThroughMetadata(t *testing.T) {
	// Given: a cached embedder over a static provider
	inner := NewStaticEmbedder("all-minilm", 384)
	cached := NewCachedEmbedder(inner, 16)
	defer func() { _ = cached.Close() }()

	// Then: metadata comes from the wrapped embedder
	assert.Equal(t, 384, cached.Dimensions())
	assert.Equal(t, "all-minilm", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
}
