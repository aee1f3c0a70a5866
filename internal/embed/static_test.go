package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// vectorMagnitude computes the L2 norm of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func TestStaticEmbedder_Embed_ReturnsConfiguredDimensions(t *testing.T) {
	// Given: a static embedder standing in for a 768-dimension model
	embedder := NewStaticEmbedder("nomic-embed-text", 768)
	defer func() { _ = embedder.Close() }()

	// When: I embed a passage
	embedding, err := embedder.Embed(context.Background(), "The dragon circled above Havenmoor at dusk")

	// Then: a 768-dimension vector is returned
	require.NoError(t, err)
	assert.Len(t, embedding, 768)
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder("all-minilm", 384)
	defer func() { _ = embedder.Close() }()

	// When: I embed text
	embedding, err := embedder.Embed(context.Background(), "Sullivan rode the north road toward Havenmoor")
	require.NoError(t, err)

	// Then: vector magnitude is ~1.0 (normalized)
	magnitude := vectorMagnitude(embedding)
	assert.InDelta(t, 1.0, magnitude, 0.001, "vector should be normalized to unit length")
}

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder("nomic-embed-text", 768)
	defer func() { _ = embedder.Close() }()

	text := "Veyra unsealed the archive beneath the observatory"

	// When: I embed the same text twice
	emb1, err1 := embedder.Embed(context.Background(), text)
	emb2, err2 := embedder.Embed(context.Background(), text)

	// Then: identical vectors are returned
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors")
}

func TestStaticEmbedder_Embed_DeterministicAcrossInstances(t *testing.T) {
	// Given: two separate embedder instances for the same model
	embedder1 := NewStaticEmbedder("nomic-embed-text", 768)
	embedder2 := NewStaticEmbedder("nomic-embed-text", 768)
	defer func() { _ = embedder1.Close() }()
	defer func() { _ = embedder2.Close() }()

	text := "The caravan reached the gates of Havenmoor by nightfall"

	// When: I embed the same text with different instances
	emb1, _ := embedder1.Embed(context.Background(), text)
	emb2, _ := embedder2.Embed(context.Background(), text)

	// Then: identical vectors are returned
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors across instances")
}

func TestStaticEmbedder_Embed_DifferentTextsDiffer(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder("all-minilm", 384)
	defer func() { _ = embedder.Close() }()

	// When: I embed two unrelated passages
	emb1, err1 := embedder.Embed(context.Background(), "The dragon circled above the keep")
	emb2, err2 := embedder.Embed(context.Background(), "A quiet morning in the archive")

	// Then: the vectors differ
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.NotEqual(t, emb1, emb2)
}

func TestStaticEmbedder_Embed_SharedTokensScoreCloser(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder("nomic-embed-text", 768)
	defer func() { _ = embedder.Close() }()

	ctx := context.Background()
	base, err := embedder.Embed(ctx, "The dragon circled above Havenmoor")
	require.NoError(t, err)
	related, err := embedder.Embed(ctx, "A dragon was seen over Havenmoor today")
	require.NoError(t, err)
	unrelated, err := embedder.Embed(ctx, "Quiet rain fell on the southern vineyards")
	require.NoError(t, err)

	// Then: passages sharing tokens land closer in vector space
	assert.Greater(t, cosineSimilarity(base, related), cosineSimilarity(base, unrelated),
		"shared tokens should pull vectors together")
}

func TestStaticEmbedder_Embed_EmptyTextReturnsZeroVector(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder("all-minilm", 384)
	defer func() { _ = embedder.Close() }()

	// When: I embed empty and whitespace-only text
	for _, text := range []string{"", "   ", "\n\t"} {
		embedding, err := embedder.Embed(context.Background(), text)

		// Then: a zero vector of the configured dimensionality is returned
		require.NoError(t, err)
		require.Len(t, embedding, 384)
		assert.Zero(t, vectorMagnitude(embedding))
	}
}

func TestStaticEmbedder_EmbedBatch_MatchesSingleEmbeds(t *testing.T) {
	// Given: a static embedder
	embedder := NewStaticEmbedder("nomic-embed-text", 768)
	defer func() { _ = embedder.Close() }()

	ctx := context.Background()
	texts := []string{
		"Sullivan drew his blade",
		"",
		"The archive gates stood open",
	}

	// When: I embed the texts as a batch
	batch, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	// Then: each batch entry matches the single-text embedding
	for i, text := range texts {
		single, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "batch entry %d should match single embed", i)
	}
}

func TestStaticEmbedder_ModelName(t *testing.T) {
	// Given: embedders with and without a configured model name
	named := NewStaticEmbedder("nomic-embed-text", 768)
	unnamed := NewStaticEmbedder("", 0)
	defer func() { _ = named.Close() }()
	defer func() { _ = unnamed.Close() }()

	// Then: the configured name is served, with a generic fallback
	assert.Equal(t, "nomic-embed-text", named.ModelName())
	assert.Equal(t, "static", unnamed.ModelName())
	assert.Equal(t, DefaultStaticDimensions, unnamed.Dimensions())
}

func TestStaticEmbedder_ClosedEmbedderErrors(t *testing.T) {
	// Given: a closed embedder
	embedder := NewStaticEmbedder("all-minilm", 384)
	require.NoError(t, embedder.Close())

	// When: I embed after close
	_, err := embedder.Embed(context.Background(), "text")

	// Then: the call fails and the embedder reports unavailable
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.False(t, embedder.Available(context.Background()))
}
