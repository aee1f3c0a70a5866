package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHNSWPartitionPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data/dir", "vectors-768.hnsw"), HNSWPartitionPath("/data/dir", 768))
	assert.Equal(t, filepath.Join("/data/dir", "vectors-384.hnsw"), HNSWPartitionPath("/data/dir", 384))
}

func TestQdrantCollectionName(t *testing.T) {
	t.Run("default prefix", func(t *testing.T) {
		assert.Equal(t, "loreweave_768", QdrantCollectionName("", 768))
	})

	t.Run("custom prefix", func(t *testing.T) {
		assert.Equal(t, "staging_384", QdrantCollectionName("staging", 384))
	})
}

func TestNewPartitionOpener_HNSWDefault(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := t.Context()

	// Given: an empty backend defaults to HNSW
	opener, err := NewPartitionOpener(VectorFactoryConfig{DataDir: tmpDir})
	require.NoError(t, err)

	// When: opening a partition and flushing a vector through it
	partition, err := opener(ctx, 4)
	require.NoError(t, err)
	defer partition.Close()

	err = partition.Upsert(ctx, []*VectorItem{{ID: "s01e01-sc01", Vector: []float32{1, 0, 0, 0}, Season: 1, Episode: 1}})
	require.NoError(t, err)
	require.NoError(t, partition.Flush(ctx))

	// Then: the partition file exists at the conventional path
	_, err = os.Stat(HNSWPartitionPath(tmpDir, 4))
	assert.NoError(t, err, "HNSW partition file should exist")
}

func TestNewPartitionOpener_HNSWMemoryOnly(t *testing.T) {
	ctx := t.Context()

	// Given: HNSW backend with no data directory
	opener, err := NewPartitionOpener(VectorFactoryConfig{Backend: "hnsw"})
	require.NoError(t, err)

	// When: opening a partition
	partition, err := opener(ctx, 4)
	require.NoError(t, err)
	defer partition.Close()

	// Then: operations work without touching disk
	err = partition.Upsert(ctx, []*VectorItem{{ID: "s01e01-sc01", Vector: []float32{1, 0, 0, 0}}})
	require.NoError(t, err)
	assert.NoError(t, partition.Flush(ctx))

	count, err := partition.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewPartitionOpener_QdrantRequiresURL(t *testing.T) {
	opener, err := NewPartitionOpener(VectorFactoryConfig{Backend: "qdrant"})

	assert.Error(t, err)
	assert.Nil(t, opener)
	assert.Contains(t, err.Error(), "qdrant backend requires a URL")
}

func TestNewPartitionOpener_InvalidBackend(t *testing.T) {
	opener, err := NewPartitionOpener(VectorFactoryConfig{Backend: "invalid"})

	assert.Error(t, err)
	assert.Nil(t, opener)
	assert.Contains(t, err.Error(), "unknown vector backend")
	assert.Contains(t, err.Error(), "valid options: hnsw, qdrant")
}

func TestDetectVectorBackend_HNSW(t *testing.T) {
	tmpDir := t.TempDir()

	// Given: a partition file for one of the declared dimensions
	f, err := os.Create(HNSWPartitionPath(tmpDir, 768))
	require.NoError(t, err)
	f.Close()

	backend := DetectVectorBackend(tmpDir, []int{384, 768})

	assert.Equal(t, VectorBackendHNSW, backend)
}

func TestDetectVectorBackend_NoPartitions(t *testing.T) {
	tmpDir := t.TempDir()

	backend := DetectVectorBackend(tmpDir, []int{384, 768})

	assert.Equal(t, VectorBackend(""), backend)
}
