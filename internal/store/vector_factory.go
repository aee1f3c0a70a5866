package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// VectorBackend represents the vector store backend type.
type VectorBackend string

const (
	// VectorBackendHNSW keeps vectors in embedded HNSW graph files
	// (default). No external service required.
	VectorBackendHNSW VectorBackend = "hnsw"

	// VectorBackendQdrant keeps vectors in a Qdrant server, one collection
	// per dimension partition.
	VectorBackendQdrant VectorBackend = "qdrant"
)

// DefaultCollectionPrefix names Qdrant collections loreweave_<dims>.
const DefaultCollectionPrefix = "loreweave"

// VectorFactoryConfig selects and parameterizes the vector backend.
type VectorFactoryConfig struct {
	Backend          string // "hnsw" (default) or "qdrant"
	DataDir          string // HNSW partition files live here
	QdrantURL        string // HTTP URL of the Qdrant server
	CollectionPrefix string // Qdrant collection prefix, default "loreweave"

	// Optional tuning overrides applied to every partition.
	M               int
	EfSearch        int
	FilterOverfetch int
}

// HNSWPartitionPath returns the file path for one HNSW dimension partition.
func HNSWPartitionPath(dataDir string, dims int) string {
	return filepath.Join(dataDir, fmt.Sprintf("vectors-%d.hnsw", dims))
}

// QdrantCollectionName returns the collection name for one partition.
func QdrantCollectionName(prefix string, dims int) string {
	if prefix == "" {
		prefix = DefaultCollectionPrefix
	}
	return fmt.Sprintf("%s_%d", prefix, dims)
}

// NewPartitionOpener builds the PartitionOpener for the configured backend.
// An empty DataDir with the HNSW backend yields memory-only partitions for
// testing.
func NewPartitionOpener(cfg VectorFactoryConfig) (PartitionOpener, error) {
	partitionConfig := func(dims int) VectorStoreConfig {
		vc := DefaultVectorStoreConfig(dims)
		if cfg.M > 0 {
			vc.M = cfg.M
		}
		if cfg.EfSearch > 0 {
			vc.EfSearch = cfg.EfSearch
		}
		if cfg.FilterOverfetch > 0 {
			vc.FilterOverfetch = cfg.FilterOverfetch
		}
		return vc
	}

	switch cfg.Backend {
	case string(VectorBackendHNSW), "":
		dataDir := cfg.DataDir
		return func(ctx context.Context, dims int) (VectorStore, error) {
			var path string
			if dataDir != "" {
				path = HNSWPartitionPath(dataDir, dims)
			}
			return NewHNSWStore(path, partitionConfig(dims))
		}, nil

	case string(VectorBackendQdrant):
		if cfg.QdrantURL == "" {
			return nil, fmt.Errorf("qdrant backend requires a URL")
		}
		urlStr := cfg.QdrantURL
		prefix := cfg.CollectionPrefix
		return func(ctx context.Context, dims int) (VectorStore, error) {
			return NewQdrantVectorStore(ctx, urlStr, QdrantCollectionName(prefix, dims), partitionConfig(dims))
		}, nil

	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, qdrant)", cfg.Backend)
	}
}

// DetectVectorBackend detects whether HNSW partition files exist under a
// data directory. Returns empty if none exist (fresh start or remote
// backend).
func DetectVectorBackend(dataDir string, declaredDims []int) VectorBackend {
	for _, dims := range declaredDims {
		if fileExists(HNSWPartitionPath(dataDir, dims)) {
			return VectorBackendHNSW
		}
	}
	return ""
}
