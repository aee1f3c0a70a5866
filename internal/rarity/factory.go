package rarity

import (
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// StoreBackend represents the artifact store backend type.
type StoreBackend string

const (
	// StoreBackendFile keeps the artifact as a JSON file under the data
	// directory (default). Single-host deployments.
	StoreBackendFile StoreBackend = "file"

	// StoreBackendRedis keeps the artifact under one Redis key so multiple
	// engine processes share a dictionary.
	StoreBackendRedis StoreBackend = "redis"
)

// StoreConfig selects and parameterizes the artifact store backend.
type StoreConfig struct {
	Backend  string // "file" (default) or "redis"
	DataDir  string // file artifact lives at <DataDir>/rarity.json
	RedisURL string // redis connection URL, e.g. redis://localhost:6379/0
	RedisKey string // optional key override, default "loreweave:rarity"
}

// ArtifactPath returns the file artifact location under a data directory.
func ArtifactPath(dataDir string) string {
	return filepath.Join(dataDir, "rarity.json")
}

// NewStore creates the artifact store for the configured backend.
func NewStore(cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case string(StoreBackendFile), "":
		return NewFileStore(ArtifactPath(cfg.DataDir)), nil

	case string(StoreBackendRedis):
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis rarity store requires a URL")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		return NewRedisStore(redis.NewClient(opts), cfg.RedisKey), nil

	default:
		return nil, fmt.Errorf("unknown rarity store backend: %s (valid options: file, redis)", cfg.Backend)
	}
}
