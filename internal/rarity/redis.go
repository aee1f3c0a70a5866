package rarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key holding the serialized artifact.
const DefaultRedisKey = "loreweave:rarity"

// RedisStore keeps the artifact under a single Redis key, for deployments
// where multiple engine processes share one dictionary. SET is atomic, so
// readers see either the previous artifact or the new one, never a blend.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing Redis client. An empty key selects
// DefaultRedisKey.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Load reads the artifact from Redis.
func (s *RedisStore) Load(ctx context.Context) (*Artifact, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rarity artifact from redis: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		slog.Warn("rarity_artifact_corrupted",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
			slog.String("action", "clearing, rebuild will recreate"))
		if delErr := s.client.Del(ctx, s.key).Err(); delErr != nil {
			return nil, fmt.Errorf("failed to clear corrupt rarity artifact: %w", delErr)
		}
		return nil, nil
	}
	return &artifact, nil
}

// Save replaces the artifact. No TTL: staleness is judged by the artifact's
// own built_at, not by key expiry.
func (s *RedisStore) Save(ctx context.Context, artifact *Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode rarity artifact: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write rarity artifact to redis: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
