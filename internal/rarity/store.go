package rarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Store persists the dictionary artifact between processes. Load returns
// (nil, nil) when no artifact exists yet; a corrupt artifact is cleared and
// also reported as missing, since the dictionary is derived data and can be
// rebuilt from the lore database.
type Store interface {
	Load(ctx context.Context) (*Artifact, error)
	Save(ctx context.Context, artifact *Artifact) error
	Close() error
}

// FileStore keeps the artifact as a single JSON file. Writes go through a
// temp file plus rename so readers never observe a partial artifact, with a
// file lock serializing writers across processes.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-backed artifact store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the artifact from disk.
func (s *FileStore) Load(_ context.Context) (*Artifact, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rarity artifact: %w", err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		slog.Warn("rarity_artifact_corrupted",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
			slog.String("action", "clearing, rebuild will recreate"))
		if rmErr := os.Remove(s.path); rmErr != nil {
			return nil, fmt.Errorf("failed to clear corrupt rarity artifact: %w", rmErr)
		}
		return nil, nil
	}
	return &artifact, nil
}

// Save atomically replaces the artifact on disk.
func (s *FileStore) Save(_ context.Context, artifact *Artifact) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire artifact lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release artifact lock", slog.String("error", err.Error()))
		}
	}()

	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode rarity artifact: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write rarity artifact: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace rarity artifact: %w", err)
	}
	return nil
}

// Close is a no-op; the file store holds no resources between calls.
func (s *FileStore) Close() error {
	return nil
}
