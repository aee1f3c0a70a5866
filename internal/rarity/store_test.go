package rarity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact() *Artifact {
	return &Artifact{
		Terms:     map[string]float64{"dragon": 2.3, "havenmoor": 1.1},
		TotalDocs: 42,
		BuiltAt:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	ctx := t.Context()
	fs := NewFileStore(filepath.Join(t.TempDir(), "rarity.json"))

	// When: saving and reloading an artifact
	require.NoError(t, fs.Save(ctx, testArtifact()))

	loaded, err := fs.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	// Then: the artifact round-trips
	assert.Equal(t, 42, loaded.TotalDocs)
	assert.InDelta(t, 2.3, loaded.Terms["dragon"], 1e-9)
	assert.InDelta(t, 1.1, loaded.Terms["havenmoor"], 1e-9)
	assert.True(t, testArtifact().BuiltAt.Equal(loaded.BuiltAt))
}

func TestFileStore_LoadMissing(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "rarity.json"))

	loaded, err := fs.Load(t.Context())

	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFileStore_CorruptArtifactClears(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "rarity.json")

	// Given: a truncated artifact on disk
	require.NoError(t, os.WriteFile(path, []byte(`{"terms": {"dragon"`), 0o644))

	fs := NewFileStore(path)

	// When: loading
	loaded, err := fs.Load(ctx)

	// Then: the corrupt file is cleared and reported as missing
	require.NoError(t, err)
	assert.Nil(t, loaded)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "corrupt artifact should be removed")

	// And: a save afterwards works
	require.NoError(t, fs.Save(ctx, testArtifact()))
	reloaded, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, reloaded)
}

func TestFileStore_SaveCreatesDirectory(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "nested", "dir", "rarity.json")

	fs := NewFileStore(path)
	require.NoError(t, fs.Save(ctx, testArtifact()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestFileStore_SaveReplacesAtomically(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "rarity.json")
	fs := NewFileStore(path)

	require.NoError(t, fs.Save(ctx, testArtifact()))

	// When: overwriting with a different artifact
	updated := testArtifact()
	updated.TotalDocs = 99
	require.NoError(t, fs.Save(ctx, updated))

	// Then: only the new artifact is visible and no temp file lingers
	loaded, err := fs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 99, loaded.TotalDocs)
	_, tmpErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(tmpErr), "temp file should not linger")
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data/dir", "rarity.json"), ArtifactPath("/data/dir"))
}

func TestNewStore_FileDefault(t *testing.T) {
	tmpDir := t.TempDir()

	// When: creating with an empty backend
	s, err := NewStore(StoreConfig{DataDir: tmpDir})
	require.NoError(t, err)
	defer s.Close()

	// Then: the file backend is selected
	require.NoError(t, s.Save(t.Context(), testArtifact()))
	_, statErr := os.Stat(ArtifactPath(tmpDir))
	assert.NoError(t, statErr)
}

func TestNewStore_RedisRequiresURL(t *testing.T) {
	s, err := NewStore(StoreConfig{Backend: "redis"})

	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "redis rarity store requires a URL")
}

func TestNewStore_RedisInvalidURL(t *testing.T) {
	s, err := NewStore(StoreConfig{Backend: "redis", RedisURL: "://not-a-url"})

	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestNewStore_UnknownBackend(t *testing.T) {
	s, err := NewStore(StoreConfig{Backend: "etcd"})

	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Contains(t, err.Error(), "unknown rarity store backend")
	assert.Contains(t, err.Error(), "valid options: file, redis")
}
