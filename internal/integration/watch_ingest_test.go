package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/internal/watch"
)

const draftScene = `[SCENE S1E2-1: the-market]
@location: Harrowgate

Rumors moved through the market faster than the morning catch.
`

const revisedScene = `[SCENE S1E2-1: the-market]
@location: Harrowgate

Rumors moved through the market faster than the morning catch, and
every one of them named Sullivan.

[SCENE S1E2-2: the-quay]

The quay emptied before noon.
`

func TestWatchMode_IngestsNewAndEditedDocuments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := openStack(t, t.TempDir())
	defer s.close(t)

	storyDir := t.TempDir()
	w, err := watch.New(storyDir, watch.Options{Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	runner := watch.NewRunner(w, s.pipeline, nil)
	batches := make(chan [2]int, 8)
	runner.OnBatch = func(processed, failed int) {
		batches <- [2]int{processed, failed}
	}
	go func() { _ = runner.Run(ctx) }()

	// Let the watcher register before the first write.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(storyDir, "episode-two.md")
	require.NoError(t, os.WriteFile(path, []byte(draftScene), 0o644))
	waitBatch(t, batches, 1)

	count, err := s.lore.CountPassages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, os.WriteFile(path, []byte(revisedScene), 0o644))
	waitBatch(t, batches, 1)

	count, err = s.lore.CountPassages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	passage, err := s.lore.GetPassage(context.Background(), "s01e02-sc01")
	require.NoError(t, err)
	require.NotNil(t, passage)
	assert.Contains(t, passage.Text, "named Sullivan")
}

func TestWatchMode_InitialSyncIngestsExistingDocuments(t *testing.T) {
	s := openStack(t, t.TempDir())
	defer s.close(t)

	storyDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(storyDir, "pilot.md"), []byte(storyDoc), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(storyDir, "notes.json"), []byte("{}"), 0o644))

	w, err := watch.New(storyDir, watch.Options{}, nil)
	require.NoError(t, err)
	defer w.Close()

	runner := watch.NewRunner(w, s.pipeline, nil)
	processed, failed, err := runner.IngestAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 0, failed)

	count, err := s.lore.CountPassages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func waitBatch(t *testing.T, batches <-chan [2]int, wantProcessed int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case b := <-batches:
			require.Zero(t, b[1], "unexpected ingest failures")
			if b[0] >= wantProcessed {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for watch batch")
		}
	}
}
