package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, Options{Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func waitForBatch(t *testing.T, w *Watcher) []Event {
	t.Helper()
	select {
	case batch := <-w.Events():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for file events")
		return nil
	}
}

func TestNew_RejectsMissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), Options{}, nil)
	assert.Error(t, err)
}

func TestNew_RejectsFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := New(path, Options{}, nil)
	assert.Error(t, err)
}

func TestWatcher_DetectsNewDocument(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)
	w.Start(context.Background())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pilot.md"), []byte("scene"), 0o644))

	batch := waitForBatch(t, w)
	require.NotEmpty(t, batch)
	assert.Equal(t, "pilot.md", batch[0].Path)
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)
	w.Start(context.Background())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644))

	select {
	case batch := <-w.Events():
		t.Fatalf("unexpected events for ignored extension: %v", batch)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_DetectsDocumentInNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)
	w.Start(context.Background())

	sub := filepath.Join(dir, "season-two")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// Give fsnotify a moment to register the new directory watch.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "premiere.txt"), []byte("scene"), 0o644))

	batch := waitForBatch(t, w)
	require.NotEmpty(t, batch)
	assert.Equal(t, filepath.Join("season-two", "premiere.txt"), batch[0].Path)
}

func TestWatcher_SkipsHiddenDirectories(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".loreweave")
	require.NoError(t, os.Mkdir(hidden, 0o755))

	w := newTestWatcher(t, dir)
	w.Start(context.Background())

	require.NoError(t, os.WriteFile(filepath.Join(hidden, "state.md"), []byte("x"), 0o644))

	select {
	case batch := <-w.Events():
		t.Fatalf("unexpected events from hidden directory: %v", batch)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_ContextCancelStopsWatching(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after cancel")
		}
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w := newTestWatcher(t, t.TempDir())
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Op(99).String())
}
