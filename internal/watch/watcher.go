package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	loreerr "github.com/loreweave/loreweave/internal/errors"
)

// Watcher observes a story directory tree for document changes. Events
// are debounced and delivered in batches on Events().
type Watcher struct {
	root     string
	opts     Options
	fsw      *fsnotify.Watcher
	debounce *debouncer
	logger   *slog.Logger
	done     chan struct{}
	closing  sync.Once
}

// New creates a watcher rooted at dir. The directory must exist.
func New(dir string, opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.WithDefaults()

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, loreerr.ValidationError("invalid watch directory", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, loreerr.ValidationError("watch directory does not exist", err).
			WithDetail("path", root)
	}
	if !info.IsDir() {
		return nil, loreerr.ValidationError("watch path is not a directory", nil).
			WithDetail("path", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, loreerr.InternalError("cannot create file watcher", err)
	}

	w := &Watcher{
		root:     root,
		opts:     opts,
		fsw:      fsw,
		debounce: newDebouncer(opts.Debounce, opts.BufferSize),
		logger:   logger.With("component", "watch"),
		done:     make(chan struct{}),
	}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Start begins watching. It returns immediately; events flow on Events()
// until the context is canceled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Events returns batches of debounced document events. Paths are
// relative to Root().
func (w *Watcher) Events() <-chan []Event {
	return w.debounce.Events()
}

// Close stops watching and closes the event channel. Safe to call more
// than once; the context cancel path and a deferred Close may race.
func (w *Watcher) Close() error {
	var err error
	w.closing.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.debounce.Close()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// New subdirectories need their own watch before any file inside
	// them can be seen.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !skipDir(filepath.Base(ev.Name)) {
				if err := w.addRecursive(ev.Name); err != nil {
					w.logger.Warn("cannot watch new directory", "path", ev.Name, "error", err)
				}
			}
			return
		}
	}

	if !w.opts.matches(ev.Name) {
		return
	}

	var op Op
	switch {
	case ev.Op.Has(fsnotify.Create):
		op = OpCreate
	case ev.Op.Has(fsnotify.Write):
		op = OpModify
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	w.debounce.Add(Event{Path: rel, Op: op, Timestamp: time.Now()})
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// skipDir filters hidden directories and the engine's own data dir.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".")
}
