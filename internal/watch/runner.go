package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/loreweave/loreweave/internal/ingest"
)

// Ingestor ingests a single document file. *ingest.Pipeline satisfies it.
type Ingestor interface {
	IngestFile(ctx context.Context, path string) (*ingest.Report, error)
}

// Runner consumes watcher batches and re-ingests changed documents.
type Runner struct {
	watcher  *Watcher
	ingestor Ingestor
	logger   *slog.Logger

	// OnBatch, when set, is called after each processed batch. Tests
	// and the CLI use it for progress reporting.
	OnBatch func(processed, failed int)
}

// NewRunner wires a watcher to an ingestor.
func NewRunner(watcher *Watcher, ingestor Ingestor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		watcher:  watcher,
		ingestor: ingestor,
		logger:   logger.With("component", "watch"),
	}
}

// IngestAll walks the watched tree and ingests every matching document.
// Used for the initial sync before watching begins. Returns the number
// of documents ingested and the number that failed.
func (r *Runner) IngestAll(ctx context.Context) (int, int, error) {
	processed, failed := 0, 0
	err := filepath.WalkDir(r.watcher.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != r.watcher.Root() && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !r.watcher.opts.matches(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.ingestOne(ctx, path) {
			processed++
		} else {
			failed++
		}
		return nil
	})
	return processed, failed, err
}

// Run starts the watcher and processes event batches until the context
// is canceled. Deleted documents are logged only; their passages stay
// until the document is re-ingested or the corpus is rebuilt.
func (r *Runner) Run(ctx context.Context) error {
	r.watcher.Start(ctx)
	defer r.watcher.Close()

	r.logger.Info("watching story directory", "root", r.watcher.Root())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-r.watcher.Events():
			if !ok {
				// Cancellation closes the watcher; report the cause.
				return ctx.Err()
			}
			r.processBatch(ctx, batch)
		}
	}
}

func (r *Runner) processBatch(ctx context.Context, batch []Event) {
	processed, failed := 0, 0
	for _, ev := range batch {
		path := filepath.Join(r.watcher.Root(), ev.Path)
		switch ev.Op {
		case OpCreate, OpModify:
			if r.ingestOne(ctx, path) {
				processed++
			} else {
				failed++
			}
		case OpDelete:
			r.logger.Info("document removed, passages retained until re-ingest",
				"path", ev.Path)
		}
	}
	if r.OnBatch != nil {
		r.OnBatch(processed, failed)
	}
}

func (r *Runner) ingestOne(ctx context.Context, path string) bool {
	report, err := r.ingestor.IngestFile(ctx, path)
	if err != nil {
		r.logger.Warn("ingest failed", "path", path, "error", err)
		return false
	}
	r.logger.Info("document ingested",
		"path", path,
		"passages", report.Passages,
		"duration", report.Duration)
	return true
}
