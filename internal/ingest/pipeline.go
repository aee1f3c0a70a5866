package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	loreerr "github.com/loreweave/loreweave/internal/errors"
	"github.com/loreweave/loreweave/internal/rarity"
	"github.com/loreweave/loreweave/internal/store"
)

// ErrNilDependency is returned by NewPipeline when a required dependency
// is missing.
var ErrNilDependency = errors.New("nil dependency")

// DictionaryRebuilder refreshes the rarity dictionary after the corpus
// changed. Satisfied by rarity.Manager.
type DictionaryRebuilder interface {
	Rebuild(ctx context.Context) (*rarity.Dictionary, error)
}

// EmbeddingSource supplies per-model embeddings. Satisfied by
// embed.Manager.
type EmbeddingSource interface {
	Models() []string
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// Report summarizes one ingest run.
type Report struct {
	// Passages is the number of scenes written.
	Passages int `json:"passages"`

	// EmbeddedByModel counts stored embeddings per model.
	EmbeddedByModel map[string]int `json:"embedded_by_model,omitempty"`

	// SkippedModels lists models that could not embed during this run,
	// deduplicated and sorted.
	SkippedModels []string `json:"skipped_models,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Pipeline writes documents into the stores. Each passage commits its
// row, metadata, and embedding rows in one transaction; the lexical and
// vector indexes are derived state updated after the commit.
type Pipeline struct {
	lore      store.LoreStore
	lexical   store.LexicalIndex
	vectors   *store.PartitionedVectorStore
	embedder  EmbeddingSource
	rebuilder DictionaryRebuilder
}

// PipelineOption configures optional pipeline collaborators.
type PipelineOption func(*Pipeline)

// WithRebuilder refreshes the rarity dictionary after every ingest.
func WithRebuilder(r DictionaryRebuilder) PipelineOption {
	return func(p *Pipeline) {
		p.rebuilder = r
	}
}

// NewPipeline wires the ingestion path. All store-side dependencies are
// required.
func NewPipeline(
	lore store.LoreStore,
	lexical store.LexicalIndex,
	vectors *store.PartitionedVectorStore,
	embedder EmbeddingSource,
	opts ...PipelineOption,
) (*Pipeline, error) {
	if lore == nil {
		return nil, fmt.Errorf("%w: lore store is required", ErrNilDependency)
	}
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if vectors == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedding manager is required", ErrNilDependency)
	}
	p := &Pipeline{
		lore:     lore,
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest splits a document and persists every scene. A model that cannot
// embed is skipped with a warning and ingestion continues with the
// remaining models; a store write failure aborts the run.
func (p *Pipeline) Ingest(ctx context.Context, document string) (*Report, error) {
	start := time.Now()

	scenes, err := Split(document)
	if err != nil {
		return nil, err
	}

	report := &Report{
		EmbeddedByModel: make(map[string]int),
	}
	skipped := make(map[string]bool)

	for _, scene := range scenes {
		if err := p.ingestScene(ctx, scene, report, skipped); err != nil {
			return nil, err
		}
		report.Passages++
	}

	if len(scenes) > 0 {
		if err := p.lore.SetState(ctx, store.StateKeyLastIngestAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
			slog.Warn("failed to record ingest timestamp", slog.Any("error", err))
		}
		if p.rebuilder != nil {
			if _, err := p.rebuilder.Rebuild(ctx); err != nil {
				slog.Warn("rarity dictionary rebuild failed after ingest", slog.Any("error", err))
			}
		}
	}

	for model := range skipped {
		report.SkippedModels = append(report.SkippedModels, model)
	}
	sort.Strings(report.SkippedModels)
	report.Duration = time.Since(start)

	slog.Info("ingest complete",
		slog.Int("passages", report.Passages),
		slog.Int("models_skipped", len(report.SkippedModels)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// IngestFile reads one document from disk and ingests it.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loreerr.New(loreerr.ErrCodeIngestFailed,
			fmt.Sprintf("cannot read document %s", path), err)
	}
	return p.Ingest(ctx, string(data))
}

// ingestScene persists a single scene: embeddings first (tolerating
// unavailable models), then the transactional passage write, then the
// derived indexes.
func (p *Pipeline) ingestScene(ctx context.Context, scene *Scene, report *Report, skipped map[string]bool) error {
	id := scene.PassageID()

	var embeddings []*store.Embedding
	for _, model := range p.embedder.Models() {
		vec, err := p.embedder.Embed(ctx, scene.Text, model)
		if err != nil {
			if !skipped[model] {
				slog.Warn("model unavailable during ingest, continuing without it",
					slog.String("model", model),
					slog.String("code", loreerr.ErrCodeModelUnavailable),
					slog.Any("error", err))
			}
			skipped[model] = true
			continue
		}
		embeddings = append(embeddings, &store.Embedding{
			PassageID: id,
			Model:     model,
			Dims:      len(vec),
			Vector:    vec,
		})
	}

	now := time.Now()
	passage := &store.Passage{
		ID:        id,
		Text:      scene.Text,
		CreatedAt: now,
		UpdatedAt: now,
		Meta:      scene.Metadata(),
	}
	if err := p.lore.SavePassage(ctx, passage, embeddings); err != nil {
		return loreerr.New(loreerr.ErrCodeIngestFailed,
			fmt.Sprintf("failed to save passage %s", id), err)
	}

	if err := p.lexical.Index(ctx, []*store.LexicalDoc{{
		ID:      id,
		Text:    scene.Text,
		Season:  scene.Season,
		Episode: scene.Episode,
	}}); err != nil {
		return loreerr.New(loreerr.ErrCodeIngestFailed,
			fmt.Sprintf("failed to index passage %s", id), err)
	}

	for _, emb := range embeddings {
		if err := p.vectors.Upsert(ctx, emb.Model, []*store.VectorItem{{
			ID:      id,
			Vector:  emb.Vector,
			Season:  scene.Season,
			Episode: scene.Episode,
		}}); err != nil {
			return loreerr.New(loreerr.ErrCodeIngestFailed,
				fmt.Sprintf("failed to upsert vectors for passage %s with %s", id, emb.Model), err)
		}
		report.EmbeddedByModel[emb.Model]++
	}
	return nil
}
