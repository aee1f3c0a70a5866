package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loreweave/loreweave/internal/config"
	loreerr "github.com/loreweave/loreweave/internal/errors"
)

// Provider names accepted in a model's chain.
const (
	// ProviderOllama serves a model through a local Ollama server
	ProviderOllama = "ollama"

	// ProviderStatic serves a model with deterministic hash vectors
	// (offline mode and tests)
	ProviderStatic = "static"
)

// Manager serves embeddings for every configured model. Each model is
// backed by the first provider in its chain that came up at open time,
// wrapped in an LRU cache. The model set is fixed after construction,
// so lookups need no locking.
//
// A model whose whole chain is down is left unregistered rather than
// failing construction: ingestion continues with the remaining models
// and Embed reports the gap per call.
type Manager struct {
	models map[string]*servedModel
	order  []string // registration order, for stable diagnostics
}

type servedModel struct {
	embedder *CachedEmbedder
	provider string
	dims     int
}

// ModelStatus describes one served model for diagnostics.
type ModelStatus struct {
	Model      string `json:"model"`
	Provider   string `json:"provider"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
	CacheLen   int    `json:"cache_len"`
}

// NewManager opens an embedder for every configured model by walking
// its provider chain in order. Provider failures are logged and the
// chain moves on; only a malformed configuration is an error.
func NewManager(ctx context.Context, cfg config.EmbeddingsConfig) (*Manager, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("no embedding models configured")
	}

	m := &Manager{
		models: make(map[string]*servedModel, len(cfg.Models)),
	}

	timeout := cfg.RequestTimeoutDuration()
	for _, mc := range cfg.Models {
		embedder, provider, err := openModel(ctx, mc, cfg.OllamaHost, timeout)
		if err != nil {
			m.closeAll()
			return nil, err
		}
		if embedder == nil {
			slog.Warn("embedding_model_unavailable",
				slog.String("model", mc.Name),
				slog.Any("providers_tried", mc.Providers))
			continue
		}

		m.models[mc.Name] = &servedModel{
			embedder: NewCachedEmbedder(embedder, cfg.CacheSize),
			provider: provider,
			dims:     mc.Dimensions,
		}
		m.order = append(m.order, mc.Name)

		slog.Info("embedding_model_ready",
			slog.String("model", mc.Name),
			slog.String("provider", provider),
			slog.Int("dimensions", mc.Dimensions))
	}

	return m, nil
}

// openModel walks the model's provider chain and returns the first
// embedder that comes up, together with the provider name that serves
// it. A nil embedder with nil error means the whole chain is down.
func openModel(ctx context.Context, mc config.ModelConfig, host string, timeout time.Duration) (Embedder, string, error) {
	for _, p := range mc.Providers {
		switch p {
		case ProviderOllama:
			e, err := NewOllamaEmbedder(ctx, OllamaConfig{
				Host:       host,
				Model:      mc.Name,
				Dimensions: mc.Dimensions,
				Timeout:    timeout,
			})
			if err != nil {
				slog.Warn("embedding_provider_unavailable",
					slog.String("model", mc.Name),
					slog.String("provider", p),
					slog.String("error", err.Error()))
				continue
			}
			return e, p, nil

		case ProviderStatic:
			return NewStaticEmbedder(mc.Name, mc.Dimensions), p, nil

		default:
			return nil, "", fmt.Errorf("unknown embedding provider %q for model %s (valid options: ollama, static)", p, mc.Name)
		}
	}
	return nil, "", nil
}

// Embed generates an embedding for text using the named model.
func (m *Manager) Embed(ctx context.Context, text, model string) ([]float32, error) {
	sm, ok := m.models[model]
	if !ok {
		return nil, loreerr.ModelUnavailableError(model, nil)
	}
	vec, err := sm.embedder.Embed(ctx, text)
	if err != nil {
		return nil, loreerr.ModelUnavailableError(model, err)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for texts using the named model.
func (m *Manager) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	sm, ok := m.models[model]
	if !ok {
		return nil, loreerr.ModelUnavailableError(model, nil)
	}
	vecs, err := sm.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, loreerr.ModelUnavailableError(model, err)
	}
	return vecs, nil
}

// ActiveProvider reports which provider ended up serving the model.
// It returns "" for a model that is not being served.
func (m *Manager) ActiveProvider(model string) string {
	sm, ok := m.models[model]
	if !ok {
		return ""
	}
	return sm.provider
}

// Serves reports whether the model is registered and being served.
func (m *Manager) Serves(model string) bool {
	_, ok := m.models[model]
	return ok
}

// Models returns the served model names in configuration order.
func (m *Manager) Models() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Status reports per-model diagnostics, probing each provider.
func (m *Manager) Status(ctx context.Context) []ModelStatus {
	statuses := make([]ModelStatus, 0, len(m.order))
	for _, name := range m.order {
		sm := m.models[name]
		statuses = append(statuses, ModelStatus{
			Model:      name,
			Provider:   sm.provider,
			Dimensions: sm.dims,
			Available:  sm.embedder.Available(ctx),
			CacheLen:   sm.embedder.Len(),
		})
	}
	return statuses
}

// Close releases every served embedder.
func (m *Manager) Close() error {
	return m.closeAll()
}

func (m *Manager) closeAll() error {
	var errs []error
	for name, sm := range m.models {
		if err := sm.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embedder for %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
