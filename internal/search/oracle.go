package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loreweave/loreweave/internal/config"
	loreerr "github.com/loreweave/loreweave/internal/errors"
)

// Oracle defaults, used when the config leaves a field zero.
const (
	DefaultOracleModel     = "llama3.2:3b"
	DefaultOracleTimeout   = 10 * time.Second
	DefaultOracleCacheSize = 512

	// Breaker thresholds. After this many consecutive failures the
	// oracle is suspended and callers take the deterministic path
	// until the reset window elapses.
	DefaultOracleMaxFailures  = 3
	DefaultOracleResetTimeout = 30 * time.Second
)

// classifyPrompt asks for a single JSON object so the response parses
// without scraping. The type list must match the QueryType constants.
const classifyPrompt = `Classify this narrative lore query into exactly one type.

Types:
- character: asks about a person, their identity, traits, or relationships
- location: asks about a place, where something is, or what a place is like
- event: asks about something that happened, a scene, or a moment in time
- theme: asks about meaning, symbolism, or recurring motifs
- general: anything else

Respond with JSON only: {"type": "<one of character|location|event|theme|general>"}

Query: %s`

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

// generateResponse is the non-streaming /api/generate response.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Oracle is a client for a local LLM reached over Ollama's /api/generate.
// The oracle only ever refines deterministic results, so its timeout is
// short and its failures are advisory. A circuit breaker stops it from
// hammering a dead model server; while the circuit is open every call
// fails fast and the deterministic fallbacks take over.
type Oracle struct {
	host    string
	model   string
	client  *http.Client
	breaker *loreerr.CircuitBreaker
}

// NewOracle creates an oracle client from configuration.
func NewOracle(cfg config.OracleConfig) *Oracle {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOracleModel
	}
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = DefaultOracleTimeout
	}
	return &Oracle{
		host:   host,
		model:  model,
		client: &http.Client{Timeout: timeout},
		breaker: loreerr.NewCircuitBreaker("oracle",
			loreerr.WithMaxFailures(DefaultOracleMaxFailures),
			loreerr.WithResetTimeout(DefaultOracleResetTimeout)),
	}
}

// Model returns the configured oracle model name.
func (o *Oracle) Model() string {
	return o.model
}

// Generate sends one prompt and returns the raw completion text. When
// the breaker is open the request is not sent at all; the returned
// error wraps ErrCircuitOpen.
func (o *Oracle) Generate(ctx context.Context, prompt string) (string, error) {
	return loreerr.CircuitExecuteWithResult(o.breaker,
		func() (string, error) {
			return o.generate(ctx, prompt)
		},
		func() (string, error) {
			return "", fmt.Errorf("oracle suspended after repeated failures: %w", loreerr.ErrCircuitOpen)
		})
}

func (o *Oracle) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return gen.Response, nil
}

// OracleAnalyzer refines the baseline analyzer's classification with an
// LLM hint. The hint changes only the query type; entities and keywords
// stay deterministic. Oracle failures and unparseable answers fall back to
// the baseline, so analysis remains total.
type OracleAnalyzer struct {
	oracle *Oracle
	base   Analyzer
	cache  *lru.Cache[string, QueryType]
}

var _ Analyzer = (*OracleAnalyzer)(nil)

// NewOracleAnalyzer wraps a baseline analyzer with oracle classification.
// Successful oracle answers are cached by normalized query; fallback
// results are not cached, so a recovered oracle gets asked again.
func NewOracleAnalyzer(oracle *Oracle, base Analyzer, cacheSize int) (*OracleAnalyzer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultOracleCacheSize
	}
	cache, err := lru.New[string, QueryType](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create classification cache: %w", err)
	}
	return &OracleAnalyzer{oracle: oracle, base: base, cache: cache}, nil
}

// Analyze runs the baseline, then asks the oracle for a type hint unless
// the caller already pinned the type.
func (a *OracleAnalyzer) Analyze(ctx context.Context, rawQuery string, explicitType QueryType) QueryInfo {
	info := a.base.Analyze(ctx, rawQuery, explicitType)
	if explicitType != "" {
		return info
	}

	key := normalizeQuery(rawQuery)
	if qt, ok := a.cache.Get(key); ok {
		info.Type = qt
		return info
	}

	qt, err := a.classify(ctx, rawQuery)
	if err != nil {
		slog.Debug("oracle classification unavailable, using pattern result",
			slog.String("code", loreerr.ErrCodeOracleUnavailable),
			slog.String("fallback", string(info.Type)),
			slog.Any("error", err))
		return info
	}

	a.cache.Add(key, qt)
	info.Type = qt
	return info
}

// classify asks the oracle for a type and parses the JSON answer, with a
// substring scan as a fallback for models that wrap the JSON in prose.
func (a *OracleAnalyzer) classify(ctx context.Context, rawQuery string) (QueryType, error) {
	answer, err := a.oracle.Generate(ctx, fmt.Sprintf(classifyPrompt, rawQuery))
	if err != nil {
		return "", err
	}

	var parsed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err == nil {
		if qt, ok := ParseQueryType(parsed.Type); ok {
			return qt, nil
		}
	}
	lower := strings.ToLower(answer)
	for _, qt := range queryTypes {
		if strings.Contains(lower, string(qt)) {
			return qt, nil
		}
	}
	return "", fmt.Errorf("unrecognized classification %q", truncateAnswer(answer))
}

// normalizeQuery canonicalizes a query for cache keying: lowercased with
// whitespace collapsed.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func truncateAnswer(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
