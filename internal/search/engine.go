package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loreweave/loreweave/internal/alias"
	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/embed"
	loreerr "github.com/loreweave/loreweave/internal/errors"
	"github.com/loreweave/loreweave/internal/store"
)

// ErrNilDependency is returned by NewEngine when a required dependency is
// missing.
var ErrNilDependency = errors.New("nil dependency")

// textScoreCeiling caps normalized lexical relevance. A keyword match is at
// best alias-grade evidence: it must rank below an exact structured match
// for the same subject, whatever the raw term statistics say.
const textScoreCeiling = store.ConfidenceAlias

// QueryRequest is one caller query. Type, Filter and Limit are optional.
type QueryRequest struct {
	Text string

	// Type pins the query classification. Empty means classify.
	Type string

	// Filter narrows passage evidence by season/episode.
	Filter *store.ScopeFilter

	// Limit is the maximum result count. Zero means the configured
	// default; values above the configured maximum are clamped.
	Limit int
}

// Engine runs the canonical query pipeline against the stores. All three
// strategy kinds execute on every plan that names them; a strategy failing
// or timing out contributes nothing and the query continues.
type Engine struct {
	lore     store.LoreStore
	lexical  store.LexicalIndex
	vectors  *store.PartitionedVectorStore
	embedder *embed.Manager
	aliases  *alias.Resolver
	analyzer Analyzer
	planner  Planner
	rescorer *Rescorer
	fuser    *Fuser
	cfg      config.SearchConfig
	metrics  MetricsRecorder
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithMetrics attaches a per-query metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine wires the pipeline. Every store-side dependency is required;
// the analyzer and planner default to the deterministic implementations
// when nil.
func NewEngine(
	lore store.LoreStore,
	lexical store.LexicalIndex,
	vectors *store.PartitionedVectorStore,
	embedder *embed.Manager,
	aliases *alias.Resolver,
	analyzer Analyzer,
	planner Planner,
	rescorer *Rescorer,
	fuser *Fuser,
	cfg config.SearchConfig,
	opts ...EngineOption,
) (*Engine, error) {
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
	if aliases == nil {
		return nil, fmt.Errorf("%w: alias resolver is required", ErrNilDependency)
	}
	if rescorer == nil {
		return nil, fmt.Errorf("%w: rescorer is required", ErrNilDependency)
	}
	if fuser == nil {
		return nil, fmt.Errorf("%w: fuser is required", ErrNilDependency)
	}

	e := &Engine{
		lore:     lore,
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
		aliases:  aliases,
		analyzer: analyzer,
		planner:  planner,
		rescorer: rescorer,
		fuser:    fuser,
		cfg:      cfg,
	}
	if e.analyzer == nil {
		e.analyzer = NewPatternAnalyzer(aliases)
	}
	if e.planner == nil {
		e.planner = NewRulePlanner(nil, aliases)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Query answers one query: analyze, plan, execute every strategy, fuse.
// The only error it returns is a validation error for malformed input; an
// empty evidence set is a successful response with zero results.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*Response, error) {
	start := time.Now()

	req.Text = strings.TrimSpace(req.Text)
	explicitType, err := e.validate(&req)
	if err != nil {
		return nil, err
	}
	limit := e.clampLimit(req.Limit)

	timings := make(map[string]time.Duration, 8)

	stageStart := time.Now()
	info := e.analyzer.Analyze(ctx, req.Text, explicitType)
	timings["analyze"] = time.Since(stageStart)

	stageStart = time.Now()
	plan := e.planner.Plan(ctx, req.Text, info)
	sort.SliceStable(plan.Strategies, func(i, j int) bool {
		return plan.Strategies[i].Priority < plan.Strategies[j].Priority
	})
	timings["plan"] = time.Since(stageStart)

	aliasForms := e.entityForms(info)

	stageStart = time.Now()
	lists, executed, strategyTimings := e.execute(ctx, req, info, plan, aliasForms, limit)
	timings["execute"] = time.Since(stageStart)
	for kind, d := range strategyTimings {
		timings["strategy:"+kind] = d
	}

	stageStart = time.Now()
	fused := e.fuser.Fuse(info, aliasForms, lists, limit)
	timings["fuse"] = time.Since(stageStart)

	results := make([]*Result, len(fused))
	for i, c := range fused {
		results[i] = &Result{
			ID:       c.id,
			Kind:     c.kind,
			Content:  c.content,
			Score:    c.score,
			Metadata: c.meta,
			Source:   c.source,
		}
	}

	total := time.Since(start)
	timings["total"] = total

	if e.metrics != nil {
		e.metrics.RecordQuery(ctx, QueryRecord{
			Query:       req.Text,
			Type:        info.Type,
			Strategies:  executed,
			ResultCount: len(results),
			Duration:    total,
		})
	}

	return &Response{
		Query:     req.Text,
		QueryType: info.Type,
		Results:   results,
		Metadata: ResponseMetadata{
			StrategiesExecuted: executed,
			Timings:            timings,
			PlanExplanation:    plan.Explanation,
		},
	}, nil
}

// validate rejects malformed requests explicitly. A rejected request is
// never conflated with an empty result set.
func (e *Engine) validate(req *QueryRequest) (QueryType, error) {
	if req.Text == "" {
		return "", loreerr.ValidationError("query text must not be empty", nil).
			WithSuggestion("Provide a natural-language question, e.g. \"Who is Sullivan?\"")
	}
	if req.Limit < 0 {
		return "", loreerr.ValidationError(fmt.Sprintf("limit must not be negative, got %d", req.Limit), nil)
	}
	if req.Filter != nil {
		if req.Filter.Season < 0 {
			return "", loreerr.ValidationError(fmt.Sprintf("filter season must not be negative, got %d", req.Filter.Season), nil)
		}
		if req.Filter.Episode < 0 {
			return "", loreerr.ValidationError(fmt.Sprintf("filter episode must not be negative, got %d", req.Filter.Episode), nil)
		}
	}

	if req.Type == "" {
		return "", nil
	}
	qt, ok := ParseQueryType(req.Type)
	if !ok {
		return "", loreerr.ValidationError(fmt.Sprintf("unknown query type %q (valid: %s)", req.Type, ValidQueryTypes()), nil)
	}
	return qt, nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if e.cfg.MaxLimit > 0 && limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}
	if limit <= 0 {
		limit = 10
	}
	return limit
}

// entityForms expands the query's entities into every known surface form,
// for structured lookup candidates and the fusion mention boost.
func (e *Engine) entityForms(info QueryInfo) []string {
	seen := make(map[string]struct{})
	var forms []string
	for _, entity := range info.Entities {
		for _, form := range e.aliases.Resolve(entity) {
			if _, dup := seen[form]; dup {
				continue
			}
			seen[form] = struct{}{}
			forms = append(forms, form)
		}
	}
	return forms
}

// execute runs every planned strategy concurrently, each under its own
// timeout. Failures and timeouts are logged and produce an empty list for
// that strategy; siblings always run to completion. The returned lists are
// ordered by ascending strategy priority, matching the plan order.
func (e *Engine) execute(
	ctx context.Context,
	req QueryRequest,
	info QueryInfo,
	plan SearchPlan,
	aliasForms []string,
	limit int,
) (lists [][]*candidate, executed []string, timings map[string]time.Duration) {
	lists = make([][]*candidate, len(plan.Strategies))
	executed = make([]string, len(plan.Strategies))
	timings = make(map[string]time.Duration, len(plan.Strategies))

	durations := make([]time.Duration, len(plan.Strategies))
	timeout := e.cfg.StrategyTimeoutDuration()

	g := new(errgroup.Group)
	for i, strategy := range plan.Strategies {
		executed[i] = string(strategy.Kind)
		g.Go(func() error {
			stepStart := time.Now()
			stepCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			cands, err := e.runStrategy(stepCtx, strategy, req, info, aliasForms, limit)
			durations[i] = time.Since(stepStart)
			if err != nil {
				e.logStrategyFailure(strategy, err)
				return nil
			}
			lists[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	for i, strategy := range plan.Strategies {
		timings[string(strategy.Kind)] = durations[i]
	}
	return lists, executed, timings
}

// logStrategyFailure records a failed strategy. Timeouts are classed as
// store-unreachable: either way the strategy contributed nothing and the
// query goes on.
func (e *Engine) logStrategyFailure(strategy Strategy, err error) {
	code := loreerr.ErrCodeStoreUnreachable
	if errors.Is(err, context.DeadlineExceeded) {
		code = loreerr.ErrCodeTimeout
	}
	slog.Warn("search strategy failed, continuing without it",
		slog.String("strategy", string(strategy.Kind)),
		slog.String("code", code),
		slog.Any("error", err))
}

func (e *Engine) runStrategy(
	ctx context.Context,
	strategy Strategy,
	req QueryRequest,
	info QueryInfo,
	aliasForms []string,
	limit int,
) ([]*candidate, error) {
	switch strategy.Kind {
	case StrategyStructured:
		return e.runStructured(ctx, strategy, info, aliasForms, limit)
	case StrategyVector:
		return e.runVector(ctx, strategy, req, limit)
	case StrategyText:
		return e.runText(ctx, strategy, req, limit)
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", strategy.Kind)
	}
}

// runStructured looks query entities up in the entity tables. With no
// entity mentions the keywords stand in as candidates, so "the haunted
// keep" still reaches the places table.
func (e *Engine) runStructured(ctx context.Context, strategy Strategy, info QueryInfo, aliasForms []string, limit int) ([]*candidate, error) {
	candidates := aliasForms
	if len(candidates) == 0 {
		candidates = info.Keywords
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var out []*candidate
	seen := make(map[string]struct{})
	for _, table := range strategy.Tables {
		kind, ok := tableKinds[table]
		if !ok {
			continue
		}
		matches, err := e.lore.LookupEntities(ctx, kind, candidates, limit)
		if err != nil {
			return nil, fmt.Errorf("entity lookup in %s: %w", table, err)
		}
		for _, m := range matches {
			if _, dup := seen[m.Entity.ID]; dup {
				continue
			}
			seen[m.Entity.ID] = struct{}{}
			out = append(out, entityCandidate(m, len(out)))
		}
	}
	return out, nil
}

func entityCandidate(m *store.EntityMatch, rank int) *candidate {
	ent := m.Entity
	meta := map[string]string{
		"name": ent.Name,
	}
	if len(ent.Aliases) > 0 {
		meta["aliases"] = strings.Join(ent.Aliases, ", ")
	}
	return &candidate{
		id:        ent.ID,
		kind:      string(ent.Kind),
		content:   ent.Description,
		score:     m.Confidence,
		source:    string(StrategyStructured),
		rank:      rank,
		meta:      meta,
		updatedAt: ent.UpdatedAt,
	}
}

// runVector embeds the query once per planned model and searches that
// model's partition. A model that cannot embed right now is skipped with a
// log line; per-item similarities accumulate into one candidate per
// passage so fusion can average across the models that saw it.
func (e *Engine) runVector(ctx context.Context, strategy Strategy, req QueryRequest, limit int) ([]*candidate, error) {
	perPassage := make(map[string]map[string]float64)
	order := make([]string, 0, limit)
	var failures []error

	for _, model := range strategy.Models {
		vec, err := e.embedder.Embed(ctx, req.Text, model)
		if err != nil {
			failures = append(failures, err)
			slog.Warn("model unavailable for query embedding, skipping",
				slog.String("model", model),
				slog.String("code", loreerr.ErrCodeModelUnavailable),
				slog.Any("error", err))
			continue
		}
		hits, err := e.vectors.Search(ctx, model, vec, limit, req.Filter)
		if err != nil {
			failures = append(failures, fmt.Errorf("vector search with %s: %w", model, err))
			continue
		}
		for _, hit := range hits {
			sims, ok := perPassage[hit.ID]
			if !ok {
				sims = make(map[string]float64, len(strategy.Models))
				perPassage[hit.ID] = sims
				order = append(order, hit.ID)
			}
			sims[model] = float64(hit.Similarity)
		}
	}

	if len(order) == 0 {
		if len(failures) > 0 {
			return nil, errors.Join(failures...)
		}
		return nil, nil
	}

	passages, err := e.fetchPassages(ctx, order)
	if err != nil {
		return nil, err
	}

	out := make([]*candidate, 0, len(order))
	for _, id := range order {
		c := passageCandidate(id, passages[id], string(StrategyVector), len(out))
		c.models = perPassage[id]
		out = append(out, c)
	}
	return out, nil
}

// runText asks the lexical backend for an oversampled candidate set, then
// rescores each passage with phrase and rarity weighting. Backend-native
// scores only choose the candidates; the rescored relevance, normalized to
// the best candidate and capped below exact-match confidence, is what
// fusion sees.
func (e *Engine) runText(ctx context.Context, strategy Strategy, req QueryRequest, limit int) ([]*candidate, error) {
	if len(strategy.Keywords) == 0 {
		return nil, nil
	}

	oversample := e.cfg.Oversample
	if oversample < 1 {
		oversample = 1
	}
	hits, err := e.lexical.Search(ctx, strategy.Keywords, req.Filter, limit*oversample)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.PassageID
	}
	passages, err := e.fetchPassages(ctx, ids)
	if err != nil {
		return nil, err
	}

	type scored struct {
		id        string
		relevance float64
	}
	rescored := make([]scored, 0, len(hits))
	maxRelevance := 0.0
	for _, h := range hits {
		p, ok := passages[h.PassageID]
		if !ok {
			continue
		}
		relevance := e.rescorer.Score(req.Text, p.Text, strategy.Keywords)
		if relevance <= 0 {
			continue
		}
		rescored = append(rescored, scored{id: h.PassageID, relevance: relevance})
		if relevance > maxRelevance {
			maxRelevance = relevance
		}
	}
	if len(rescored) == 0 {
		return nil, nil
	}

	sort.SliceStable(rescored, func(i, j int) bool {
		if rescored[i].relevance != rescored[j].relevance {
			return rescored[i].relevance > rescored[j].relevance
		}
		return rescored[i].id < rescored[j].id
	})
	if len(rescored) > limit {
		rescored = rescored[:limit]
	}

	out := make([]*candidate, 0, len(rescored))
	for _, s := range rescored {
		c := passageCandidate(s.id, passages[s.id], string(StrategyText), len(out))
		c.score = s.relevance / maxRelevance * textScoreCeiling
		out = append(out, c)
	}
	return out, nil
}

// fetchPassages batch-loads passages and maps them by ID. Orphaned index
// entries (an ID the lore store no longer has) drop out here.
func (e *Engine) fetchPassages(ctx context.Context, ids []string) (map[string]*store.Passage, error) {
	passages, err := e.lore.GetPassages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading passages: %w", err)
	}
	byID := make(map[string]*store.Passage, len(passages))
	for _, p := range passages {
		byID[p.ID] = p
	}
	return byID, nil
}

func passageCandidate(id string, p *store.Passage, source string, rank int) *candidate {
	c := &candidate{
		id:     id,
		kind:   "passage",
		source: source,
		rank:   rank,
	}
	if p == nil {
		return c
	}
	c.content = p.Text
	c.updatedAt = p.UpdatedAt
	if c.updatedAt.IsZero() {
		c.updatedAt = p.CreatedAt
	}
	if p.Meta != nil {
		c.season = p.Meta.Season
		c.episode = p.Meta.Episode
		c.meta = passageMetadata(p.Meta)
	}
	return c
}

func passageMetadata(m *store.PassageMetadata) map[string]string {
	meta := map[string]string{
		"season":  strconv.Itoa(m.Season),
		"episode": strconv.Itoa(m.Episode),
		"scene":   strconv.Itoa(m.Scene),
	}
	if m.Slug != "" {
		meta["slug"] = m.Slug
	}
	if m.Location != "" {
		meta["location"] = m.Location
	}
	if len(m.Characters) > 0 {
		meta["characters"] = strings.Join(m.Characters, ", ")
	}
	if len(m.Tags) > 0 {
		meta["tags"] = strings.Join(m.Tags, ", ")
	}
	return meta
}
