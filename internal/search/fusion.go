package search

import (
	"sort"
	"time"

	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/store"
)

// candidate is one piece of evidence as it moves through execution and
// fusion, before being shaped into a Result.
type candidate struct {
	id      string
	kind    string
	content string

	// score is the strategy-native score: lookup confidence for
	// structured hits, capped rescored relevance for text hits. Vector
	// hits leave it zero and carry per-model similarities instead.
	score  float64
	models map[string]float64

	source string
	rank   int
	meta   map[string]string

	season    int
	episode   int
	updatedAt time.Time
}

// Fuser merges per-strategy candidate lists into one ranked result list.
type Fuser struct {
	weights       map[string]float64
	entityBoost   float64
	recencyBoost  float64
	recencyWindow time.Duration

	// now is a clock seam for recency tests.
	now func() time.Time
}

// NewFuser creates a fuser from search configuration and the configured
// model weights. Boost factors at or below zero are disabled (treated as 1).
func NewFuser(cfg config.SearchConfig, weights map[string]float64) *Fuser {
	entityBoost := cfg.EntityBoost
	if entityBoost <= 0 {
		entityBoost = 1
	}
	recencyBoost := cfg.RecencyBoost
	if recencyBoost <= 0 {
		recencyBoost = 1
	}
	return &Fuser{
		weights:       weights,
		entityBoost:   entityBoost,
		recencyBoost:  recencyBoost,
		recencyWindow: cfg.RecencyWindowDuration(),
		now:           time.Now,
	}
}

// Fuse combines per-strategy candidate lists into the final ranking:
//
//  1. Vector evidence fuses per-model similarities as a weighted average
//     over the models that actually returned the item, so one model's
//     absence redistributes weight instead of dragging the score down.
//  2. Entity and recency boosts multiply the base score, in that order.
//  3. Lists merge across strategies, deduplicating on canonical ID. The
//     first list (lowest strategy priority) to produce an ID supplies its
//     descriptive fields; duplicate scores combine by max, which is
//     idempotent and independent of arrival order.
//  4. Results sort by score descending, breaking ties by strategy rank
//     then ID, and truncate to k.
//
// lists must be ordered by ascending strategy priority. aliasForms are the
// surface forms of the query's entities, used for the mention boost.
func (f *Fuser) Fuse(info QueryInfo, aliasForms []string, lists [][]*candidate, k int) []*candidate {
	merged := make(map[string]*candidate)
	order := make([]string, 0, 16)

	for _, list := range lists {
		for _, c := range list {
			score := f.boost(f.baseScore(c), c, info, aliasForms)

			existing, ok := merged[c.id]
			if !ok {
				kept := *c
				kept.score = score
				merged[c.id] = &kept
				order = append(order, c.id)
				continue
			}
			if score > existing.score {
				existing.score = score
			}
			if c.rank < existing.rank {
				existing.rank = c.rank
			}
		}
	}

	fused := make([]*candidate, 0, len(order))
	for _, id := range order {
		fused = append(fused, merged[id])
	}

	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.id < b.id
	})

	if k > 0 && len(fused) > k {
		fused = fused[:k]
	}
	return fused
}

// baseScore resolves a candidate's pre-boost score. Vector candidates
// average their per-model similarities weighted by the configured model
// weights, renormalized over the models present; an item seen by a single
// model keeps that model's raw score exactly.
func (f *Fuser) baseScore(c *candidate) float64 {
	if len(c.models) == 0 {
		return c.score
	}

	var weighted, total float64
	for model, sim := range c.models {
		w, ok := f.weights[model]
		if !ok || w <= 0 {
			w = 1
		}
		weighted += sim * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// boost applies the multiplicative boosts, entity first, then recency.
func (f *Fuser) boost(score float64, c *candidate, info QueryInfo, aliasForms []string) float64 {
	if f.entityBoost != 1 && f.entityMatch(c, info, aliasForms) {
		score *= f.entityBoost
	}
	if f.recencyBoost != 1 && f.recent(c) {
		score *= f.recencyBoost
	}
	return score
}

// entityMatch reports whether the candidate is about the query's subject:
// its kind matches the query type, or its text mentions any surface form
// of a query entity.
func (f *Fuser) entityMatch(c *candidate, info QueryInfo, aliasForms []string) bool {
	if kindMatchesType(c.kind, info.Type) {
		return true
	}
	if c.content == "" {
		return false
	}
	for _, form := range aliasForms {
		if store.ContainsPhrase(c.content, form) {
			return true
		}
	}
	return false
}

func (f *Fuser) recent(c *candidate) bool {
	if f.recencyWindow <= 0 || c.updatedAt.IsZero() {
		return false
	}
	return f.now().Sub(c.updatedAt) <= f.recencyWindow
}

// kindMatchesType relates entity kinds to the query types that ask about
// them. Passages never match on kind; they earn the boost through alias
// mentions in their text.
func kindMatchesType(kind string, qt QueryType) bool {
	switch qt {
	case QueryTypeCharacter:
		return kind == string(store.EntityKindCharacter)
	case QueryTypeLocation:
		return kind == string(store.EntityKindPlace)
	default:
		return false
	}
}
