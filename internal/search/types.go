// Package search implements the canonical query pipeline:
// analyze -> plan -> execute -> fuse -> return.
//
// The analyzer classifies a raw query and extracts entities and keywords.
// The planner turns that analysis into a set of retrieval strategies. The
// executor runs every planned strategy concurrently against the structured,
// vector, and lexical stores, and fusion merges the evidence into one
// deduplicated, deterministically ranked result list. Ranking never excludes
// evidence: every deduplicated hit is passed through to the caller.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// QueryType classifies what a query is asking about.
type QueryType string

const (
	QueryTypeCharacter QueryType = "character"
	QueryTypeLocation  QueryType = "location"
	QueryTypeEvent     QueryType = "event"
	QueryTypeTheme     QueryType = "theme"
	QueryTypeGeneral   QueryType = "general"
)

// queryTypes lists every valid type, in the order error messages cite them.
var queryTypes = []QueryType{
	QueryTypeCharacter,
	QueryTypeLocation,
	QueryTypeEvent,
	QueryTypeTheme,
	QueryTypeGeneral,
}

// ParseQueryType parses a caller-supplied type string. The empty string is
// not a valid type; callers treat it as "no explicit type".
func ParseQueryType(s string) (QueryType, bool) {
	qt := QueryType(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range queryTypes {
		if qt == valid {
			return qt, true
		}
	}
	return "", false
}

// ValidQueryTypes returns the valid type names for error messages.
func ValidQueryTypes() string {
	names := make([]string, len(queryTypes))
	for i, qt := range queryTypes {
		names[i] = string(qt)
	}
	return strings.Join(names, ", ")
}

// QueryInfo is the analyzer's reading of a raw query.
type QueryInfo struct {
	// Type is the query classification. Never empty: analysis is total
	// and defaults to general.
	Type QueryType

	// Entities are name mentions found in the query, in order of
	// appearance, as written by the caller (possessives stripped).
	Entities []string

	// Keywords are the stopword-filtered normalized query tokens.
	Keywords []string
}

// StrategyKind names a retrieval strategy.
type StrategyKind string

const (
	StrategyStructured StrategyKind = "structured_data"
	StrategyVector     StrategyKind = "vector_search"
	StrategyText       StrategyKind = "text_search"
)

// Default strategy priorities. Lower sorts first; priority breaks score
// ties during fusion, so structured evidence outranks equal-scored text.
const (
	PriorityStructured = 1
	PriorityVector     = 2
	PriorityText       = 3
)

// Strategy is one planned retrieval step. Only the fields for its kind are
// meaningful: Tables for structured_data, Models for vector_search,
// Keywords for text_search.
type Strategy struct {
	Kind     StrategyKind `json:"kind"`
	Priority int          `json:"priority"`
	Tables   []string     `json:"tables,omitempty"`
	Models   []string     `json:"models,omitempty"`
	Keywords []string     `json:"keywords,omitempty"`
}

// SearchPlan is an ordered set of strategies plus a human-readable account
// of how the plan was produced, including any repairs made to an
// oracle-suggested plan.
type SearchPlan struct {
	Strategies  []Strategy `json:"strategies"`
	Explanation string     `json:"explanation"`
}

// Result is one ranked piece of evidence.
type Result struct {
	// ID is the canonical identifier: a passage ID or an entity ID.
	ID string `json:"id"`

	// Kind is what the evidence is: "passage", or an entity kind such
	// as "character" or "place".
	Kind string `json:"kind"`

	// Content is the passage text or the entity description.
	Content string `json:"content"`

	// Score is the final fused score. Scores order results; they are
	// not probabilities.
	Score float64 `json:"score"`

	// Metadata carries descriptive fields: scene coordinates for
	// passages, name and aliases for entities.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Source names the strategy that first produced this result.
	Source string `json:"source"`
}

// ResponseMetadata describes how a response was produced.
type ResponseMetadata struct {
	// StrategiesExecuted lists every launched strategy in priority
	// order, including strategies that failed and contributed nothing.
	StrategiesExecuted []string `json:"strategies_executed"`

	// Timings holds per-stage and per-strategy wall times.
	Timings map[string]time.Duration `json:"timings"`

	// PlanExplanation is the planner's account of the plan.
	PlanExplanation string `json:"plan_explanation"`
}

// Response is the full answer to a query.
type Response struct {
	Query     string           `json:"query"`
	QueryType QueryType        `json:"query_type"`
	Results   []*Result        `json:"results"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// Analyzer classifies queries and extracts entities and keywords. Analysis
// is total: it never fails and always yields a valid QueryInfo, so
// implementations with fallible refinement (the oracle) must fall back to
// the deterministic baseline rather than error.
type Analyzer interface {
	Analyze(ctx context.Context, rawQuery string, explicitType QueryType) QueryInfo
}

// Planner turns query analysis into a search plan. Planning is total for
// the same reason analysis is: a planner that consults an external oracle
// repairs or replaces invalid suggestions instead of failing the query.
type Planner interface {
	Plan(ctx context.Context, query string, info QueryInfo) SearchPlan
}

// MetricsRecorder receives one record per completed query. Implemented by
// the telemetry collector; nil disables recording.
type MetricsRecorder interface {
	RecordQuery(ctx context.Context, rec QueryRecord)
}

// QueryRecord is the per-query telemetry datum.
type QueryRecord struct {
	Query       string
	Type        QueryType
	Strategies  []string
	ResultCount int
	Duration    time.Duration
}

// describeStrategies renders strategy kinds for explanations and logs.
func describeStrategies(strategies []Strategy) string {
	kinds := make([]string, len(strategies))
	for i, s := range strategies {
		kinds[i] = string(s.Kind)
	}
	return fmt.Sprintf("[%s]", strings.Join(kinds, " "))
}
