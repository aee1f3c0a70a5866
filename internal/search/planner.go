package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loreweave/loreweave/internal/alias"
	loreerr "github.com/loreweave/loreweave/internal/errors"
	"github.com/loreweave/loreweave/internal/store"
)

// Logical tables the structured strategy can target.
const (
	TableCharacters = "characters"
	TablePlaces     = "places"
)

// tableKinds maps plan table names to entity store kinds. A table absent
// from this map is unknown and gets dropped during plan repair.
var tableKinds = map[string]store.EntityKind{
	TableCharacters: store.EntityKindCharacter,
	TablePlaces:     store.EntityKindPlace,
}

// tablesForType derives structured lookup tables from the query type.
// Character and location queries narrow to their own table; every other
// type looks across both, since entities of either kind may be relevant.
func tablesForType(qt QueryType) []string {
	switch qt {
	case QueryTypeCharacter:
		return []string{TableCharacters}
	case QueryTypeLocation:
		return []string{TablePlaces}
	default:
		return []string{TableCharacters, TablePlaces}
	}
}

// RulePlanner is the deterministic default planner. Every plan carries all
// three strategies: structured lookup scoped by query type, vector search
// over every configured model, and text search over alias-expanded
// keywords. It is also the source of defaults when repairing oracle plans.
type RulePlanner struct {
	models  []string
	aliases *alias.Resolver
}

var _ Planner = (*RulePlanner)(nil)

// NewRulePlanner creates the default planner. models is the configured
// embedding model list, in configuration order.
func NewRulePlanner(models []string, aliases *alias.Resolver) *RulePlanner {
	return &RulePlanner{models: models, aliases: aliases}
}

// Plan builds the full default plan for the analyzed query.
func (p *RulePlanner) Plan(_ context.Context, _ string, info QueryInfo) SearchPlan {
	strategies := []Strategy{
		{Kind: StrategyStructured, Priority: PriorityStructured, Tables: tablesForType(info.Type)},
		{Kind: StrategyVector, Priority: PriorityVector, Models: append([]string(nil), p.models...)},
		{Kind: StrategyText, Priority: PriorityText, Keywords: p.expandKeywords(info)},
	}
	return SearchPlan{
		Strategies: strategies,
		Explanation: fmt.Sprintf("rule planner: type=%s entities=%d strategies=%s",
			info.Type, len(info.Entities), describeStrategies(strategies)),
	}
}

// expandKeywords broadens the keyword set through the alias table, so a
// query naming an entity also matches passages using any of its other
// surface forms. Expansion preserves first-seen order and deduplicates.
func (p *RulePlanner) expandKeywords(info QueryInfo) []string {
	seen := make(map[string]struct{})
	var keywords []string
	add := func(term string) {
		if term == "" {
			return
		}
		if _, dup := seen[term]; dup {
			return
		}
		seen[term] = struct{}{}
		keywords = append(keywords, term)
	}

	for _, kw := range info.Keywords {
		if p.aliases == nil {
			add(kw)
			continue
		}
		for _, form := range p.aliases.Resolve(kw) {
			add(form)
		}
	}
	for _, entity := range info.Entities {
		if p.aliases == nil {
			add(store.NormalizeName(entity))
			continue
		}
		for _, form := range p.aliases.Resolve(entity) {
			add(form)
		}
	}
	return keywords
}

// planPrompt asks the oracle for a strategy plan in the exact JSON shape
// oraclePlan parses. The model list is substituted so the oracle cannot
// invent models the executor has no partition for.
const planPrompt = `Plan retrieval strategies for a query against a narrative lore archive.

Available strategies:
- structured_data: entity record lookup, field "tables" from: characters, places
- vector_search: semantic similarity, field "models" from: %s
- text_search: keyword matching, field "keywords" (lowercase terms)

Respond with JSON only, in this shape:
{"strategies":[{"kind":"structured_data","tables":["characters"],"priority":1},{"kind":"vector_search","models":["%s"],"priority":2},{"kind":"text_search","keywords":["example"],"priority":3}]}

Query type: %s
Entities: %s
Query: %s`

// oraclePlan is the JSON shape the oracle answers with.
type oraclePlan struct {
	Strategies []oracleStrategy `json:"strategies"`
}

type oracleStrategy struct {
	Kind     string   `json:"kind"`
	Priority int      `json:"priority"`
	Tables   []string `json:"tables"`
	Models   []string `json:"models"`
	Keywords []string `json:"keywords"`
}

// OraclePlanner asks an LLM to shape the plan, then repairs the answer
// field by field against the rule planner's defaults. A malformed or
// unavailable oracle therefore degrades to exactly the rule plan; planning
// never fails the query.
type OraclePlanner struct {
	oracle *Oracle
	rules  *RulePlanner
}

var _ Planner = (*OraclePlanner)(nil)

// NewOraclePlanner wraps the rule planner with oracle suggestions.
func NewOraclePlanner(oracle *Oracle, rules *RulePlanner) *OraclePlanner {
	return &OraclePlanner{oracle: oracle, rules: rules}
}

// Plan consults the oracle and repairs its suggestion. Every repair is
// noted in the explanation and logged; the caller only ever sees a valid
// plan.
func (p *OraclePlanner) Plan(ctx context.Context, query string, info QueryInfo) SearchPlan {
	fallback := p.rules.Plan(ctx, query, info)

	models := strings.Join(p.rules.models, ", ")
	firstModel := ""
	if len(p.rules.models) > 0 {
		firstModel = p.rules.models[0]
	}
	prompt := fmt.Sprintf(planPrompt, models, firstModel, info.Type, strings.Join(info.Entities, ", "), query)

	answer, err := p.oracle.Generate(ctx, prompt)
	if err != nil {
		slog.Debug("oracle planner unavailable, using rule plan",
			slog.String("code", loreerr.ErrCodeOracleUnavailable),
			slog.Any("error", err))
		fallback.Explanation += "; oracle unavailable, rule plan used"
		return fallback
	}

	var suggested oraclePlan
	if err := json.Unmarshal([]byte(answer), &suggested); err != nil {
		slog.Warn("oracle plan unparseable, using rule plan",
			slog.String("code", loreerr.ErrCodePlanningInvalid),
			slog.Any("error", err))
		fallback.Explanation += "; oracle plan unparseable, rule plan used"
		return fallback
	}

	plan, repairs := p.repair(suggested, info, fallback)
	if len(repairs) > 0 {
		slog.Warn("oracle plan repaired",
			slog.String("code", loreerr.ErrCodePlanningInvalid),
			slog.String("repairs", strings.Join(repairs, "; ")))
	}
	return plan
}

// repair validates an oracle suggestion field by field, synthesizing every
// missing or invalid field from deterministic defaults. It returns the
// repaired plan and the list of repairs applied.
func (p *OraclePlanner) repair(suggested oraclePlan, info QueryInfo, fallback SearchPlan) (SearchPlan, []string) {
	var repairs []string
	var strategies []Strategy
	seen := make(map[StrategyKind]bool)

	for _, s := range suggested.Strategies {
		kind := StrategyKind(strings.ToLower(strings.TrimSpace(s.Kind)))
		switch kind {
		case StrategyStructured, StrategyVector, StrategyText:
		default:
			repairs = append(repairs, fmt.Sprintf("dropped unknown strategy %q", s.Kind))
			continue
		}
		if seen[kind] {
			repairs = append(repairs, fmt.Sprintf("dropped duplicate strategy %q", kind))
			continue
		}
		seen[kind] = true

		strategy := Strategy{Kind: kind, Priority: s.Priority}
		if strategy.Priority <= 0 {
			strategy.Priority = defaultPriority(kind)
			repairs = append(repairs, fmt.Sprintf("assigned priority %d to %s", strategy.Priority, kind))
		}

		switch kind {
		case StrategyStructured:
			for _, t := range s.Tables {
				name := strings.ToLower(strings.TrimSpace(t))
				if _, ok := tableKinds[name]; !ok {
					repairs = append(repairs, fmt.Sprintf("dropped unknown table %q", t))
					continue
				}
				strategy.Tables = append(strategy.Tables, name)
			}
			if len(strategy.Tables) == 0 {
				strategy.Tables = tablesForType(info.Type)
				repairs = append(repairs, fmt.Sprintf("defaulted tables to %v", strategy.Tables))
			}
		case StrategyVector:
			configured := make(map[string]bool, len(p.rules.models))
			for _, m := range p.rules.models {
				configured[m] = true
			}
			for _, m := range s.Models {
				name := strings.TrimSpace(m)
				if !configured[name] {
					repairs = append(repairs, fmt.Sprintf("dropped unknown model %q", m))
					continue
				}
				strategy.Models = append(strategy.Models, name)
			}
			if len(strategy.Models) == 0 {
				strategy.Models = append([]string(nil), p.rules.models...)
				repairs = append(repairs, "defaulted models to configured list")
			}
		case StrategyText:
			for _, kw := range s.Keywords {
				if term := strings.ToLower(strings.TrimSpace(kw)); term != "" {
					strategy.Keywords = append(strategy.Keywords, term)
				}
			}
			if len(strategy.Keywords) == 0 {
				strategy.Keywords = p.rules.expandKeywords(info)
				repairs = append(repairs, "defaulted keywords from query analysis")
			}
		}
		strategies = append(strategies, strategy)
	}

	if len(strategies) == 0 {
		repairs = append(repairs, "empty plan replaced by rule plan")
		fallback.Explanation += "; oracle plan empty, rule plan used"
		return fallback, repairs
	}

	explanation := fmt.Sprintf("oracle planner: type=%s strategies=%s", info.Type, describeStrategies(strategies))
	if len(repairs) > 0 {
		explanation += "; repaired: " + strings.Join(repairs, "; ")
	}
	return SearchPlan{Strategies: strategies, Explanation: explanation}, repairs
}

func defaultPriority(kind StrategyKind) int {
	switch kind {
	case StrategyStructured:
		return PriorityStructured
	case StrategyVector:
		return PriorityVector
	default:
		return PriorityText
	}
}
