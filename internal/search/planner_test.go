package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/internal/alias"
)

func newTestRulePlanner(t *testing.T) *RulePlanner {
	t.Helper()
	resolver := alias.NewResolver(staticEntities{
		character("e1", "Sullivan", "Sully"),
	}, "")
	require.NoError(t, resolver.Refresh(context.Background()))
	return NewRulePlanner([]string{"alpha", "beta"}, resolver)
}

func strategyByKind(t *testing.T, plan SearchPlan, kind StrategyKind) Strategy {
	t.Helper()
	for _, s := range plan.Strategies {
		if s.Kind == kind {
			return s
		}
	}
	t.Fatalf("plan has no %s strategy", kind)
	return Strategy{}
}

// --- Rule planner ---

func TestRulePlan_AlwaysThreeStrategiesInPriorityOrder(t *testing.T) {
	p := newTestRulePlanner(t)

	plan := p.Plan(context.Background(), "Who is Sullivan?", QueryInfo{Type: QueryTypeCharacter})

	require.Len(t, plan.Strategies, 3)
	assert.Equal(t, StrategyStructured, plan.Strategies[0].Kind)
	assert.Equal(t, PriorityStructured, plan.Strategies[0].Priority)
	assert.Equal(t, StrategyVector, plan.Strategies[1].Kind)
	assert.Equal(t, PriorityVector, plan.Strategies[1].Priority)
	assert.Equal(t, StrategyText, plan.Strategies[2].Kind)
	assert.Equal(t, PriorityText, plan.Strategies[2].Priority)
	assert.NotEmpty(t, plan.Explanation)
}

func TestRulePlan_TablesFollowQueryType(t *testing.T) {
	p := newTestRulePlanner(t)

	tests := []struct {
		qt     QueryType
		tables []string
	}{
		{QueryTypeCharacter, []string{TableCharacters}},
		{QueryTypeLocation, []string{TablePlaces}},
		{QueryTypeEvent, []string{TableCharacters, TablePlaces}},
		{QueryTypeTheme, []string{TableCharacters, TablePlaces}},
		{QueryTypeGeneral, []string{TableCharacters, TablePlaces}},
	}
	for _, tt := range tests {
		plan := p.Plan(context.Background(), "q", QueryInfo{Type: tt.qt})
		structured := strategyByKind(t, plan, StrategyStructured)
		assert.Equal(t, tt.tables, structured.Tables, "type %s", tt.qt)
	}
}

func TestRulePlan_VectorStrategyCarriesConfiguredModels(t *testing.T) {
	p := newTestRulePlanner(t)

	plan := p.Plan(context.Background(), "q", QueryInfo{Type: QueryTypeGeneral})

	vector := strategyByKind(t, plan, StrategyVector)
	assert.Equal(t, []string{"alpha", "beta"}, vector.Models)
}

func TestRulePlan_KeywordsExpandThroughAliases(t *testing.T) {
	p := newTestRulePlanner(t)

	plan := p.Plan(context.Background(), "Who is Sullivan?", QueryInfo{
		Type:     QueryTypeCharacter,
		Entities: []string{"Sullivan"},
		Keywords: []string{"sullivan"},
	})

	text := strategyByKind(t, plan, StrategyText)
	assert.Contains(t, text.Keywords, "sullivan")
	assert.Contains(t, text.Keywords, "sully")
}

func TestRulePlan_KeywordsDeduplicatedAfterExpansion(t *testing.T) {
	p := newTestRulePlanner(t)

	plan := p.Plan(context.Background(), "q", QueryInfo{
		Type:     QueryTypeCharacter,
		Entities: []string{"Sullivan", "Sully"},
		Keywords: []string{"sullivan", "sully"},
	})

	text := strategyByKind(t, plan, StrategyText)
	seen := make(map[string]int)
	for _, kw := range text.Keywords {
		seen[kw]++
	}
	for kw, n := range seen {
		assert.Equal(t, 1, n, "keyword %q appears %d times", kw, n)
	}
}

func TestRulePlan_Deterministic(t *testing.T) {
	p := newTestRulePlanner(t)
	info := QueryInfo{Type: QueryTypeCharacter, Entities: []string{"Sullivan"}, Keywords: []string{"tavern"}}

	first := p.Plan(context.Background(), "q", info)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, p.Plan(context.Background(), "q", info))
	}
}

// --- Oracle plan repair ---

func repairPlanner(t *testing.T) *OraclePlanner {
	t.Helper()
	return NewOraclePlanner(nil, newTestRulePlanner(t))
}

func TestRepair_DropsUnknownStrategy(t *testing.T) {
	p := repairPlanner(t)
	info := QueryInfo{Type: QueryTypeGeneral}
	fallback := p.rules.Plan(context.Background(), "q", info)

	suggested := oraclePlan{}
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("graph_walk", 1))
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("text_search", 3, withKeywords("tavern")))

	plan, repairs := p.repair(suggested, info, fallback)

	require.Len(t, plan.Strategies, 1)
	assert.Equal(t, StrategyText, plan.Strategies[0].Kind)
	assert.NotEmpty(t, repairs)
}

func TestRepair_DropsDuplicateStrategy(t *testing.T) {
	p := repairPlanner(t)
	info := QueryInfo{Type: QueryTypeGeneral}
	fallback := p.rules.Plan(context.Background(), "q", info)

	suggested := oraclePlan{}
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("text_search", 1, withKeywords("tavern")))
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("text_search", 2, withKeywords("keep")))

	plan, _ := p.repair(suggested, info, fallback)

	count := 0
	for _, s := range plan.Strategies {
		if s.Kind == StrategyText {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRepair_UnknownTableDefaultsFromQueryType(t *testing.T) {
	p := repairPlanner(t)
	info := QueryInfo{Type: QueryTypeCharacter}
	fallback := p.rules.Plan(context.Background(), "q", info)

	suggested := oraclePlan{}
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("structured_data", 1, withTables("spaceships")))

	plan, repairs := p.repair(suggested, info, fallback)

	structured := strategyByKind(t, plan, StrategyStructured)
	assert.Equal(t, []string{TableCharacters}, structured.Tables)
	assert.NotEmpty(t, repairs)
}

func TestRepair_UnknownModelDefaultsToConfiguredList(t *testing.T) {
	p := repairPlanner(t)
	info := QueryInfo{Type: QueryTypeGeneral}
	fallback := p.rules.Plan(context.Background(), "q", info)

	suggested := oraclePlan{}
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("vector_search", 2, withModels("gpt-12-huge")))

	plan, _ := p.repair(suggested, info, fallback)

	vector := strategyByKind(t, plan, StrategyVector)
	assert.Equal(t, []string{"alpha", "beta"}, vector.Models)
}

func TestRepair_MissingPriorityAssigned(t *testing.T) {
	p := repairPlanner(t)
	info := QueryInfo{Type: QueryTypeGeneral}
	fallback := p.rules.Plan(context.Background(), "q", info)

	suggested := oraclePlan{}
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("vector_search", 0, withModels("alpha")))

	plan, repairs := p.repair(suggested, info, fallback)

	vector := strategyByKind(t, plan, StrategyVector)
	assert.Equal(t, PriorityVector, vector.Priority)
	assert.NotEmpty(t, repairs)
}

func TestRepair_EmptyKeywordsDefaultFromAnalysis(t *testing.T) {
	p := repairPlanner(t)
	info := QueryInfo{Type: QueryTypeCharacter, Entities: []string{"Sullivan"}, Keywords: []string{"sullivan"}}
	fallback := p.rules.Plan(context.Background(), "q", info)

	suggested := oraclePlan{}
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("text_search", 3))

	plan, _ := p.repair(suggested, info, fallback)

	text := strategyByKind(t, plan, StrategyText)
	assert.Contains(t, text.Keywords, "sullivan")
	assert.Contains(t, text.Keywords, "sully")
}

func TestRepair_EmptyPlanReplacedByRulePlan(t *testing.T) {
	p := repairPlanner(t)
	info := QueryInfo{Type: QueryTypeGeneral}
	fallback := p.rules.Plan(context.Background(), "q", info)

	plan, repairs := p.repair(oraclePlan{}, info, fallback)

	assert.Len(t, plan.Strategies, 3)
	assert.NotEmpty(t, repairs)
}

func TestRepair_ValidPlanPassesUntouched(t *testing.T) {
	p := repairPlanner(t)
	info := QueryInfo{Type: QueryTypeCharacter}
	fallback := p.rules.Plan(context.Background(), "q", info)

	suggested := oraclePlan{}
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("structured_data", 1, withTables("characters")))
	suggested.Strategies = append(suggested.Strategies, suggestStrategy("text_search", 2, withKeywords("tavern")))

	plan, repairs := p.repair(suggested, info, fallback)

	assert.Empty(t, repairs)
	require.Len(t, plan.Strategies, 2)
	assert.Equal(t, []string{"characters"}, plan.Strategies[0].Tables)
	assert.Equal(t, []string{"tavern"}, plan.Strategies[1].Keywords)
}

// --- oracle suggestion helpers ---

type oracleStrategyOption func(*oracleStrategy)

func suggestStrategy(kind string, priority int, opts ...oracleStrategyOption) oracleStrategy {
	s := oracleStrategy{Kind: kind, Priority: priority}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func withTables(tables ...string) oracleStrategyOption {
	return func(s *oracleStrategy) { s.Tables = tables }
}

func withModels(models ...string) oracleStrategyOption {
	return func(s *oracleStrategy) { s.Models = models }
}

func withKeywords(keywords ...string) oracleStrategyOption {
	return func(s *oracleStrategy) { s.Keywords = keywords }
}
