package search

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/loreweave/loreweave/internal/alias"
	"github.com/loreweave/loreweave/internal/store"
)

// Classification patterns, compiled once. The first matching pattern wins,
// checked in the order character, location, event, theme; a query matching
// none of them is general. Classification is a total function of the query
// text, so the same query always routes the same way.
var (
	characterPattern = regexp.MustCompile(`(?i)\b(who\s+(?:is|was|are|were)|who'?s|character|protagonist|villain|companion|person|people|relationship)\b`)

	locationPattern = regexp.MustCompile(`(?i)\b(where\s+(?:is|was|are|were|did|do|does)|where'?s|location|place|city|town|village|castle|keep|tavern|temple|region|realm|kingdom)\b`)

	eventPattern = regexp.MustCompile(`(?i)\b(what\s+happen(?:s|ed)?|when\s+(?:did|was|were|do|does)|event|battle|war|siege|fight|attack|death|died|wedding|festival|journey|timeline)\b`)

	themePattern = regexp.MustCompile(`(?i)\b(theme|motif|symbol(?:s|ism|ize[sd]?)?|meaning|metaphor|foreshadow\w*|represent\w*|why\s+(?:did|does|do|is|was|are|were))\b`)

	// queryWordRegex splits a raw query into words, keeping the original
	// case so entity extraction can use capitalization.
	queryWordRegex = regexp.MustCompile(`[a-zA-Z0-9']+`)
)

// queryStopWords extends the corpus stop words with interrogatives and
// request verbs that carry no retrieval signal in a query. First-person
// pronouns are deliberately absent: they resolve to the protagonist and
// must survive into the keyword set.
var queryStopWords = buildQueryStopWords()

func buildQueryStopWords() map[string]struct{} {
	m := store.BuildStopWordMap(store.DefaultStopWords)
	for _, w := range []string{
		"who", "what", "where", "why", "how", "whom", "whose",
		"tell", "show", "describe", "explain", "find", "list", "give",
		"know", "mean", "say", "can", "any", "all", "some", "ever",
		"again", "please", "you", "your", "we", "us", "our",
	} {
		m[w] = struct{}{}
	}
	return m
}

// PatternAnalyzer is the deterministic baseline analyzer. It classifies
// with compiled patterns, extracts entities against the alias table plus
// capitalization, and filters keywords through stop words. It never errors
// and never returns an empty type.
type PatternAnalyzer struct {
	aliases *alias.Resolver
}

var _ Analyzer = (*PatternAnalyzer)(nil)

// NewPatternAnalyzer creates the baseline analyzer. aliases may be a
// resolver with an empty table; entity extraction then relies on
// capitalization alone.
func NewPatternAnalyzer(aliases *alias.Resolver) *PatternAnalyzer {
	return &PatternAnalyzer{aliases: aliases}
}

// Analyze classifies the query and extracts entities and keywords. A valid
// explicit type wins over classification; entity and keyword extraction
// always run.
func (a *PatternAnalyzer) Analyze(_ context.Context, rawQuery string, explicitType QueryType) QueryInfo {
	info := QueryInfo{
		Type:     a.classify(rawQuery, explicitType),
		Entities: a.extractEntities(rawQuery),
		Keywords: extractKeywords(rawQuery),
	}
	return info
}

func (a *PatternAnalyzer) classify(rawQuery string, explicitType QueryType) QueryType {
	if explicitType != "" {
		if qt, ok := ParseQueryType(string(explicitType)); ok {
			return qt
		}
	}
	switch {
	case characterPattern.MatchString(rawQuery):
		return QueryTypeCharacter
	case locationPattern.MatchString(rawQuery):
		return QueryTypeLocation
	case eventPattern.MatchString(rawQuery):
		return QueryTypeEvent
	case themePattern.MatchString(rawQuery):
		return QueryTypeTheme
	default:
		return QueryTypeGeneral
	}
}

// extractEntities finds name mentions in the query. Multi-word names known
// to the alias table are matched longest-first (three words, then two, then
// one) so "Lady Veyra" is one entity, not two. Unknown words still count
// when capitalized mid-query, which catches names that have no entity
// record yet. First-person pronouns never count as mentions here; they are
// resolved later, during keyword expansion.
func (a *PatternAnalyzer) extractEntities(rawQuery string) []string {
	words := queryWordRegex.FindAllString(rawQuery, -1)
	if len(words) == 0 {
		return nil
	}
	for i, w := range words {
		words[i] = strings.TrimSuffix(w, "'s")
	}

	consumed := make([]bool, len(words))
	var entities []string
	seen := make(map[string]struct{})

	add := func(surface string) {
		key := store.NormalizeName(surface)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		entities = append(entities, surface)
	}

	for width := 3; width >= 1; width-- {
		for i := 0; i+width <= len(words); i++ {
			if anyConsumed(consumed[i : i+width]) {
				continue
			}
			surface := strings.Join(words[i:i+width], " ")
			if isPronounForm(surface) {
				continue
			}
			known := a.aliases != nil && a.aliases.Known(surface)
			if !known && width == 1 {
				known = i > 0 && isCapitalizedName(words[i])
			}
			if !known {
				continue
			}
			add(surface)
			for j := i; j < i+width; j++ {
				consumed[j] = true
			}
		}
	}
	return entities
}

func anyConsumed(window []bool) bool {
	for _, c := range window {
		if c {
			return true
		}
	}
	return false
}

// isCapitalizedName reports whether a mid-query word looks like a proper
// name: leading uppercase and not a stop word.
func isCapitalizedName(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 || !unicode.IsUpper(runes[0]) {
		return false
	}
	_, stop := queryStopWords[strings.ToLower(word)]
	return !stop
}

func isPronounForm(surface string) bool {
	switch strings.ToLower(surface) {
	case "i", "me", "my", "mine", "myself":
		return true
	}
	return false
}

// extractKeywords tokenizes the query and drops stop words, preserving
// order and deduplicating.
func extractKeywords(rawQuery string) []string {
	tokens := store.FilterStopWords(store.Tokenize(rawQuery), queryStopWords)
	seen := make(map[string]struct{}, len(tokens))
	keywords := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		keywords = append(keywords, t)
	}
	return keywords
}
