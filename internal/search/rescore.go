package search

import (
	"strings"

	"github.com/loreweave/loreweave/internal/rarity"
	"github.com/loreweave/loreweave/internal/store"
)

// DictionarySource supplies the live rarity dictionary. Satisfied by
// rarity.Manager; the indirection keeps rescoring testable against a fixed
// dictionary.
type DictionarySource interface {
	Current() *rarity.Dictionary
}

// Rescorer computes lexical relevance identically across index backends:
//
//	relevance = phraseBoost(query, text) x sum_t weight(t) x occurrences(t, text)
//
// phraseBoost applies when the full normalized query occurs in the text as
// a contiguous phrase; weight is the corpus rarity weight; occurrences are
// whole-word matches on normalized text. An exact phrase outweighs rarity,
// and rarity outweighs raw occurrence counts.
type Rescorer struct {
	rarity      DictionarySource
	phraseBoost float64
}

// NewRescorer creates a rescorer. phraseBoost below 1 disables the boost.
func NewRescorer(dict DictionarySource, phraseBoost float64) *Rescorer {
	if phraseBoost < 1 {
		phraseBoost = 1
	}
	return &Rescorer{rarity: dict, phraseBoost: phraseBoost}
}

// Score computes the relevance of a text for the query and its search
// terms. Terms are normalized search keywords; multi-word terms (expanded
// alias forms) count contiguous whole-word phrase occurrences.
func (r *Rescorer) Score(query, text string, terms []string) float64 {
	tokens := store.Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	freq := store.TermFrequencies(tokens)

	sum := 0.0
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = store.NormalizeName(term)
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		n := occurrences(tokens, freq, term)
		if n == 0 {
			continue
		}
		sum += r.weight(term) * float64(n)
	}
	if sum == 0 {
		return 0
	}

	if store.ContainsPhrase(text, query) {
		sum *= r.phraseBoost
	}
	return sum
}

// weight returns the rarity weight of a term. Before the dictionary is
// first built every term weighs 1, degrading rescoring to plain occurrence
// counting instead of zeroing it out. A multi-word term is as rare as its
// rarest word.
func (r *Rescorer) weight(term string) float64 {
	var dict *rarity.Dictionary
	if r.rarity != nil {
		dict = r.rarity.Current()
	}
	if dict.TotalDocs() == 0 {
		return 1
	}

	words := strings.Fields(term)
	if len(words) == 1 {
		return dict.Weight(term)
	}
	max := 0.0
	for _, w := range words {
		if wt := dict.Weight(w); wt > max {
			max = wt
		}
	}
	return max
}

// occurrences counts whole-word matches of a term. Single words read the
// frequency table; multi-word terms scan for contiguous token runs.
func occurrences(tokens []string, freq map[string]int, term string) int {
	words := strings.Fields(term)
	if len(words) == 1 {
		return freq[term]
	}

	count := 0
	for i := 0; i+len(words) <= len(tokens); i++ {
		match := true
		for j, w := range words {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			count++
		}
	}
	return count
}
