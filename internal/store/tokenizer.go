package store

import (
	"regexp"
	"strings"
)

// wordRegex matches word runs, keeping apostrophes so contractions and
// possessives can be stripped as a unit.
var wordRegex = regexp.MustCompile(`[a-zA-Z0-9']+`)

// Tokenize splits prose into lowercase word tokens. Possessive suffixes are
// stripped ("Sullivan's" -> "sullivan") and tokens shorter than 2 characters
// are dropped.
func Tokenize(text string) []string {
	words := wordRegex.FindAllString(text, -1)

	tokens := make([]string, 0, len(words))
	for _, word := range words {
		token := normalizeToken(word)
		if len(token) >= 2 {
			tokens = append(tokens, token)
		}
	}

	return tokens
}

// normalizeToken lowercases a word and strips apostrophes and possessive
// suffixes.
func normalizeToken(word string) string {
	token := strings.ToLower(word)
	token = strings.Trim(token, "'")
	token = strings.TrimSuffix(token, "'s")
	return strings.ReplaceAll(token, "'", "")
}

// NormalizeText lowercases text and collapses every non-word run into a
// single space. Used for whole-phrase and whole-word matching.
func NormalizeText(text string) string {
	return strings.Join(wordRegexSplit(text), " ")
}

func wordRegexSplit(text string) []string {
	words := wordRegex.FindAllString(text, -1)
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		if t := normalizeToken(w); t != "" {
			normalized = append(normalized, t)
		}
	}
	return normalized
}

// NormalizeName canonicalizes an entity name or alias for lookup: lowercase,
// punctuation stripped, inner whitespace collapsed.
func NormalizeName(name string) string {
	return NormalizeText(name)
}

// ContainsPhrase reports whether the normalized phrase occurs in the text as
// a contiguous whole-word sequence.
func ContainsPhrase(text, phrase string) bool {
	np := NormalizeText(phrase)
	if np == "" {
		return false
	}
	nt := " " + NormalizeText(text) + " "
	return strings.Contains(nt, " "+np+" ")
}

// CountOccurrences returns the whole-word occurrence count of term in text.
func CountOccurrences(text, term string) int {
	t := normalizeToken(term)
	if t == "" {
		return 0
	}
	count := 0
	for _, token := range Tokenize(text) {
		if token == t {
			count++
		}
	}
	return count
}

// TermFrequencies counts token occurrences.
func TermFrequencies(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}

// UniqueTokens returns the distinct tokens of a text, order preserved.
// Rarity building counts each term once per document.
func UniqueTokens(text string) []string {
	seen := make(map[string]struct{})
	var unique []string
	for _, t := range Tokenize(text) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// DefaultStopWords contains common English function words that carry no
// retrieval signal in narrative text.
var DefaultStopWords = []string{
	"the", "a", "an", "and", "or", "but", "of", "in", "on", "at", "to",
	"for", "with", "from", "by", "as", "is", "are", "was", "were", "be",
	"been", "being", "it", "its", "this", "that", "these", "those", "he",
	"she", "they", "them", "his", "her", "their", "then", "than", "so",
	"not", "no", "do", "does", "did", "has", "have", "had", "will",
	"would", "could", "should", "there", "here", "into", "about", "over",
	"up", "down", "out", "very", "just", "when", "while",
}
