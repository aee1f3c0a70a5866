// Package rarity builds and serves the corpus-wide term rarity dictionary.
// Rare terms carry more weight during lexical rescoring than common ones;
// the weight is the classic IDF curve over passage document frequency.
package rarity

import (
	"math"
	"time"
)

// WeightClass buckets a term's rarity weight into ordinal classes. Classes
// are ordered very_rare > rare > uncommon > common.
type WeightClass string

const (
	WeightVeryRare WeightClass = "very_rare"
	WeightRare     WeightClass = "rare"
	WeightUncommon WeightClass = "uncommon"
	WeightCommon   WeightClass = "common"
)

// CorpusStats is the input to Build: how many passages exist and how many
// contain each term at least once. Terms are normalized tokens as produced
// by the store tokenizer.
type CorpusStats struct {
	TotalDocs int
	DocFreq   map[string]int
}

// Artifact is the serialized form of a dictionary, persisted behind a Store.
type Artifact struct {
	Terms     map[string]float64 `json:"terms"`
	TotalDocs int                `json:"total_docs"`
	BuiltAt   time.Time          `json:"built_at"`
}

// Dictionary maps terms to rarity weights. It is immutable once built;
// refreshes swap in a whole new dictionary, so concurrent readers never
// observe a partially built table.
type Dictionary struct {
	terms     map[string]float64
	totalDocs int
	builtAt   time.Time
}

// Build computes a dictionary from corpus statistics using
// weight = log(totalDocs / (docFreq + 1)), clamped at zero. The weight is
// strictly decreasing in document frequency for a fixed total.
func Build(stats CorpusStats) *Dictionary {
	d := &Dictionary{
		terms:   make(map[string]float64, len(stats.DocFreq)),
		builtAt: time.Now().UTC(),
	}
	if stats.TotalDocs <= 0 {
		return d
	}
	d.totalDocs = stats.TotalDocs
	for term, df := range stats.DocFreq {
		if df < 0 {
			df = 0
		}
		d.terms[term] = idfWeight(stats.TotalDocs, df)
	}
	return d
}

// FromArtifact reconstructs a dictionary from its persisted form.
func FromArtifact(a *Artifact) *Dictionary {
	terms := make(map[string]float64, len(a.Terms))
	for term, w := range a.Terms {
		terms[term] = w
	}
	return &Dictionary{
		terms:     terms,
		totalDocs: a.TotalDocs,
		builtAt:   a.BuiltAt,
	}
}

// Artifact returns the persistable form of the dictionary.
func (d *Dictionary) Artifact() *Artifact {
	terms := make(map[string]float64, len(d.terms))
	for term, w := range d.terms {
		terms[term] = w
	}
	return &Artifact{
		Terms:     terms,
		TotalDocs: d.totalDocs,
		BuiltAt:   d.builtAt,
	}
}

// Weight returns the rarity weight for a term. Terms absent from the corpus
// get the df=0 weight of the same formula, log(totalDocs), since a term
// nobody wrote yet is maximally rare. A cold (empty) dictionary weighs
// everything at zero.
func (d *Dictionary) Weight(term string) float64 {
	if d == nil || d.totalDocs <= 0 {
		return 0
	}
	if w, ok := d.terms[term]; ok {
		return w
	}
	return idfWeight(d.totalDocs, 0)
}

// WeightClass buckets a term's weight relative to the maximum possible
// weight for this corpus size, log(totalDocs+1).
func (d *Dictionary) WeightClass(term string) WeightClass {
	if d == nil || d.totalDocs <= 0 {
		return WeightCommon
	}
	max := math.Log(float64(d.totalDocs) + 1)
	if max <= 0 {
		return WeightCommon
	}
	switch ratio := d.Weight(term) / max; {
	case ratio >= 0.75:
		return WeightVeryRare
	case ratio >= 0.5:
		return WeightRare
	case ratio >= 0.25:
		return WeightUncommon
	default:
		return WeightCommon
	}
}

// TotalDocs reports the corpus size the dictionary was built over.
func (d *Dictionary) TotalDocs() int {
	if d == nil {
		return 0
	}
	return d.totalDocs
}

// BuiltAt reports when the dictionary was built. Zero for a cold dictionary.
func (d *Dictionary) BuiltAt() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.builtAt
}

// Len reports the number of distinct terms.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.terms)
}

func idfWeight(totalDocs, docFreq int) float64 {
	w := math.Log(float64(totalDocs) / float64(docFreq+1))
	if w < 0 {
		return 0
	}
	return w
}
