package rarity

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_WeightFormula(t *testing.T) {
	// Given: a corpus of 100 docs with known document frequencies
	dict := Build(CorpusStats{
		TotalDocs: 100,
		DocFreq: map[string]int{
			"wyvern":    0,
			"havenmoor": 9,
			"morning":   49,
			"said":      99,
		},
	})

	// Then: weight = log(totalDocs / (docFreq + 1))
	assert.InDelta(t, math.Log(100.0/1.0), dict.Weight("wyvern"), 1e-9)
	assert.InDelta(t, math.Log(100.0/10.0), dict.Weight("havenmoor"), 1e-9)
	assert.InDelta(t, math.Log(100.0/50.0), dict.Weight("morning"), 1e-9)
	assert.InDelta(t, 0.0, dict.Weight("said"), 1e-9)
}

func TestBuild_WeightStrictlyDecreasingInDocFreq(t *testing.T) {
	const totalDocs = 50
	docFreqs := []int{0, 1, 2, 5, 10, 24, 49}

	df := make(map[string]int, len(docFreqs))
	terms := make([]string, len(docFreqs))
	for i, freq := range docFreqs {
		term := string(rune('a' + i))
		terms[i] = term
		df[term] = freq
	}
	dict := Build(CorpusStats{TotalDocs: totalDocs, DocFreq: df})

	for i := 1; i < len(terms); i++ {
		prev := dict.Weight(terms[i-1])
		curr := dict.Weight(terms[i])
		assert.Greater(t, prev, curr,
			"weight at df=%d should exceed weight at df=%d", docFreqs[i-1], docFreqs[i])
	}
}

func TestBuild_WeightClampedAtZero(t *testing.T) {
	// Given: a term appearing in more documents than the formula can reward
	dict := Build(CorpusStats{
		TotalDocs: 10,
		DocFreq:   map[string]int{"the": 14},
	})

	assert.Equal(t, 0.0, dict.Weight("the"))
}

func TestDictionary_AbsentTermGetsMaximumWeight(t *testing.T) {
	// Given: a built dictionary
	dict := Build(CorpusStats{
		TotalDocs: 100,
		DocFreq:   map[string]int{"havenmoor": 9},
	})

	// Then: a term nobody wrote is weighted as df=0
	assert.InDelta(t, math.Log(100.0), dict.Weight("neverseen"), 1e-9)
	assert.Greater(t, dict.Weight("neverseen"), dict.Weight("havenmoor"))
}

func TestDictionary_ColdWeighsEverythingZero(t *testing.T) {
	var nilDict *Dictionary
	cold := &Dictionary{}

	assert.Equal(t, 0.0, nilDict.Weight("dragon"))
	assert.Equal(t, 0.0, cold.Weight("dragon"))
	assert.Equal(t, WeightCommon, nilDict.WeightClass("dragon"))
	assert.Equal(t, WeightCommon, cold.WeightClass("dragon"))
	assert.Equal(t, 0, cold.TotalDocs())
	assert.True(t, cold.BuiltAt().IsZero())
}

func TestDictionary_WeightClassBuckets(t *testing.T) {
	// Given: 99 docs, so the class ceiling is log(100)
	dict := Build(CorpusStats{
		TotalDocs: 99,
		DocFreq: map[string]int{
			"wyvern":    0,  // log(99)    / log(100) ≈ 0.998
			"havenmoor": 5,  // log(16.5)  / log(100) ≈ 0.609
			"archive":   15, // log(6.19)  / log(100) ≈ 0.396
			"morning":   60, // log(1.62)  / log(100) ≈ 0.105
			"said":      98, // log(1)     = 0
		},
	})

	tests := []struct {
		term   string
		expect WeightClass
	}{
		{"wyvern", WeightVeryRare},
		{"havenmoor", WeightRare},
		{"archive", WeightUncommon},
		{"morning", WeightCommon},
		{"said", WeightCommon},
		{"neverseen", WeightVeryRare}, // absent = df 0
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			assert.Equal(t, tt.expect, dict.WeightClass(tt.term))
		})
	}
}

func TestBuild_EmptyCorpus(t *testing.T) {
	dict := Build(CorpusStats{TotalDocs: 0, DocFreq: map[string]int{"dragon": 0}})

	assert.Equal(t, 0, dict.TotalDocs())
	assert.Equal(t, 0, dict.Len())
	assert.Equal(t, 0.0, dict.Weight("dragon"))
	assert.Equal(t, WeightCommon, dict.WeightClass("dragon"))
}

func TestBuild_SetsBuiltAt(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)

	dict := Build(CorpusStats{TotalDocs: 1, DocFreq: map[string]int{"dragon": 0}})

	assert.False(t, dict.BuiltAt().IsZero())
	assert.True(t, dict.BuiltAt().After(before))
}

func TestDictionary_ArtifactRoundTrip(t *testing.T) {
	// Given: a built dictionary
	original := Build(CorpusStats{
		TotalDocs: 42,
		DocFreq:   map[string]int{"dragon": 3, "havenmoor": 10},
	})

	// When: converting to an artifact and back
	restored := FromArtifact(original.Artifact())

	// Then: weights, size, and timestamps survive
	assert.Equal(t, original.TotalDocs(), restored.TotalDocs())
	assert.Equal(t, original.Len(), restored.Len())
	assert.True(t, original.BuiltAt().Equal(restored.BuiltAt()))
	assert.InDelta(t, original.Weight("dragon"), restored.Weight("dragon"), 1e-12)
	assert.InDelta(t, original.Weight("havenmoor"), restored.Weight("havenmoor"), 1e-12)
	assert.InDelta(t, original.Weight("absent"), restored.Weight("absent"), 1e-12)
}

func TestDictionary_ArtifactCopiesTerms(t *testing.T) {
	dict := Build(CorpusStats{TotalDocs: 10, DocFreq: map[string]int{"dragon": 1}})

	// When: mutating the exported artifact
	artifact := dict.Artifact()
	artifact.Terms["dragon"] = 99.0

	// Then: the dictionary itself is unaffected
	require.InDelta(t, math.Log(10.0/2.0), dict.Weight("dragon"), 1e-9)
}

func BenchmarkDictionary_Weight(b *testing.B) {
	df := make(map[string]int, 10000)
	for i := 0; i < 10000; i++ {
		df[string(rune('a'+i%26))+string(rune('a'+(i/26)%26))+string(rune('a'+(i/676)%26))] = i % 500
	}
	dict := Build(CorpusStats{TotalDocs: 1000, DocFreq: df})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dict.Weight("abc")
	}
}
