package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/internal/search"
)

func sampleResponse() *search.Response {
	return &search.Response{
		Query:     "Who is Sullivan?",
		QueryType: search.QueryTypeCharacter,
		Results: []*search.Result{
			{
				ID:      "char-sullivan",
				Kind:    "character",
				Content: "The harbor master of Harrowgate.",
				Score:   1.25,
				Source:  "structured_data",
				Metadata: map[string]string{
					"name":    "Sullivan",
					"aliases": "Sully",
				},
			},
			{
				ID:      "s01e01-sc01",
				Kind:    "passage",
				Content: "Sullivan watched the storm roll in.",
				Score:   0.81,
				Source:  "text_search",
				Metadata: map[string]string{
					"season":   "1",
					"episode":  "1",
					"scene":    "1",
					"slug":     "the-harbor",
					"location": "Harrowgate",
				},
			},
		},
		Metadata: search.ResponseMetadata{
			StrategiesExecuted: []string{"structured_data", "vector_search", "text_search"},
			Timings:            map[string]time.Duration{"total": time.Millisecond},
			PlanExplanation:    "rule plan for character query",
		},
	}
}

func TestFormatQueryResults_RendersEntityAndPassage(t *testing.T) {
	md := FormatQueryResults(sampleResponse())

	assert.Contains(t, md, `## Results for "Who is Sullivan?"`)
	assert.Contains(t, md, "Found 2 results")
	assert.Contains(t, md, "### 1. Sullivan (character, score: 1.25)")
	assert.Contains(t, md, "**Aliases:** Sully")
	assert.Contains(t, md, "The harbor master of Harrowgate.")
	assert.Contains(t, md, "### 2. the-harbor (passage, score: 0.81)")
	assert.Contains(t, md, "**ID:** `s01e01-sc01`")
	assert.Contains(t, md, "**Scene:** S1E1 scene 1")
	assert.Contains(t, md, "**Location:** Harrowgate")
}

func TestFormatQueryResults_EmptyResponse(t *testing.T) {
	md := FormatQueryResults(&search.Response{Query: "the void"})
	assert.Equal(t, `No results found for "the void"`, md)
}

func TestFormatQueryResults_NilResponse(t *testing.T) {
	assert.Equal(t, `No results found for ""`, FormatQueryResults(nil))
}

func TestFormatQueryResults_SingularResultCount(t *testing.T) {
	resp := sampleResponse()
	resp.Results = resp.Results[:1]

	md := FormatQueryResults(resp)
	assert.Contains(t, md, "Found 1 result\n")
	assert.NotContains(t, md, "Found 1 results")
}

func TestToQueryOutput_CarriesEverything(t *testing.T) {
	out := ToQueryOutput(sampleResponse())

	assert.Equal(t, "Who is Sullivan?", out.Query)
	assert.Equal(t, "character", out.QueryType)
	assert.Equal(t, []string{"structured_data", "vector_search", "text_search"}, out.Strategies)
	assert.Equal(t, "rule plan for character query", out.PlanExplanation)

	require.Len(t, out.Results, 2)
	assert.Equal(t, "char-sullivan", out.Results[0].ID)
	assert.Equal(t, 1.25, out.Results[0].Score)
	assert.Equal(t, "structured_data", out.Results[0].Source)
	assert.Equal(t, "Harrowgate", out.Results[1].Metadata["location"])
}

func TestToQueryOutput_NilResponse(t *testing.T) {
	out := ToQueryOutput(nil)
	assert.Empty(t, out.Results)
}

func TestSceneLabel(t *testing.T) {
	assert.Equal(t, "S1E2 scene 3", sceneLabel(map[string]string{"season": "1", "episode": "2", "scene": "3"}))
	assert.Equal(t, "S1E2", sceneLabel(map[string]string{"season": "1", "episode": "2"}))
	assert.Equal(t, "", sceneLabel(map[string]string{"season": "1"}))
	assert.Equal(t, "", sceneLabel(nil))
}
