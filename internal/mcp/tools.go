package mcp

// QueryInput is the input schema for the query tool.
type QueryInput struct {
	Query   string `json:"query" jsonschema:"the narrative question to answer"`
	Type    string `json:"type,omitempty" jsonschema:"pin the query classification: character, location, event, theme, general"`
	Season  int    `json:"season,omitempty" jsonschema:"restrict passage evidence to one season"`
	Episode int    `json:"episode,omitempty" jsonschema:"restrict passage evidence to one episode"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// QueryOutput is the output schema for the query tool.
type QueryOutput struct {
	Query           string              `json:"query" jsonschema:"the query as executed"`
	QueryType       string              `json:"query_type" jsonschema:"the classification the query ran under"`
	Results         []QueryResultOutput `json:"results" jsonschema:"fused evidence, best first"`
	Strategies      []string            `json:"strategies" jsonschema:"every strategy launched, in priority order"`
	PlanExplanation string              `json:"plan_explanation,omitempty" jsonschema:"how the search plan was produced"`
}

// QueryResultOutput is one ranked piece of evidence.
type QueryResultOutput struct {
	ID       string            `json:"id" jsonschema:"passage or entity identifier"`
	Kind     string            `json:"kind" jsonschema:"passage, character, or place"`
	Content  string            `json:"content" jsonschema:"passage text or entity description"`
	Score    float64           `json:"score" jsonschema:"fused relevance score, higher is better"`
	Source   string            `json:"source" jsonschema:"strategy that first produced this result"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"scene coordinates for passages, name and aliases for entities"`
}

// IngestInput is the input schema for the ingest tool.
type IngestInput struct {
	Document string `json:"document" jsonschema:"story text with [SCENE SxEy-z: slug] markers"`
}

// IngestOutput is the output schema for the ingest tool.
type IngestOutput struct {
	Passages        int            `json:"passages" jsonschema:"number of passages written"`
	EmbeddedByModel map[string]int `json:"embedded_by_model,omitempty" jsonschema:"embeddings written per model"`
	SkippedModels   []string       `json:"skipped_models,omitempty" jsonschema:"models unavailable during this ingest"`
	DurationMs      int64          `json:"duration_ms" jsonschema:"wall time in milliseconds"`
}

// StatusInput is the (empty) input schema for the status tool.
type StatusInput struct{}

// StatusOutput is the output schema for the status tool.
type StatusOutput struct {
	Passages     int               `json:"passages" jsonschema:"stored passage count"`
	Entities     int               `json:"entities" jsonschema:"stored entity count"`
	LexicalDocs  int               `json:"lexical_docs" jsonschema:"documents in the lexical index"`
	Embeddings   map[string]int    `json:"embeddings,omitempty" jsonschema:"stored embeddings per model"`
	Vectors      map[string]int    `json:"vectors,omitempty" jsonschema:"vectors per partition dimensionality"`
	Models       []ModelStatusInfo `json:"models" jsonschema:"configured embedding models and their active providers"`
	LastIngestAt string            `json:"last_ingest_at,omitempty" jsonschema:"RFC3339 time of the last ingest, empty if never"`
}

// ModelStatusInfo describes one embedding model's runtime state. Clients
// use the active provider to judge semantic quality: the static fallback
// always embeds, but poorly.
type ModelStatusInfo struct {
	Model      string `json:"model"`
	Provider   string `json:"provider"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Tool descriptions shared by registration and ListTools.
const (
	queryToolDescription = "Answer a natural-language question about the story corpus. Runs structured entity lookup, semantic vector search, and keyword search concurrently and fuses the evidence into one ranked list. Use for questions like \"Who is Sullivan?\" or \"What happened at the lighthouse?\"."

	ingestToolDescription = "Ingest story text into the corpus. The document splits into passages at [SCENE S<season>E<episode>-<scene>: <slug>] markers; optional @location:/@characters:/@tags: lines after a marker become passage metadata. Re-ingesting a scene replaces it."

	statusToolDescription = "Report corpus and engine state: passage, entity, and index counts, which embedding models are served and by which provider, and when the last ingest ran. Use before querying to verify the corpus is loaded."
)
