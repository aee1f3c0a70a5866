package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs served by the server.
const (
	statusResourceURI  = "loreweave://status"
	metricsResourceURI = "loreweave://query_metrics"
	passageURIPrefix   = "loreweave://passages/"
)

// registerResources registers the always-available resources. The metrics
// resource is registered separately when a collector is attached.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "status",
			URI:         statusResourceURI,
			Description: "Corpus and engine state: counts, models, last ingest time",
			MIMEType:    "application/json",
		},
		s.statusResourceHandler,
	)
}

// registerMetricsResource registers the query_metrics resource.
func (s *Server) registerMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         metricsResourceURI,
			Description: "Query pattern telemetry: type counts, top terms, zero-result queries, latency",
			MIMEType:    "application/json",
		},
		s.metricsResourceHandler,
	)
}

func (s *Server) statusResourceHandler(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	out, err := s.handleStatusTool(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource(statusResourceURI, out)
}

// QueryMetricsOutput is the JSON structure of the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	QueryTypeCounts     map[string]int64    `json:"query_type_counts"`
	StrategyCounts      map[string]int64    `json:"strategy_counts"`
	TopTerms            []QueryTermCount    `json:"top_terms"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	TimePeriod    string  `json:"time_period"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

// QueryTermCount is a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

func (s *Server) metricsResourceHandler(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()

	if metrics == nil {
		return nil, NewResourceNotFoundError(metricsResourceURI)
	}

	snapshot := metrics.Snapshot()
	output := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:  snapshot.TotalQueries,
			TimePeriod:    "session",
			ZeroResultPct: snapshot.ZeroResultPercentage(),
		},
		QueryTypeCounts:     make(map[string]int64, len(snapshot.TypeCounts)),
		StrategyCounts:      snapshot.StrategyCounts,
		TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
		ZeroResultQueries:   snapshot.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snapshot.LatencyDistribution)),
	}
	for qt, count := range snapshot.TypeCounts {
		output.QueryTypeCounts[string(qt)] = count
	}
	for _, tc := range snapshot.TopTerms {
		output.TopTerms = append(output.TopTerms, QueryTermCount{Term: tc.Term, Count: tc.Count})
	}
	for bucket, count := range snapshot.LatencyDistribution {
		output.LatencyDistribution[string(bucket)] = count
	}

	return jsonResource(metricsResourceURI, output)
}

// ReadResource reads a resource by URI. Besides the registered status and
// metrics resources, passage URIs resolve directly against the lore store
// so clients can fetch full passage text from a result ID.
func (s *Server) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	switch {
	case uri == statusResourceURI:
		return s.statusResourceHandler(ctx, nil)
	case uri == metricsResourceURI:
		return s.metricsResourceHandler(ctx, nil)
	case strings.HasPrefix(uri, passageURIPrefix):
		return s.readPassageResource(ctx, uri)
	default:
		return nil, NewResourceNotFoundError(uri)
	}
}

func (s *Server) readPassageResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	id := strings.TrimPrefix(uri, passageURIPrefix)
	if id == "" {
		return nil, NewResourceNotFoundError(uri)
	}

	passage, err := s.lore.GetPassage(ctx, id)
	if err != nil {
		return nil, MapError(err)
	}
	if passage == nil {
		return nil, NewResourceNotFoundError(uri)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/plain",
				Text:     passage.Text,
			},
		},
	}, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
