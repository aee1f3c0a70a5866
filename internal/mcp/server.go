package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loreweave/loreweave/internal/config"
	"github.com/loreweave/loreweave/internal/embed"
	"github.com/loreweave/loreweave/internal/ingest"
	"github.com/loreweave/loreweave/internal/search"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/internal/telemetry"
	"github.com/loreweave/loreweave/pkg/version"
)

// serverName is the implementation name reported to MCP clients.
const serverName = "loreweave"

// Server is the MCP server. It exposes the query and ingest tools plus
// diagnostic resources over stdio JSON-RPC.
type Server struct {
	mcp      *mcp.Server
	engine   *search.Engine
	pipeline *ingest.Pipeline
	lore     store.LoreStore
	lexical  store.LexicalIndex
	vectors  *store.PartitionedVectorStore
	embedder *embed.Manager
	config   *config.Config
	logger   *slog.Logger

	// Query telemetry, optional, set via SetMetrics.
	metrics *telemetry.Collector

	mu sync.RWMutex
}

// NewServer creates the MCP server and registers its tools. The engine
// and pipeline are required; the stores back the status tool.
func NewServer(
	engine *search.Engine,
	pipeline *ingest.Pipeline,
	lore store.LoreStore,
	lexical store.LexicalIndex,
	vectors *store.PartitionedVectorStore,
	embedder *embed.Manager,
	cfg *config.Config,
) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if pipeline == nil {
		return nil, errors.New("ingest pipeline is required")
	}
	if lore == nil {
		return nil, errors.New("lore store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		pipeline: pipeline,
		lore:     lore,
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
		config:   cfg,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()

	return s, nil
}

// SetMetrics attaches the telemetry collector. When set, a metrics
// resource is registered.
func (s *Server) SetMetrics(m *telemetry.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "query", Description: queryToolDescription},
		{Name: "ingest", Description: ingestToolDescription},
		{Name: "status", Description: statusToolDescription},
	}
}

// CallTool invokes a tool by name with raw arguments. This is the
// transport-independent entry point; the SDK handlers delegate to the
// same handlers.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "query":
		return s.handleQueryTool(ctx, args)
	case "ingest":
		return s.handleIngestTool(ctx, args)
	case "status":
		return s.handleStatusTool(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleQueryTool answers a query and formats the evidence as markdown.
func (s *Server) handleQueryTool(ctx context.Context, args map[string]any) (string, error) {
	input, err := queryInputFromArgs(args)
	if err != nil {
		return "", err
	}

	resp, mcpErr := s.runQuery(ctx, input)
	if mcpErr != nil {
		return "", mcpErr
	}
	return FormatQueryResults(resp), nil
}

// handleIngestTool ingests a document and reports what was written.
func (s *Server) handleIngestTool(ctx context.Context, args map[string]any) (*IngestOutput, error) {
	document, _ := args["document"].(string)
	if strings.TrimSpace(document) == "" {
		return nil, NewInvalidParamsError("document parameter is required and must be non-empty")
	}
	return s.runIngest(ctx, IngestInput{Document: document})
}

// handleStatusTool reports corpus and engine state.
func (s *Server) handleStatusTool(ctx context.Context) (*StatusOutput, error) {
	requestID := generateRequestID()
	out := &StatusOutput{}

	passages, err := s.lore.CountPassages(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	out.Passages = passages

	entities, err := s.lore.CountEntities(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	out.Entities = entities

	if embStats, err := s.lore.EmbeddingStats(ctx); err == nil && len(embStats) > 0 {
		out.Embeddings = embStats
	}
	if lastIngest, err := s.lore.GetState(ctx, store.StateKeyLastIngestAt); err == nil {
		out.LastIngestAt = lastIngest
	}

	if s.lexical != nil {
		if stats, err := s.lexical.Stats(ctx); err == nil && stats != nil {
			out.LexicalDocs = stats.DocumentCount
		}
	}
	if s.vectors != nil {
		if counts, err := s.vectors.Counts(ctx); err == nil && len(counts) > 0 {
			out.Vectors = make(map[string]int, len(counts))
			for dims, count := range counts {
				out.Vectors[strconv.Itoa(dims)] = count
			}
		}
	}
	if s.embedder != nil {
		for _, ms := range s.embedder.Status(ctx) {
			out.Models = append(out.Models, ModelStatusInfo{
				Model:      ms.Model,
				Provider:   ms.Provider,
				Dimensions: ms.Dimensions,
				Available:  ms.Available,
			})
		}
	}

	s.logger.Info("status reported",
		slog.String("request_id", requestID),
		slog.Int("passages", out.Passages),
		slog.Int("entities", out.Entities))

	return out, nil
}

// runQuery executes a query through the engine with request logging.
func (s *Server) runQuery(ctx context.Context, input QueryInput) (*search.Response, *MCPError) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("query started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("limit", input.Limit))

	req := search.QueryRequest{
		Text:  input.Query,
		Type:  input.Type,
		Limit: input.Limit,
	}
	if input.Season > 0 || input.Episode > 0 {
		req.Filter = &store.ScopeFilter{Season: input.Season, Episode: input.Episode}
	}

	resp, err := s.engine.Query(ctx, req)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("query failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return nil, MapError(err)
	}

	s.logger.Info("query completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.String("query_type", string(resp.QueryType)),
		slog.Int("result_count", len(resp.Results)))

	return resp, nil
}

// runIngest executes an ingest through the pipeline with request logging.
func (s *Server) runIngest(ctx context.Context, input IngestInput) (*IngestOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("ingest started",
		slog.String("request_id", requestID),
		slog.Int("document_bytes", len(input.Document)))

	report, err := s.pipeline.Ingest(ctx, input.Document)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("ingest failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return nil, MapError(err)
	}

	s.logger.Info("ingest completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("passages", report.Passages))

	return &IngestOutput{
		Passages:        report.Passages,
		EmbeddedByModel: report.EmbeddedByModel,
		SkippedModels:   report.SkippedModels,
		DurationMs:      duration.Milliseconds(),
	}, nil
}

// registerTools registers the tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query",
		Description: queryToolDescription,
	}, s.mcpQueryHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest",
		Description: ingestToolDescription,
	}, s.mcpIngestHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: statusToolDescription,
	}, s.mcpStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 3))
}

// mcpQueryHandler is the MCP SDK handler for the query tool.
func (s *Server) mcpQueryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("query parameter is required and must be non-empty")
	}

	resp, mcpErr := s.runQuery(ctx, input)
	if mcpErr != nil {
		return nil, QueryOutput{}, mcpErr
	}
	return nil, ToQueryOutput(resp), nil
}

// mcpIngestHandler is the MCP SDK handler for the ingest tool.
func (s *Server) mcpIngestHandler(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult,
	*IngestOutput,
	error,
) {
	if strings.TrimSpace(input.Document) == "" {
		return nil, nil, NewInvalidParamsError("document parameter is required and must be non-empty")
	}

	out, err := s.runIngest(ctx, input)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// mcpStatusHandler is the MCP SDK handler for the status tool.
func (s *Server) mcpStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	*StatusOutput,
	error,
) {
	out, err := s.handleStatusTool(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// Serve runs the server until the context is canceled. Stdout carries the
// JSON-RPC stream, which is why logging goes to file/stderr only.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting MCP server",
		slog.String("transport", transport),
		slog.String("version", version.Version))

	switch transport {
	case "stdio", "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.Any("error", err))
			return err
		}
		s.logger.Info("MCP server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The MCP server itself stops when its
// run context is canceled.
func (s *Server) Close() error {
	return nil
}

// queryInputFromArgs builds a QueryInput from raw JSON-RPC arguments.
func queryInputFromArgs(args map[string]any) (QueryInput, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return QueryInput{}, NewInvalidParamsError("query parameter is required and must be non-empty")
	}

	input := QueryInput{Query: query}
	if t, ok := args["type"].(string); ok {
		input.Type = t
	}
	if season, ok := args["season"].(float64); ok {
		input.Season = int(season)
	}
	if episode, ok := args["episode"].(float64); ok {
		input.Episode = int(episode)
	}
	if limit, ok := args["limit"].(float64); ok {
		input.Limit = int(limit)
	}
	return input, nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
