// Package mcp serves retrieval over the Model Context Protocol so AI
// clients can ask for evidence as a tool call.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/retrieve"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// ServerName is reported to clients during initialization.
const ServerName = "amanrag"

// Backend is what the server needs from the retriever.
type Backend interface {
	Retrieve(ctx context.Context, q retrieve.Query) (*retrieve.FusedResult, error)
	IndexStats(ctx context.Context) (store.Stats, error)
	WebEnabled() bool
}

// Server bridges MCP clients and the hybrid retriever.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	config  *config.Config
	logger  *slog.Logger

	metrics *telemetry.Metrics
	mu      sync.RWMutex
}

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query      string `json:"query" jsonschema:"the question to find evidence for"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of evidence chunks, default from configuration"`
	IncludeWeb *bool  `json:"include_web,omitempty" jsonschema:"also search the web, default true when web search is configured"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	Evidence []EvidenceOutput `json:"evidence" jsonschema:"ranked evidence, best first"`
	Warnings []string         `json:"warnings,omitempty" jsonschema:"paths that degraded while answering"`
}

// IndexStatusInput is empty; the tool takes no arguments.
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Documents  int    `json:"documents" jsonschema:"number of indexed documents"`
	Chunks     int    `json:"chunks" jsonschema:"number of indexed chunks"`
	Dimensions int    `json:"dimensions" jsonschema:"embedding dimensions of the index, 0 when empty"`
	Embedder   string `json:"embedder" jsonschema:"configured embedding provider"`
	WebEnabled bool   `json:"web_enabled" jsonschema:"whether web search is available"`
	Ready      bool   `json:"ready" jsonschema:"true when the index holds at least one chunk"`
}

// NewServer creates a server for backend. A nil cfg uses the defaults.
func NewServer(backend Backend, cfg *config.Config) (*Server, error) {
	if backend == nil {
		return nil, errors.New("retrieval backend is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		backend: backend,
		config:  cfg,
		logger:  slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s, nil
}

// SetLogger replaces the default logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics exposes m as the retrieval_metrics resource.
func (s *Server) SetMetrics(m *telemetry.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
	if m != nil {
		s.registerMetricsResource()
	}
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "retrieve",
		Description: "Find evidence for a question in the local document index and on the web. " +
			"Returns one ranked, deduplicated list with source, score, title, authors, year and URL for each chunk.",
	}, s.mcpRetrieveHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report how many documents are indexed and whether web search is available.",
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	out, err := s.handleRetrieve(ctx, input)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	out, err := s.handleIndexStatus(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, out, nil
}

// handleRetrieve runs one retrieval and converts the result.
func (s *Server) handleRetrieve(ctx context.Context, input RetrieveInput) (RetrieveOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return RetrieveOutput{}, NewInvalidParamsError("query parameter is required")
	}

	limit := input.Limit
	if limit == 0 {
		limit = s.config.Retrieval.DefaultLimit
	}
	includeWeb := s.backend.WebEnabled()
	if input.IncludeWeb != nil {
		includeWeb = includeWeb && *input.IncludeWeb
	}

	res, err := s.backend.Retrieve(ctx, retrieve.Query{
		Text:       input.Query,
		Limit:      limit,
		IncludeWeb: includeWeb,
	})
	if err != nil {
		s.logger.Warn("mcp_retrieve_failed", slog.String("error", err.Error()))
		return RetrieveOutput{}, MapError(err)
	}
	return ToRetrieveOutput(res), nil
}

func (s *Server) handleIndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	stats, err := s.backend.IndexStats(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	return &IndexStatusOutput{
		Documents:  stats.Documents,
		Chunks:     stats.Chunks,
		Dimensions: stats.Dimensions,
		Embedder:   s.config.Embeddings.Provider,
		WebEnabled: s.backend.WebEnabled(),
		Ready:      stats.Chunks > 0,
	}, nil
}

// Serve runs the server on stdio until ctx is done or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}
