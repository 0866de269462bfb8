package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MetricsURI addresses the retrieval telemetry resource.
const MetricsURI = "amanrag://retrieval_metrics"

func (s *Server) registerMetricsResource() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "retrieval_metrics",
		URI:         MetricsURI,
		Description: "Retrieval telemetry for this session: query counts, zero-result queries, latency and degradations",
		MIMEType:    "application/json",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readMetrics(ctx)
	})
}

func (s *Server) readMetrics(_ context.Context) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()
	if metrics == nil {
		return nil, NewResourceNotFoundError(MetricsURI)
	}

	data, err := json.MarshalIndent(metrics.Snapshot(), "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      MetricsURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
