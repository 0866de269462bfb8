package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/retrieve"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// MockBackend implements Backend for testing.
type MockBackend struct {
	RetrieveFn func(ctx context.Context, q retrieve.Query) (*retrieve.FusedResult, error)
	StatsFn    func(ctx context.Context) (store.Stats, error)
	Web        bool

	queries []retrieve.Query
}

func (m *MockBackend) Retrieve(ctx context.Context, q retrieve.Query) (*retrieve.FusedResult, error) {
	m.queries = append(m.queries, q)
	if m.RetrieveFn != nil {
		return m.RetrieveFn(ctx, q)
	}
	return &retrieve.FusedResult{Chunks: []retrieve.ScoredChunk{}}, nil
}

func (m *MockBackend) IndexStats(ctx context.Context) (store.Stats, error) {
	if m.StatsFn != nil {
		return m.StatsFn(ctx)
	}
	return store.Stats{}, nil
}

func (m *MockBackend) WebEnabled() bool { return m.Web }

func foxResult() *retrieve.FusedResult {
	return &retrieve.FusedResult{
		Chunks: []retrieve.ScoredChunk{
			{ID: "web-1", Source: retrieve.SourceWeb, Score: 1, Text: "Foxes adapt.",
				Metadata: retrieve.Metadata{Title: "Fox facts", URL: "https://example.org/u1"}},
			{ID: "doc#0", Source: retrieve.SourceDatabase, Score: 0.95, Text: "Arctic foxes turn white.",
				Metadata: retrieve.Metadata{Title: "Foxes", Authors: []string{"A. Vulpes"}, Year: 2021}},
		},
		Warnings: []retrieve.Warning{{Source: retrieve.SourceWeb, Code: amerrors.ErrCodeExtractionFailed, Message: "fetch failed"}},
	}
}

func newTestServer(t *testing.T, backend Backend) *Server {
	t.Helper()
	s, err := NewServer(backend, nil)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestServer_Retrieve(t *testing.T) {
	// Given: a backend returning the fox fixture
	backend := &MockBackend{Web: true, RetrieveFn: func(context.Context, retrieve.Query) (*retrieve.FusedResult, error) {
		return foxResult(), nil
	}}
	s := newTestServer(t, backend)

	// When
	out, err := s.handleRetrieve(context.Background(), RetrieveInput{Query: "how do foxes survive winter", Limit: 4})

	// Then: order, metadata and warnings survive the conversion
	require.NoError(t, err)
	require.Len(t, out.Evidence, 2)
	assert.Equal(t, "web", out.Evidence[0].Source)
	assert.Equal(t, "https://example.org/u1", out.Evidence[0].URL)
	assert.Equal(t, "database", out.Evidence[1].Source)
	assert.Equal(t, []string{"A. Vulpes"}, out.Evidence[1].Authors)
	assert.Equal(t, []string{"web: fetch failed"}, out.Warnings)

	require.Len(t, backend.queries, 1)
	assert.Equal(t, retrieve.Query{Text: "how do foxes survive winter", Limit: 4, IncludeWeb: true}, backend.queries[0])
}

func TestServer_Retrieve_Defaults(t *testing.T) {
	off := false
	on := true

	tests := []struct {
		name       string
		web        bool
		includeWeb *bool
		wantWeb    bool
	}{
		{"web configured, not requested", true, nil, true},
		{"web configured, turned off", true, &off, false},
		{"web not configured, requested", false, &on, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &MockBackend{Web: tt.web}
			s := newTestServer(t, backend)

			_, err := s.handleRetrieve(context.Background(), RetrieveInput{Query: "fox", IncludeWeb: tt.includeWeb})

			require.NoError(t, err)
			require.Len(t, backend.queries, 1)
			assert.Equal(t, tt.wantWeb, backend.queries[0].IncludeWeb)
			assert.Equal(t, config.NewConfig().Retrieval.DefaultLimit, backend.queries[0].Limit)
		})
	}
}

func TestServer_Retrieve_EmptyQuery(t *testing.T) {
	backend := &MockBackend{}
	s := newTestServer(t, backend)

	_, err := s.handleRetrieve(context.Background(), RetrieveInput{Query: "   "})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	assert.Empty(t, backend.queries)
}

func TestServer_Retrieve_BackendFailure(t *testing.T) {
	backend := &MockBackend{RetrieveFn: func(context.Context, retrieve.Query) (*retrieve.FusedResult, error) {
		return nil, amerrors.RetrievalError("no retrieval path produced evidence",
			amerrors.New(amerrors.ErrCodeIndexQuery, "index down", nil))
	}}
	s := newTestServer(t, backend)

	_, err := s.handleRetrieve(context.Background(), RetrieveInput{Query: "fox"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeNoEvidence, mcpErr.Code)
}

func TestServer_IndexStatus(t *testing.T) {
	backend := &MockBackend{Web: true, StatsFn: func(context.Context) (store.Stats, error) {
		return store.Stats{Documents: 3, Chunks: 12, Vectors: 12, Dimensions: 256}, nil
	}}
	s := newTestServer(t, backend)

	out, err := s.handleIndexStatus(context.Background())

	require.NoError(t, err)
	assert.Equal(t, &IndexStatusOutput{
		Documents:  3,
		Chunks:     12,
		Dimensions: 256,
		Embedder:   "static",
		WebEnabled: true,
		Ready:      true,
	}, out)
}

func TestServer_IndexStatus_Empty(t *testing.T) {
	s := newTestServer(t, &MockBackend{})

	out, err := s.handleIndexStatus(context.Background())

	require.NoError(t, err)
	assert.False(t, out.Ready)
}

func TestServer_MetricsResource(t *testing.T) {
	s := newTestServer(t, &MockBackend{})

	// Without metrics the resource is absent.
	_, err := s.readMetrics(context.Background())
	require.Error(t, err)

	m := telemetry.NewMetrics(nil)
	m.Record(telemetry.RetrievalEvent{Query: "arctic fox", ResultCount: 0, Latency: 20 * time.Millisecond})
	s.SetMetrics(m)

	res, err := s.readMetrics(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, MetricsURI, res.Contents[0].URI)

	var snap telemetry.Snapshot
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &snap))
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, []string{"arctic fox"}, snap.ZeroResultQueries)
}

func TestServer_MCPServer(t *testing.T) {
	s := newTestServer(t, &MockBackend{})
	assert.NotNil(t, s.MCPServer())
}
