package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ratelimit"
)

const resultsPage = `<!DOCTYPE html>
<html><body>
<div class="serp">
  <div class="result results_links result--ad">
    <h2 class="result__title"><a class="result__a" href="https://ads.example.com/buy">Buy foxes</a></h2>
    <a class="result__snippet">Sponsored</a>
  </div>
  <div class="result results_links web-result">
    <div class="links_main result__body">
      <h2 class="result__title">
        <a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fen.example.org%2Fwiki%2FRed_fox&amp;rut=abc">Red <b>fox</b> &amp; kin</a>
      </h2>
      <div class="result__extras__url"><a class="result__url" href="#">en.example.org/wiki/Red_fox</a></div>
      <a class="result__snippet" href="#">The <b>red fox</b> is the largest of the true foxes.</a>
    </div>
  </div>
  <div class="result results_links web-result">
    <h2 class="result__title"><a class="result__a" href="/relative/only">Arctic fox</a></h2>
    <a class="result__url" href="#">arctic.example.com/fox</a>
    <a class="result__snippet">Arctic foxes live in the tundra.</a>
  </div>
  <div class="result results_links web-result">
    <h2 class="result__title"><a class="result__a" href="https://third.example.net/page">Third</a></h2>
    <a class="result__snippet">Third snippet.</a>
  </div>
  <div class="result results_links web-result">
    <a class="result__snippet">No title or link here.</a>
  </div>
</div>
</body></html>`

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func pageHandler(page string, hits *atomic.Int32, query *atomic.Value) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if query != nil {
			query.Store(r.URL.Query().Get("q"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}
}

func TestClient_Search_ParsesResultsInOrder(t *testing.T) {
	var query atomic.Value
	srv := newServer(t, pageHandler(resultsPage, nil, &query))
	c := New(Config{EngineURL: srv.URL + "/html/"})

	// When: searching with room for every result
	stubs, err := c.Search(context.Background(), "red fox", 10)

	// Then: ads and incomplete results are skipped and order is kept
	require.NoError(t, err)
	assert.Equal(t, "red fox", query.Load())
	require.Len(t, stubs, 3)

	assert.Equal(t, Stub{
		Title:   "Red fox & kin",
		Snippet: "The red fox is the largest of the true foxes.",
		Link:    "https://en.example.org/wiki/Red_fox",
	}, stubs[0])
	assert.Equal(t, "https://arctic.example.com/fox", stubs[1].Link)
	assert.Equal(t, "https://third.example.net/page", stubs[2].Link)
}

func TestClient_Search_MaxResultsIsAHardCap(t *testing.T) {
	srv := newServer(t, pageHandler(resultsPage, nil, nil))
	c := New(Config{EngineURL: srv.URL})

	tests := []struct {
		max  int
		want int
	}{
		{1, 1},
		{2, 2},
		{5, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("max=%d", tt.max), func(t *testing.T) {
			stubs, err := c.Search(context.Background(), "fox", tt.max)
			require.NoError(t, err)
			assert.Len(t, stubs, tt.want)
		})
	}
}

func TestClient_Search_ZeroMaxResultsMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, pageHandler(resultsPage, &hits, nil))
	c := New(Config{EngineURL: srv.URL})

	stubs, err := c.Search(context.Background(), "fox", 0)

	require.NoError(t, err)
	assert.Empty(t, stubs)
	assert.Zero(t, hits.Load())
}

func TestClient_Search_NoResultsIsNotAnError(t *testing.T) {
	srv := newServer(t, pageHandler(`<html><body><div class="no-results">Nothing</div></body></html>`, nil, nil))
	c := New(Config{EngineURL: srv.URL})

	stubs, err := c.Search(context.Background(), "zzqx", 5)

	require.NoError(t, err)
	assert.NotNil(t, stubs)
	assert.Empty(t, stubs)
}

func TestClient_Search_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode string
	}{
		{"server error", http.StatusInternalServerError, amerrors.ErrCodeSearchFailed},
		{"forbidden", http.StatusForbidden, amerrors.ErrCodeSearchFailed},
		{"throttled", http.StatusTooManyRequests, amerrors.ErrCodeSearchRateLimited},
		{"challenge", http.StatusAccepted, amerrors.ErrCodeSearchRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			c := New(Config{EngineURL: srv.URL})

			stubs, err := c.Search(context.Background(), "fox", 5)

			assert.Empty(t, stubs)
			assert.NotNil(t, stubs)
			assert.Equal(t, tt.wantCode, amerrors.GetCode(err))
			assert.False(t, amerrors.IsFatal(err))
		})
	}
}

func TestClient_Search_UnreachableEngine(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	engine := srv.URL
	srv.Close()
	c := New(Config{EngineURL: engine, Timeout: time.Second})

	stubs, err := c.Search(context.Background(), "fox", 5)

	assert.Empty(t, stubs)
	assert.ErrorIs(t, err, amerrors.ErrSearch)
}

func TestClient_Search_EmptyQuery(t *testing.T) {
	c := New(Config{})

	_, err := c.Search(context.Background(), "   ", 5)

	assert.Equal(t, amerrors.ErrCodeQueryEmpty, amerrors.GetCode(err))
}

func TestClient_Search_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c := New(Config{EngineURL: srv.URL, BreakerFailures: 2, BreakerReset: time.Hour})

	// Given: two failed searches
	for i := 0; i < 2; i++ {
		_, err := c.Search(context.Background(), "fox", 5)
		require.Error(t, err)
	}

	// When: searching again
	_, err := c.Search(context.Background(), "fox", 5)

	// Then: the engine is not contacted and the error is a search error
	assert.ErrorIs(t, err, amerrors.ErrSearch)
	assert.ErrorIs(t, err, amerrors.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, amerrors.StateOpen, c.Breaker().State())
}

func TestClient_Search_WaitsOnLimiter(t *testing.T) {
	srv := newServer(t, pageHandler(resultsPage, nil, nil))
	limiter := ratelimit.New("search", time.Hour)
	require.NoError(t, limiter.Wait(context.Background()))
	c := New(Config{EngineURL: srv.URL}, WithLimiter(limiter))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Search(ctx, "fox", 5)

	assert.ErrorIs(t, err, amerrors.ErrSearch)
	// A cancelled wait is not an engine failure.
	assert.Zero(t, c.Breaker().Failures())
}

func TestClient_SendsUserAgent(t *testing.T) {
	var agent atomic.Value
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(resultsPage))
	})
	c := New(Config{EngineURL: srv.URL, UserAgent: "amanrag-test/1"})

	_, err := c.Search(context.Background(), "fox", 1)

	require.NoError(t, err)
	assert.Equal(t, "amanrag-test/1", agent.Load())
}

func TestResolveLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fa%3Fb%3D1&rut=x", "https://example.com/a?b=1"},
		{"/l/?uddg=example.com%2Fpath", "https://example.com/path"},
		{"https://plain.example.com/", "https://plain.example.com/"},
		{"//cdn.example.com/x", "https://cdn.example.com/x"},
		{"/relative", ""},
		{"javascript:void(0)", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveLink(tt.in))
		})
	}
}

func TestPlainText_StripsMarkup(t *testing.T) {
	c := New(Config{})
	srv := newServer(t, pageHandler(strings.ReplaceAll(resultsPage, "largest", "<i>largest</i> &lt;really&gt;"), nil, nil))
	c.cfg.EngineURL = srv.URL

	stubs, err := c.Search(context.Background(), "fox", 1)

	require.NoError(t, err)
	require.Len(t, stubs, 1)
	assert.Equal(t, "The red fox is the largest <really> of the true foxes.", stubs[0].Snippet)
}
