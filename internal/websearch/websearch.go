// Package websearch queries a search engine's HTML results page and
// returns ranked result stubs. Only the first page is read; result links
// are never followed here.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ratelimit"
)

// Stub is one search result. Its position in the returned slice is its rank.
type Stub struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// Config configures a Client.
type Config struct {
	// EngineURL is the results page; the query is sent as the q parameter.
	EngineURL string

	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64

	// BreakerFailures consecutive failures open the circuit for BreakerReset.
	BreakerFailures int
	BreakerReset    time.Duration
}

const (
	defaultEngineURL    = "https://html.duckduckgo.com/html/"
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 2 << 20
)

// Client searches one engine. It is safe for concurrent use.
type Client struct {
	cfg       Config
	http      *http.Client
	limiter   *ratelimit.Limiter
	breaker   *amerrors.CircuitBreaker
	sanitizer *bluemonday.Policy
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLimiter sets the limiter every request waits on.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a search client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.EngineURL == "" {
		cfg.EngineURL = defaultEngineURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = config.DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	breakerOpts := []amerrors.CircuitBreakerOption{amerrors.WithNeutralErrors(amerrors.IsContextError)}
	if cfg.BreakerFailures > 0 {
		breakerOpts = append(breakerOpts, amerrors.WithMaxFailures(cfg.BreakerFailures))
	}
	if cfg.BreakerReset > 0 {
		breakerOpts = append(breakerOpts, amerrors.WithResetTimeout(cfg.BreakerReset))
	}

	c := &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   ratelimit.New("search", 0),
		breaker:   amerrors.NewCircuitBreaker("websearch", breakerOpts...),
		sanitizer: bluemonday.StrictPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client with its own search limiter.
func NewFromConfig(cfg config.WebConfig, opts ...Option) *Client {
	base := []Option{WithLimiter(ratelimit.New("search", cfg.SearchInterval))}
	return New(Config{
		EngineURL:       cfg.EngineURL,
		UserAgent:       cfg.UserAgent,
		Timeout:         cfg.FetchTimeout,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		BreakerFailures: cfg.BreakerFailures,
		BreakerReset:    cfg.BreakerReset,
	}, append(base, opts...)...)
}

// Breaker exposes the circuit breaker state for status output.
func (c *Client) Breaker() *amerrors.CircuitBreaker {
	return c.breaker
}

// Search returns at most maxResults stubs in engine order. A failed
// request returns an empty slice and a SearchError; a page without
// results returns an empty slice and no error.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Stub, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Stub{}, amerrors.New(amerrors.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	if maxResults <= 0 {
		return []Stub{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return []Stub{}, amerrors.SearchError("search cancelled while rate limited", err)
	}

	start := time.Now()
	stubs, err := amerrors.CircuitExecute(c.breaker, func() ([]Stub, error) {
		return c.fetch(ctx, query, maxResults)
	})
	if err != nil {
		c.logger.Warn("web_search_failed",
			slog.String("query", query),
			slog.String("breaker", c.breaker.State().String()),
			slog.String("error", err.Error()))

		var re *amerrors.RagError
		switch {
		case errors.Is(err, amerrors.ErrCircuitOpen):
			return []Stub{}, amerrors.SearchError("web search is paused after repeated failures", err)
		case errors.As(err, &re):
			return []Stub{}, err
		default:
			return []Stub{}, amerrors.SearchError("web search failed", err)
		}
	}

	c.logger.Debug("web_search_done",
		slog.String("query", query),
		slog.Int("results", len(stubs)),
		slog.Duration("duration", time.Since(start)))
	return stubs, nil
}

func (c *Client) fetch(ctx context.Context, query string, maxResults int) ([]Stub, error) {
	target, err := c.requestURL(query)
	if err != nil {
		return nil, amerrors.SearchError("invalid engine url", err).WithDetail("engine_url", c.cfg.EngineURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, amerrors.SearchError("search request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusAccepted:
		// The engine answers 202 with a challenge page when it throttles.
		return nil, amerrors.New(amerrors.ErrCodeSearchRateLimited, "search engine is throttling requests", nil).
			WithDetail("status", strconv.Itoa(resp.StatusCode)).
			WithSuggestion("Increase web.search_interval")
	case resp.StatusCode != http.StatusOK:
		return nil, amerrors.SearchError(fmt.Sprintf("search engine returned status %d", resp.StatusCode), nil).
			WithDetail("status", strconv.Itoa(resp.StatusCode))
	}

	stubs, err := c.parse(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes), maxResults)
	if err != nil {
		return nil, amerrors.SearchError("failed to parse results page", err)
	}
	return stubs, nil
}

func (c *Client) requestURL(query string) (string, error) {
	u, err := url.Parse(c.cfg.EngineURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
