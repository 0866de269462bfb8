// Package extract fetches a web page and reduces it to its readable text.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ratelimit"
)

// Config configures an Extractor.
type Config struct {
	Timeout time.Duration // per page. Default: 10s.
	// MaxTextLength caps the returned text in runes. Default: 5000.
	MaxTextLength int
	MaxBodyBytes  int64 // Default: 5MB.
	UserAgent     string
	MaxRedirects  int // Default: 5.
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = 5000
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 5 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = config.DefaultUserAgent
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
}

// Extractor fetches pages and returns cleaned text. It is safe for
// concurrent use; the limiter spaces requests across all callers.
type Extractor struct {
	client  *http.Client
	config  Config
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLimiter sets the limiter every fetch waits on.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(e *Extractor) {
		if l != nil {
			e.limiter = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Extractor.
func New(cfg Config, opts ...Option) *Extractor {
	cfg.defaults()
	maxRedirects := cfg.MaxRedirects
	e := &Extractor{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
				}
				return nil
			},
		},
		config:  cfg,
		limiter: ratelimit.New("fetch", 0),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig creates an Extractor with its own fetch limiter.
func NewFromConfig(cfg config.WebConfig, opts ...Option) *Extractor {
	base := []Option{WithLimiter(ratelimit.New("fetch", cfg.FetchInterval))}
	return New(Config{
		Timeout:       cfg.FetchTimeout,
		MaxTextLength: cfg.MaxTextLength,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		UserAgent:     cfg.UserAgent,
	}, append(base, opts...)...)
}

// Extract fetches rawURL and returns its readable text, truncated to
// MaxTextLength runes. On any failure it returns "" and an ExtractionError.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (string, error) {
	target, err := normalizeTarget(rawURL)
	if err != nil {
		return "", amerrors.ExtractionError(rawURL, "invalid url", err)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return "", amerrors.ExtractionError(target, "cancelled while rate limited", err)
	}

	start := time.Now()
	text, err := e.extract(ctx, target)
	if err != nil {
		e.logger.Debug("extraction_failed",
			slog.String("url", target),
			slog.String("error", err.Error()))
		return "", err
	}

	e.logger.Debug("extraction_done",
		slog.String("url", target),
		slog.Int("chars", len([]rune(text))),
		slog.Duration("duration", time.Since(start)))
	return text, nil
}

func (e *Extractor) extract(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", amerrors.ExtractionError(target, "failed to build request", err)
	}
	req.Header.Set("User-Agent", e.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", amerrors.ExtractionError(target, "fetch failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return "", amerrors.ExtractionError(target, fmt.Sprintf("page returned status %d", resp.StatusCode), nil).
			WithDetail("status", strconv.Itoa(resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return "", amerrors.ExtractionError(target, "unsupported content type", nil).
			WithDetail("content_type", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxBodyBytes+1))
	if err != nil {
		return "", amerrors.ExtractionError(target, "failed to read body", err)
	}
	if int64(len(body)) > e.config.MaxBodyBytes {
		return "", amerrors.ExtractionError(target, "page exceeds size limit", nil).
			WithDetail("max_body_bytes", strconv.FormatInt(e.config.MaxBodyBytes, 10))
	}

	decoded, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", amerrors.ExtractionError(target, "unknown page encoding", err)
	}
	doc, err := html.Parse(decoded)
	if err != nil {
		return "", amerrors.ExtractionError(target, "failed to parse page", err)
	}

	text := Truncate(CleanText(ReadableText(doc)), e.config.MaxTextLength)
	if text == "" {
		return "", amerrors.ExtractionError(target, "page has no readable text", nil)
	}
	return text, nil
}

// normalizeTarget adds https:// to scheme-less links and rejects anything
// that is not http(s).
func normalizeTarget(rawURL string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return u.String(), nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		// Servers that omit the header almost always serve HTML.
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
