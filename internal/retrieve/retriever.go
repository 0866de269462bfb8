package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// Defaults for a Retriever built without options.
const (
	DefaultOversample    = 2
	DefaultTimeout       = 20 * time.Second
	DefaultPoolSize      = 4
	DefaultWebMaxResults = 5
	DefaultMaxLimit      = 100
	DefaultScoreMin      = -1.0
	DefaultScoreMax      = 1.0
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Retriever runs hybrid retrieval. It is safe for concurrent use; all
// calls share one extraction pool of PoolSize workers.
type Retriever struct {
	embedder  Embedder
	index     Index
	searcher  Searcher
	extractor Extractor

	pool     *ants.Pool
	poolSize int

	rankScorer RankScorer
	scoreMin   float64
	scoreMax   float64
	oversample int
	timeout    time.Duration
	webMax     int
	maxLimit   int
	minScore   float64

	metrics *telemetry.Metrics
	logger  *slog.Logger
	closers []io.Closer
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithWeb enables the web path. maxResults is N_web, the number of stubs
// requested per query; 0 keeps the default.
func WithWeb(searcher Searcher, extractor Extractor, maxResults int) Option {
	return func(r *Retriever) {
		r.searcher = searcher
		r.extractor = extractor
		if maxResults > 0 {
			r.webMax = maxResults
		}
	}
}

// WithRankScorer replaces the web rank curve.
func WithRankScorer(s RankScorer) Option {
	return func(r *Retriever) {
		if s != nil {
			r.rankScorer = s
		}
	}
}

// WithScoreRange sets the a-priori range of raw database scores.
// Ranges with hi <= lo are ignored.
func WithScoreRange(lo, hi float64) Option {
	return func(r *Retriever) {
		if hi > lo {
			r.scoreMin, r.scoreMax = lo, hi
		}
	}
}

// WithOversample sets the database candidate multiplier (minimum 1).
func WithOversample(n int) Option {
	return func(r *Retriever) {
		if n >= 1 {
			r.oversample = n
		}
	}
}

// WithTimeout sets the per-call deadline shared by both paths.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithPoolSize sets K, the maximum number of extractions in flight.
func WithPoolSize(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.poolSize = k
		}
	}
}

// WithMaxLimit caps Query.Limit.
func WithMaxLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.maxLimit = n
		}
	}
}

// WithMinScore drops fused chunks scoring below floor. 0 disables it.
func WithMinScore(floor float64) Option {
	return func(r *Retriever) {
		r.minScore = clamp01(floor)
	}
}

// WithMetrics records every call in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// withClosers hands ownership of dependencies to the retriever.
func withClosers(closers ...io.Closer) Option {
	return func(r *Retriever) {
		r.closers = append(r.closers, closers...)
	}
}

// New creates a retriever over embedder and index.
func New(embedder Embedder, index Index, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrNilDependency)
	}

	r := &Retriever{
		embedder:   embedder,
		index:      index,
		poolSize:   DefaultPoolSize,
		rankScorer: LinearRankDecay,
		scoreMin:   DefaultScoreMin,
		scoreMax:   DefaultScoreMax,
		oversample: DefaultOversample,
		timeout:    DefaultTimeout,
		webMax:     DefaultWebMaxResults,
		maxLimit:   DefaultMaxLimit,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if (r.searcher == nil) != (r.extractor == nil) {
		return nil, fmt.Errorf("%w: web search needs both a searcher and an extractor", ErrNilDependency)
	}
	if r.searcher != nil {
		pool, err := ants.NewPool(r.poolSize)
		if err != nil {
			return nil, fmt.Errorf("create extraction pool: %w", err)
		}
		r.pool = pool
	}
	return r, nil
}

// Retrieve returns fused evidence for q. It fails only when the query is
// invalid or no enabled path produced evidence; otherwise degraded paths
// are reported through FusedResult warnings and flags.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*FusedResult, error) {
	start := time.Now()

	text := strings.TrimSpace(q.Text)
	if q.Limit < 0 {
		return nil, amerrors.New(amerrors.ErrCodeInvalidLimit, fmt.Sprintf("limit must be >= 0, got %d", q.Limit), nil)
	}
	if text == "" {
		return nil, amerrors.New(amerrors.ErrCodeQueryEmpty, "query text is empty", nil).
			WithSuggestion("Pass the question to retrieve evidence for")
	}
	if q.Limit == 0 {
		return &FusedResult{Chunks: []ScoredChunk{}}, nil
	}

	limit := q.Limit
	if limit > r.maxLimit {
		r.logger.Debug("limit_capped", slog.Int("requested", limit), slog.Int("max", r.maxLimit))
		limit = r.maxLimit
	}
	useWeb := q.IncludeWeb && r.searcher != nil

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		dbChunks []ScoredChunk
		dbErr    error
		web      webOutcome
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dbChunks, dbErr = r.databasePath(gctx, text, limit*r.oversample)
		return nil // Don't fail the group
	})
	if useWeb {
		g.Go(func() error {
			web = r.webPath(gctx, text)
			return nil
		})
	}
	_ = g.Wait()

	result := &FusedResult{}
	var causes []error

	if dbErr != nil {
		result.DatabaseFailed = true
		causes = append(causes, dbErr)
		result.Warnings = append(result.Warnings, warning(SourceDatabase, dbErr))
		r.logger.Warn("database_path_failed",
			slog.String("query", text),
			slog.String("error", dbErr.Error()))
	}
	if useWeb {
		result.Warnings = append(result.Warnings, web.warnings...)
		result.WebTimedOut = web.timedOut
		if web.err != nil {
			result.WebFailed = true
			causes = append(causes, web.err)
			r.logger.Warn("web_path_failed",
				slog.String("query", text),
				slog.String("error", web.err.Error()))
		}
	}

	result.Chunks = fuse(dbChunks, web.chunks, limit, r.minScore)

	webDown := !useWeb || result.WebFailed
	if result.DatabaseFailed && webDown {
		return nil, r.fail(text, start, result, amerrors.RetrievalError("no retrieval path produced evidence", causes...))
	}
	if result.DatabaseFailed && len(result.Chunks) == 0 {
		return nil, r.fail(text, start, result, amerrors.RetrievalError("database failed and the web returned no evidence", causes...))
	}
	if len(result.Chunks) == 0 && ctx.Err() != nil {
		causes = append(causes, amerrors.TimeoutError("retrieval deadline exceeded", ctx.Err()))
		return nil, r.fail(text, start, result, amerrors.RetrievalError("deadline left no evidence", causes...))
	}

	r.record(text, start, result)
	r.logger.Debug("retrieval_done",
		slog.String("query", text),
		slog.Int("chunks", len(result.Chunks)),
		slog.Int("database", len(dbChunks)),
		slog.Int("web", len(web.chunks)),
		slog.Int("warnings", len(result.Warnings)),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (r *Retriever) fail(query string, start time.Time, result *FusedResult, err error) error {
	result.Chunks = nil
	r.record(query, start, result)
	r.logger.Error("retrieval_failed", append([]any{slog.String("query", query)}, amerrors.LogAttrs(err)...)...)
	return err
}

func (r *Retriever) record(query string, start time.Time, result *FusedResult) {
	if r.metrics == nil {
		return
	}
	var db, web int
	for _, c := range result.Chunks {
		if c.Source == SourceDatabase {
			db++
		} else {
			web++
		}
	}
	r.metrics.Record(telemetry.RetrievalEvent{
		Query:          query,
		ResultCount:    len(result.Chunks),
		DatabaseCount:  db,
		WebCount:       web,
		Latency:        time.Since(start),
		DatabaseFailed: result.DatabaseFailed,
		WebFailed:      result.WebFailed,
		WebTimedOut:    result.WebTimedOut,
		Timestamp:      start,
	})
}

// databasePath embeds the query and maps index hits to chunks.
func (r *Retriever) databasePath(ctx context.Context, text string, k int) ([]ScoredChunk, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, amerrors.TimeoutError("deadline exceeded while embedding query", err)
		}
		if amerrors.GetCode(err) == amerrors.ErrCodeEmbeddingFailed {
			return nil, err
		}
		return nil, amerrors.EmbeddingError("failed to embed query", err)
	}

	hits, err := r.index.Query(ctx, vec, k)
	if err != nil {
		if ctx.Err() != nil {
			return nil, amerrors.TimeoutError("deadline exceeded while querying index", err)
		}
		return nil, amerrors.IndexQueryError("vector index query failed", err)
	}

	chunks := make([]ScoredChunk, 0, len(hits))
	for i, h := range hits {
		chunks = append(chunks, ScoredChunk{
			ID:       h.ID,
			Text:     h.Text,
			Source:   SourceDatabase,
			RawScore: h.Score,
			Score:    r.normalizeDatabase(h.Score),
			Rank:     i,
			Metadata: Metadata{
				Title:   h.Metadata.Title,
				URL:     h.Metadata.URL,
				Authors: h.Metadata.Authors,
				Year:    h.Metadata.Year,
			},
		})
	}
	return chunks, nil
}

// normalizeDatabase maps a raw score from [scoreMin, scoreMax] onto [0, 1].
func (r *Retriever) normalizeDatabase(raw float64) float64 {
	return clamp01((raw - r.scoreMin) / (r.scoreMax - r.scoreMin))
}

func warning(source Source, err error) Warning {
	code := amerrors.GetCode(err)
	if code == "" {
		code = amerrors.ErrCodeInternal
	}
	return Warning{Source: source, Code: code, Message: err.Error(), Err: err}
}

type statser interface {
	Stats(ctx context.Context) (store.Stats, error)
}

// IndexStats reports the size of the local index. It fails when the
// index does not keep statistics.
func (r *Retriever) IndexStats(ctx context.Context) (store.Stats, error) {
	s, ok := r.index.(statser)
	if !ok {
		return store.Stats{}, fmt.Errorf("index does not report statistics")
	}
	return s.Stats(ctx)
}

// WebEnabled reports whether a web searcher is wired in.
func (r *Retriever) WebEnabled() bool {
	return r.searcher != nil
}

// Close releases the extraction pool and any dependencies the retriever owns.
func (r *Retriever) Close() error {
	if r.pool != nil {
		r.pool.Release()
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
