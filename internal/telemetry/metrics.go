// Package telemetry records retrieval metrics. All data stays local;
// nothing is reported externally.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is a latency histogram bucket. Web extraction dominates
// retrieval latency, so the buckets are coarse.
type LatencyBucket string

const (
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketUnder500ms LatencyBucket = "lt_500ms"
	BucketUnder2s    LatencyBucket = "lt_2s"
	BucketUnder10s   LatencyBucket = "lt_10s"
	BucketOver10s    LatencyBucket = "ge_10s"
)

// LatencyBuckets lists the buckets in ascending order.
var LatencyBuckets = []LatencyBucket{
	BucketUnder100ms, BucketUnder500ms, BucketUnder2s, BucketUnder10s, BucketOver10s,
}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < 100*time.Millisecond:
		return BucketUnder100ms
	case d < 500*time.Millisecond:
		return BucketUnder500ms
	case d < 2*time.Second:
		return BucketUnder2s
	case d < 10*time.Second:
		return BucketUnder10s
	default:
		return BucketOver10s
	}
}

// Degradation names a path that did not fully succeed.
type Degradation string

const (
	DegradedDatabase   Degradation = "database_failed"
	DegradedWeb        Degradation = "web_failed"
	DegradedWebTimeout Degradation = "web_timed_out"
)

// RetrievalEvent describes one finished retrieval call.
type RetrievalEvent struct {
	Query          string
	ResultCount    int
	DatabaseCount  int
	WebCount       int
	Latency        time.Duration
	DatabaseFailed bool
	WebFailed      bool
	WebTimedOut    bool
	Timestamp      time.Time
}

// IsZeroResult reports whether the call returned no evidence.
func (e RetrievalEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

func (e RetrievalEvent) degradations() []Degradation {
	var out []Degradation
	if e.DatabaseFailed {
		out = append(out, DegradedDatabase)
	}
	if e.WebFailed {
		out = append(out, DegradedWeb)
	}
	if e.WebTimedOut {
		out = append(out, DegradedWebTimeout)
	}
	return out
}

// TermCount is a query term and how often it was seen.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable copy of the collected metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Degraded            map[Degradation]int64   `json:"degraded"`
	DatabaseChunks      int64                   `json:"database_chunks"`
	WebChunks           int64                   `json:"web_chunks"`
	TopTerms            []TermCount             `json:"top_terms,omitempty"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of calls without evidence.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// DegradedPercentage returns the percentage of calls that hit d.
func (s *Snapshot) DegradedPercentage(d Degradation) float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.Degraded[d]) / float64(s.TotalQueries) * 100
}

// Store persists flushed metrics.
type Store interface {
	// AddCounts adds one flush worth of counters to the given day.
	AddCounts(date string, c Counts) error

	// AddZeroResultQueries appends queries, keeping the most recent ones.
	AddZeroResultQueries(queries []string, at time.Time) error

	// Summary aggregates all days in [from, to] (YYYY-MM-DD, inclusive).
	Summary(from, to string) (*Snapshot, error)

	Close() error
}

// Counts is the additive part of the metrics.
type Counts struct {
	Queries        int64
	ZeroResults    int64
	DatabaseChunks int64
	WebChunks      int64
	Latency        map[LatencyBucket]int64
	Degraded       map[Degradation]int64
}

func newCounts() Counts {
	return Counts{
		Latency:  make(map[LatencyBucket]int64),
		Degraded: make(map[Degradation]int64),
	}
}

func (c *Counts) add(e RetrievalEvent) {
	c.Queries++
	if e.IsZeroResult() {
		c.ZeroResults++
	}
	c.DatabaseChunks += int64(e.DatabaseCount)
	c.WebChunks += int64(e.WebCount)
	c.Latency[LatencyToBucket(e.Latency)]++
	for _, d := range e.degradations() {
		c.Degraded[d]++
	}
}

func (c Counts) empty() bool {
	return c.Queries == 0
}

// Config configures Metrics.
type Config struct {
	TopTermsCapacity      int // default: 100
	ZeroResultsCapacity   int // default: 100
	RecentQueriesCapacity int // default: 500
}

// DefaultConfig returns the default capacities.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
	}
}

// Metrics collects retrieval telemetry. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	total       Counts
	pending     Counts
	pendingZero []string

	topTerms      *lru.Cache[string, int64]
	zeroResults   *CircularBuffer[string]
	recentQueries *lru.Cache[string, struct{}]
	exactRepeats  int64
	startTime     time.Time

	store  Store
	closed bool
	now    func() time.Time
}

// NewMetrics creates a collector with default capacities. A nil store
// keeps metrics in memory only.
func NewMetrics(store Store) *Metrics {
	return NewMetricsWithConfig(store, DefaultConfig())
}

// NewMetricsWithConfig creates a collector with custom capacities.
func NewMetricsWithConfig(store Store, cfg Config) *Metrics {
	def := DefaultConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &Metrics{
		total:         newCounts(),
		pending:       newCounts(),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recent,
		startTime:     time.Now(),
		store:         store,
		now:           time.Now,
	}
}

// Record captures one retrieval call.
func (m *Metrics) Record(e RetrievalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.total.add(e)
	m.pending.add(e)

	for _, term := range ExtractTerms(e.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if e.IsZeroResult() {
		m.zeroResults.Add(e.Query)
		m.pendingZero = append(m.pendingZero, e.Query)
	}

	key := hashQuery(e.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeats++
	}
	m.recentQueries.Add(key, struct{}{})
}

// Snapshot returns the metrics collected since the collector was created.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	latency := make(map[LatencyBucket]int64, len(m.total.Latency))
	for k, v := range m.total.Latency {
		latency[k] = v
	}
	degraded := make(map[Degradation]int64, len(m.total.Degraded))
	for k, v := range m.total.Degraded {
		degraded[k] = v
	}

	var terms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &Snapshot{
		TotalQueries:        m.total.Queries,
		ZeroResultCount:     m.total.ZeroResults,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latency,
		Degraded:            degraded,
		DatabaseChunks:      m.total.DatabaseChunks,
		WebChunks:           m.total.WebChunks,
		TopTerms:            terms,
		ExactRepeatCount:    m.exactRepeats,
		Since:               m.startTime,
	}
}

// Flush writes counters recorded since the last successful flush to the
// store. Safe to call without a store.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	pending, zero := m.pending, m.pendingZero
	m.pending, m.pendingZero = newCounts(), nil
	now := m.now()
	m.mu.Unlock()

	if pending.empty() {
		return nil
	}
	if err := m.store.AddCounts(now.Format(time.DateOnly), pending); err != nil {
		m.restore(pending, zero)
		return err
	}
	if len(zero) > 0 {
		if err := m.store.AddZeroResultQueries(zero, now); err != nil {
			return err
		}
	}
	return nil
}

// restore puts unflushed counters back so the next flush retries them.
func (m *Metrics) restore(c Counts, zero []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending.Queries += c.Queries
	m.pending.ZeroResults += c.ZeroResults
	m.pending.DatabaseChunks += c.DatabaseChunks
	m.pending.WebChunks += c.WebChunks
	for k, v := range c.Latency {
		m.pending.Latency[k] += v
	}
	for k, v := range c.Degraded {
		m.pending.Degraded[k] += v
	}
	m.pendingZero = append(zero, m.pendingZero...)
}

// Close flushes and stops recording. The store is closed too.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	flushErr := m.Flush()
	if err := m.store.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}

// ExtractTerms lowercases the query and keeps words of 3+ characters.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}
