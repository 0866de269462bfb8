// Package retrieve fuses evidence from the local vector index and live web
// search into one ranked, deduplicated list.
//
// Both paths run concurrently under one deadline. Database scores are
// cosine similarities mapped from an a-priori range onto [0, 1]; web
// results have no score, so their rank is mapped onto [0, 1] instead.
// Output order is fully determined by the inputs.
package retrieve

import (
	"context"
	"math"

	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/websearch"
)

// Source tells where a chunk came from.
type Source string

const (
	SourceDatabase Source = "database"
	SourceWeb      Source = "web"
)

// Query is one retrieval request.
type Query struct {
	Text       string
	Limit      int
	IncludeWeb bool
}

// Metadata describes the document a chunk belongs to.
type Metadata struct {
	Title   string   `json:"title,omitempty"`
	URL     string   `json:"url,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
}

// ScoredChunk is one piece of evidence.
type ScoredChunk struct {
	// ID is the index key for database chunks and "web-" plus a hash of
	// the normalized URL for web chunks.
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source Source `json:"source"`

	// RawScore is cosine similarity for database chunks. Web results carry
	// no engine score, so theirs equals Score.
	RawScore float64  `json:"raw_score"`
	Score    float64  `json:"score"`
	Rank     int      `json:"rank"`
	Metadata Metadata `json:"metadata"`
}

// Warning records a degraded sub-operation that did not abort the call.
type Warning struct {
	Source  Source `json:"source"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// FusedResult is the ranked evidence list. Scores never increase along
// Chunks, IDs are unique and len(Chunks) never exceeds the query limit.
type FusedResult struct {
	Chunks   []ScoredChunk `json:"chunks"`
	Warnings []Warning     `json:"warnings,omitempty"`

	DatabaseFailed bool `json:"database_failed,omitempty"`
	WebFailed      bool `json:"web_failed,omitempty"`
	WebTimedOut    bool `json:"web_timed_out,omitempty"`
}

// Embedder turns the query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index answers nearest-neighbour queries with raw cosine similarity.
type Index interface {
	Query(ctx context.Context, vector []float32, k int) ([]store.Hit, error)
}

// Searcher returns ranked web result stubs.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]websearch.Stub, error)
}

// Extractor returns the readable text of a page.
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// RankScorer maps a web result's rank (0 best) among n requested results
// onto [0, 1].
type RankScorer func(rank, n int) float64

// LinearRankDecay scores rank i as 1 - i/n.
func LinearRankDecay(rank, n int) float64 {
	if n <= 0 {
		return 0
	}
	return clamp01(1 - float64(rank)/float64(n))
}

// ReciprocalRankDecay scores rank i as 1/(i+1), which favours the top
// result more strongly than LinearRankDecay.
func ReciprocalRankDecay(rank, _ int) float64 {
	if rank < 0 {
		return 1
	}
	return 1 / float64(rank+1)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
