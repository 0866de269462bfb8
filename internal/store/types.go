// Package store persists embedded chunks and answers nearest-neighbour
// queries: an HNSW graph for vectors and a SQLite table for chunk text
// and document metadata, both under one data directory.
package store

import (
	"fmt"
	"time"
)

// Metadata describes the document a chunk came from. Only these fields
// are stored; unknown keys are dropped during ingestion.
type Metadata struct {
	Title   string
	URL     string
	Authors []string
	Year    int
	Path    string
}

// Document is an ingested source file.
type Document struct {
	ID       string
	Metadata Metadata
	AddedAt  time.Time
}

// Record is one chunk ready to be indexed.
type Record struct {
	ID     string
	DocID  string
	Seq    int
	Text   string
	Vector []float32
}

// Hit is a query result. Score is the raw cosine similarity in [-1, 1].
type Hit struct {
	ID       string
	Score    float64
	Text     string
	Metadata Metadata
}

// VectorHit is a raw graph result before chunk text is attached.
type VectorHit struct {
	ID    string
	Score float64
	// seq is the insertion order used to break score ties.
	seq uint64
}

// VectorConfig configures the HNSW graph.
type VectorConfig struct {
	// Dimensions is fixed by the first Add when 0.
	Dimensions int
	M          int
	EfSearch   int
}

// Stats summarises the index contents.
type Stats struct {
	Documents  int
	Chunks     int
	Vectors    int
	Orphans    int
	Dimensions int
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild with 'amanrag index --reset')", e.Expected, e.Got)
}
