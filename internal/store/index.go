package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// File names inside the data directory.
const (
	VectorFile   = "vectors.hnsw"
	DocumentFile = "documents.db"
)

// Index is the local evidence store: vectors in HNSW, text and metadata
// in SQLite. Query results carry everything the retriever needs.
type Index struct {
	dir     string
	vectors *HNSWIndex
	docs    *DocumentStore
	lock    *FileLock
	logger  *slog.Logger
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithIndexLogger sets the logger.
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// Open opens the index stored in dir, creating it when absent.
// An empty dir gives an in-memory index that Save ignores.
func Open(dir string, cfg VectorConfig, opts ...IndexOption) (*Index, error) {
	idx := &Index{
		dir:     dir,
		vectors: NewHNSWIndex(cfg),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}

	docPath := ""
	if dir != "" {
		docPath = filepath.Join(dir, DocumentFile)
		idx.lock = NewFileLock(dir)

		err := idx.vectors.Load(filepath.Join(dir, VectorFile))
		switch {
		case err == nil:
			idx.logger.Debug("index_loaded",
				slog.String("dir", dir),
				slog.Int("vectors", idx.vectors.Count()))
		case errors.Is(err, os.ErrNotExist):
			// Fresh index.
		default:
			return nil, amerrors.New(amerrors.ErrCodeCorruptIndex, "vector index is unreadable", err).
				WithDetail("dir", dir).
				WithSuggestion("Rebuild it with 'amanrag index --reset <dir>'")
		}
	}

	docs, err := OpenDocumentStore(docPath)
	if err != nil {
		return nil, amerrors.IOError("failed to open document store", err)
	}
	idx.docs = docs

	return idx, nil
}

// Add stores one document and its embedded chunks, replacing any chunks
// previously stored for the same document.
func (i *Index) Add(ctx context.Context, doc Document, records []Record) error {
	stale, err := i.docs.ChunkIDs(ctx, doc.ID)
	if err != nil {
		return err
	}

	ids := make([]string, len(records))
	vecs := make([][]float32, len(records))
	keep := make(map[string]bool, len(records))
	for n, r := range records {
		ids[n] = r.ID
		vecs[n] = r.Vector
		keep[r.ID] = true
	}

	if err := i.vectors.Add(ctx, ids, vecs); err != nil {
		return fmt.Errorf("add vectors for %s: %w", doc.ID, err)
	}

	var drop []string
	for _, id := range stale {
		if !keep[id] {
			drop = append(drop, id)
		}
	}
	if err := i.vectors.Delete(ctx, drop); err != nil {
		return err
	}

	return i.docs.Put(ctx, doc, records)
}

// HasDocument reports whether doc ID is already indexed.
func (i *Index) HasDocument(ctx context.Context, docID string) (bool, error) {
	return i.docs.HasDocument(ctx, docID)
}

// DocumentsAt returns the IDs of documents previously ingested from path.
func (i *Index) DocumentsAt(ctx context.Context, path string) ([]string, error) {
	return i.docs.DocumentIDs(ctx, path)
}

// Paths lists the source paths currently in the index.
func (i *Index) Paths(ctx context.Context) ([]string, error) {
	return i.docs.Paths(ctx)
}

// Remove deletes a document together with its chunks and vectors.
func (i *Index) Remove(ctx context.Context, docID string) error {
	ids, err := i.docs.ChunkIDs(ctx, docID)
	if err != nil {
		return err
	}
	if err := i.vectors.Delete(ctx, ids); err != nil {
		return err
	}
	return i.docs.Delete(ctx, docID)
}

// Query returns up to k hits for vector, sorted by raw cosine similarity
// descending with ties in insertion order. An empty index returns no hits.
func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vhits, err := i.vectors.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	if len(vhits) == 0 {
		return []Hit{}, nil
	}

	ids := make([]string, len(vhits))
	for n, h := range vhits {
		ids[n] = h.ID
	}
	rows, err := i.docs.Chunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(vhits))
	for _, h := range vhits {
		row, ok := rows[h.ID]
		if !ok {
			i.logger.Debug("vector_without_chunk", slog.String("id", h.ID))
			continue
		}
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Text: row.Text, Metadata: row.Metadata})
	}
	return hits, nil
}

// Dimensions returns the vector dimension, 0 for an empty index.
func (i *Index) Dimensions() int {
	return i.vectors.Dimensions()
}

// Stats reports index sizes.
func (i *Index) Stats(ctx context.Context) (Stats, error) {
	docs, chunks, err := i.docs.Counts(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Documents:  docs,
		Chunks:     chunks,
		Vectors:    i.vectors.Count(),
		Orphans:    i.vectors.Orphans(),
		Dimensions: i.vectors.Dimensions(),
	}, nil
}

// Reset deletes every vector, chunk and document.
func (i *Index) Reset(ctx context.Context) error {
	i.vectors.Reset()
	return i.docs.Reset(ctx)
}

// Save persists the vector graph. SQLite writes are already durable.
func (i *Index) Save() error {
	if i.dir == "" {
		return nil
	}
	return i.vectors.Save(filepath.Join(i.dir, VectorFile))
}

// AcquireWriter takes the data directory's write lock without blocking.
// The returned function releases it.
func (i *Index) AcquireWriter() (func() error, error) {
	if i.lock == nil {
		return func() error { return nil }, nil
	}

	ok, err := i.lock.TryLock()
	if err != nil {
		return nil, amerrors.IOError("failed to lock index", err)
	}
	if !ok {
		return nil, amerrors.New(amerrors.ErrCodeIndexLocked, "index is being written by another process", nil).
			WithDetail("lock", i.lock.Path())
	}
	return i.lock.Unlock, nil
}

// Close releases the vector graph and the database.
func (i *Index) Close() error {
	return errors.Join(i.vectors.Close(), i.docs.Close())
}
