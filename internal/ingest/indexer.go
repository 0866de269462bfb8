package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Store is the part of store.Index the indexer writes to.
type Store interface {
	Add(ctx context.Context, doc store.Document, records []store.Record) error
	HasDocument(ctx context.Context, docID string) (bool, error)
	DocumentsAt(ctx context.Context, path string) ([]string, error)
	Paths(ctx context.Context) ([]string, error)
	Remove(ctx context.Context, docID string) error
	Reset(ctx context.Context) error
	Save() error
	AcquireWriter() (func() error, error)
}

// BatchEmbedder embeds chunk texts.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Dependencies are the injected collaborators of an Indexer.
type Dependencies struct {
	Embedder BatchEmbedder
	Store    Store
	Loader   *Loader
	Chunker  *Chunker
	Logger   *slog.Logger

	// BatchSize is the number of chunks per EmbedBatch call.
	BatchSize int
}

// Options configures one run.
type Options struct {
	// Reset clears the index before loading.
	Reset bool

	// Prune removes documents whose file no longer exists below root.
	Prune bool
}

// Result summarises a run.
type Result struct {
	// Documents is the number of documents written.
	Documents int `json:"documents"`

	// Chunks is the number of chunks written.
	Chunks int `json:"chunks"`

	// Unchanged counts files whose content was already indexed.
	Unchanged int `json:"unchanged"`

	// Skipped counts files that could not be loaded.
	Skipped int `json:"skipped"`

	// Removed counts stale documents replaced by a newer version of the same file.
	Removed int `json:"removed"`

	// Pruned counts documents dropped because their file is gone.
	Pruned int `json:"pruned"`

	Duration time.Duration `json:"duration_ns"`
}

// Indexer loads, chunks, embeds and stores documents.
type Indexer struct {
	embedder  BatchEmbedder
	store     Store
	loader    *Loader
	chunker   *Chunker
	logger    *slog.Logger
	batchSize int
}

// NewIndexer creates an Indexer. Embedder and Store are required.
func NewIndexer(deps Dependencies) (*Indexer, error) {
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Loader == nil {
		deps.Loader = NewLoader(nil, deps.Logger)
	}
	if deps.Chunker == nil {
		deps.Chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = embed.DefaultBatchSize
	}
	deps.BatchSize = min(deps.BatchSize, embed.MaxBatchSize)

	return &Indexer{
		embedder:  deps.Embedder,
		store:     deps.Store,
		loader:    deps.Loader,
		chunker:   deps.Chunker,
		logger:    deps.Logger,
		batchSize: deps.BatchSize,
	}, nil
}

// Run indexes every supported file below root while holding the data
// directory's write lock. Files that fail to load are skipped and
// counted; embedding and storage errors abort the run. The vector graph
// is saved even when the run aborts, so completed documents persist.
func (x *Indexer) Run(ctx context.Context, root string, opts Options) (result *Result, err error) {
	start := time.Now()
	result = &Result{}

	release, err := x.store.AcquireWriter()
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, release())
	}()

	if opts.Reset {
		if err := x.store.Reset(ctx); err != nil {
			return nil, amerrors.IOError("failed to reset index", err)
		}
		x.logger.Info("index_reset")
	}

	seen := make(map[string]bool)
	walkErr := x.loader.Walk(ctx, root, func(rel string) error {
		seen[rel] = true
		return x.indexFile(ctx, root, rel, result)
	})
	if walkErr == nil && opts.Prune {
		walkErr = x.prune(ctx, seen, result)
	}

	if err := x.store.Save(); err != nil {
		return nil, errors.Join(walkErr, amerrors.IOError("failed to save index", err))
	}
	if walkErr != nil {
		return nil, walkErr
	}

	result.Duration = time.Since(start)
	x.logger.Info("index_complete",
		slog.Int("documents", result.Documents),
		slog.Int("chunks", result.Chunks),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("skipped", result.Skipped),
		slog.Int("pruned", result.Pruned),
		slog.Duration("duration", result.Duration))
	return result, nil
}

func (x *Indexer) indexFile(ctx context.Context, root, rel string, result *Result) error {
	doc, err := x.loader.Load(root, rel)
	if err != nil {
		result.Skipped++
		x.logger.Warn("document_skipped", append([]any{slog.String("path", rel)}, amerrors.LogAttrs(err)...)...)
		return nil
	}

	has, err := x.store.HasDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	if has {
		result.Unchanged++
		return nil
	}

	texts := x.chunker.Split(doc.Text)
	if len(texts) == 0 {
		result.Skipped++
		return nil
	}

	vectors, err := x.embedAll(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", rel, err)
	}

	records := make([]store.Record, len(texts))
	for n, text := range texts {
		records[n] = store.Record{
			ID:     fmt.Sprintf("%s#%d", doc.ID, n),
			DocID:  doc.ID,
			Seq:    n,
			Text:   text,
			Vector: vectors[n],
		}
	}

	stale, err := x.store.DocumentsAt(ctx, rel)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if err := x.store.Remove(ctx, id); err != nil {
			return err
		}
		result.Removed++
	}

	if err := x.store.Add(ctx, store.Document{ID: doc.ID, Metadata: doc.Metadata, AddedAt: time.Now()}, records); err != nil {
		return err
	}

	result.Documents++
	result.Chunks += len(records)
	x.logger.Debug("document_indexed",
		slog.String("path", rel),
		slog.String("id", doc.ID),
		slog.Int("chunks", len(records)))
	return nil
}

// prune removes every indexed path that the walk did not visit.
func (x *Indexer) prune(ctx context.Context, seen map[string]bool, result *Result) error {
	paths, err := x.store.Paths(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if seen[p] {
			continue
		}
		ids, err := x.store.DocumentsAt(ctx, p)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := x.store.Remove(ctx, id); err != nil {
				return err
			}
			result.Pruned++
		}
		x.logger.Debug("document_pruned", slog.String("path", p))
	}
	return nil
}

func (x *Indexer) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += x.batchSize {
		end := min(start+x.batchSize, len(texts))
		vecs, err := x.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, amerrors.EmbeddingError(
				fmt.Sprintf("embedder returned %d vectors for %d texts", len(vecs), end-start), nil)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
