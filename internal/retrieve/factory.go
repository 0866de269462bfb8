package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/extract"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/websearch"
)

// NewFromConfig wires the configured embedder, the index under
// cfg.Index.DataDir and, when cfg.Retrieval.IncludeWeb is set, the web
// search client and extractor. The retriever owns and closes them.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Retriever, error) {
	if logger == nil {
		logger = slog.Default()
	}

	embedder, err := embed.NewFromConfig(ctx, cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	idx, err := store.Open(cfg.Index.DataDir, store.VectorConfig{
		M:        cfg.Index.M,
		EfSearch: cfg.Index.EfSearch,
	}, store.WithIndexLogger(logger))
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	if dims := idx.Dimensions(); dims != 0 && dims != embedder.Dimensions() {
		_ = idx.Close()
		_ = embedder.Close()
		return nil, amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %d dimensions but %s produces %d", dims, embedder.ModelName(), embedder.Dimensions()), nil).
			WithSuggestion("Rebuild the index with 'amanrag index --reset <dir>' after changing the embedder")
	}

	base := []Option{
		WithLogger(logger),
		WithScoreRange(cfg.Index.ScoreMin, cfg.Index.ScoreMax),
		WithOversample(cfg.Retrieval.Oversample),
		WithTimeout(cfg.Retrieval.Timeout),
		WithMaxLimit(cfg.Retrieval.MaxLimit),
		WithMinScore(cfg.Retrieval.MinScore),
		WithPoolSize(cfg.Web.MaxConcurrency),
		withClosers(embedder, idx),
	}
	if cfg.Retrieval.IncludeWeb {
		base = append(base, WithWeb(
			websearch.NewFromConfig(cfg.Web, websearch.WithLogger(logger)),
			extract.NewFromConfig(cfg.Web, extract.WithLogger(logger)),
			cfg.Web.MaxResults,
		))
	}

	r, err := New(embedder, idx, append(base, opts...)...)
	if err != nil {
		_ = idx.Close()
		_ = embedder.Close()
		return nil, err
	}
	return r, nil
}
