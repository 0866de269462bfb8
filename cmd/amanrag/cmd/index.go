package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/embed"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/watcher"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		reset  bool
		prune  bool
		watch  bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Load a directory of documents into the local index",
		Long: `Load every .txt, .md and .pdf file below <dir> into the vector index.

Text files may start with up to five "key: value" lines (title, authors,
year, url). PDF metadata comes from file names of the form
title_author1-author2_year.pdf. Unchanged files are skipped; edited files
replace their previous version. With --watch the command keeps running
and refreshes the index whenever files below <dir> change.`,
		Example: `  # Index a folder of papers
  amanrag index ./papers

  # Rebuild from scratch after changing the embedding model
  amanrag index --reset ./papers

  # Keep the index in sync while editing
  amanrag index --watch ./notes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return amerrors.ValidationError(err.Error(), nil)
			}
			return runIndex(cmd, a, args[0], indexFlags{reset: reset, prune: prune || watch, watch: watch}, f)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Delete the existing index before loading")
	cmd.Flags().BoolVar(&prune, "prune", false, "Remove documents whose files were deleted")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep running and re-index on changes (implies --prune)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")

	return cmd
}

type indexFlags struct {
	reset bool
	prune bool
	watch bool
}

func runIndex(cmd *cobra.Command, a *app, root string, flags indexFlags, format output.Format) error {
	ctx := cmd.Context()
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	embedder, err := embed.NewFromConfig(ctx, cfg.Embeddings)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	idx, err := store.Open(cfg.Index.DataDir, store.VectorConfig{
		M:        cfg.Index.M,
		EfSearch: cfg.Index.EfSearch,
	}, store.WithIndexLogger(a.logger))
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	if dims := idx.Dimensions(); !flags.reset && dims != 0 && dims != embedder.Dimensions() {
		return amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %d dimensions but %s produces %d", dims, embedder.ModelName(), embedder.Dimensions()), nil).
			WithSuggestion("Rebuild with 'amanrag index --reset " + root + "'")
	}

	loader := ingest.NewLoader(cfg.Ingest.Extensions, a.logger)
	indexer, err := ingest.NewIndexer(ingest.Dependencies{
		Embedder:  embedder,
		Store:     idx,
		Loader:    loader,
		Chunker:   ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		Logger:    a.logger,
		BatchSize: cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	res, err := indexer.Run(ctx, root, ingest.Options{Reset: flags.reset, Prune: flags.prune})
	if err != nil {
		return err
	}
	if err := out.IndexResult(res, format); err != nil || !flags.watch {
		return err
	}

	w, err := watcher.New(root, watcher.Options{Filter: loader.Supports, Logger: a.logger})
	if err != nil {
		return amerrors.IOError("failed to watch "+root, err)
	}
	defer func() { _ = w.Close() }()

	out.Status("👀", "Watching "+root+" for changes (Ctrl+C to stop)")
	err = w.Run(ctx, func(ctx context.Context, paths []string) error {
		a.logger.Info("reindex_triggered", slog.Int("paths", len(paths)))
		res, err := indexer.Run(ctx, root, ingest.Options{Prune: true})
		if err != nil {
			out.Warningf("Re-index failed: %v", err)
			return err
		}
		if res.Documents > 0 || res.Pruned > 0 {
			return out.IndexResult(res, format)
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
