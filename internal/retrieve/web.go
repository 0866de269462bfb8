package retrieve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/websearch"
)

// webOutcome is what the web path hands to fusion. err is set only when
// the search itself failed; per-page problems are warnings.
type webOutcome struct {
	chunks   []ScoredChunk
	warnings []Warning
	err      error
	timedOut bool
}

// webPath searches, then extracts every stub with at most poolSize
// fetches in flight. Pages still in flight at the deadline are abandoned
// and their chunks fall back to the snippet.
func (r *Retriever) webPath(ctx context.Context, text string) webOutcome {
	var out webOutcome

	stubs, err := r.searcher.Search(ctx, text, r.webMax)
	if err != nil {
		if ctx.Err() != nil {
			out.timedOut = true
			err = amerrors.TimeoutError("deadline exceeded during web search", err)
		}
		if amerrors.GetCode(err) == "" {
			err = amerrors.SearchError("web search failed", err)
		}
		out.err = err
		out.warnings = append(out.warnings, warning(SourceWeb, err))
		return out
	}
	if len(stubs) == 0 {
		out.warnings = append(out.warnings, Warning{
			Source:  SourceWeb,
			Code:    amerrors.ErrCodeSearchFailed,
			Message: "web search returned no results",
		})
		return out
	}
	if len(stubs) > r.webMax {
		stubs = stubs[:r.webMax]
	}
	stubs = withLinks(stubs, r.logger)
	if len(stubs) == 0 {
		return out
	}

	texts, errs, abandoned := r.extractAll(ctx, stubs)
	if ctx.Err() != nil {
		for i := range abandoned {
			if texts[i] == "" && amerrors.IsContextError(errs[i]) {
				abandoned[i] = true
			}
		}
	}

	fallbacks := 0
	for i, stub := range stubs {
		body := texts[i]
		if body == "" {
			fallbacks++
			body = stub.Snippet
			if errs[i] != nil && !abandoned[i] {
				out.warnings = append(out.warnings, warning(SourceWeb, errs[i]))
			}
		}
		if body == "" {
			body = stub.Title
		}
		if body == "" {
			continue
		}

		score := clamp01(r.rankScorer(i, r.webMax))
		out.chunks = append(out.chunks, ScoredChunk{
			ID:       webID(normalizeURL(stub.Link)),
			Text:     body,
			Source:   SourceWeb,
			RawScore: score,
			Score:    score,
			Rank:     i,
			Metadata: Metadata{
				Title:   stub.Title,
				URL:     stub.Link,
				Snippet: stub.Snippet,
			},
		})
	}

	if n := countTrue(abandoned); n > 0 {
		out.timedOut = true
		out.warnings = append(out.warnings, warning(SourceWeb, amerrors.TimeoutError(
			fmt.Sprintf("deadline exceeded with %d page extractions in flight; using snippets", n),
			context.DeadlineExceeded)))
	}

	r.logger.Debug("web_path_done",
		slog.Int("stubs", len(stubs)),
		slog.Int("chunks", len(out.chunks)),
		slog.Int("snippet_fallbacks", fallbacks))
	return out
}

// extractionSlots collects results by stub index. Once closed, late
// results are discarded.
type extractionSlots struct {
	mu     sync.Mutex
	texts  []string
	errs   []error
	filled []bool
	closed bool
}

func (s *extractionSlots) put(i int, text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.texts[i], s.errs[i], s.filled[i] = text, err, true
}

// close stops accepting results and returns copies of the slots. An
// unfilled slot is reported as abandoned.
func (s *extractionSlots) close() ([]string, []error, []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	texts := append([]string(nil), s.texts...)
	errs := append([]error(nil), s.errs...)
	abandoned := make([]bool, len(s.filled))
	for i, ok := range s.filled {
		abandoned[i] = !ok
	}
	return texts, errs, abandoned
}

func (r *Retriever) extractAll(ctx context.Context, stubs []websearch.Stub) ([]string, []error, []bool) {
	slots := &extractionSlots{
		texts:  make([]string, len(stubs)),
		errs:   make([]error, len(stubs)),
		filled: make([]bool, len(stubs)),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i, stub := range stubs {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			err := r.pool.Submit(func() {
				defer wg.Done()
				text, err := r.extractor.Extract(ctx, stub.Link)
				slots.put(i, text, err)
			})
			if err != nil {
				wg.Done()
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					break
				}
				slots.put(i, "", amerrors.ExtractionError(stub.Link, "extraction pool rejected task", err))
			}
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	return slots.close()
}

// withLinks drops stubs without a usable link, keeping engine order. Rank
// is the position among the kept stubs.
func withLinks(stubs []websearch.Stub, logger *slog.Logger) []websearch.Stub {
	kept := stubs[:0:0]
	for _, stub := range stubs {
		if normalizeURL(stub.Link) == "" {
			logger.Debug("web_stub_without_link", slog.String("title", stub.Title))
			continue
		}
		kept = append(kept, stub)
	}
	return kept
}

// webID derives a stable chunk ID from a normalized URL.
func webID(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return "web-" + hex.EncodeToString(sum[:8])
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
