package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/retrieve"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// excerptRunes caps chunk text in text mode.
const excerptRunes = 280

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Result renders a fused result.
func (w *Writer) Result(res *retrieve.FusedResult, format Format) error {
	if format == FormatJSON {
		return WriteJSON(w.out, res)
	}

	if len(res.Chunks) == 0 {
		w.Status("🔍", "No evidence found")
	}
	for i, c := range res.Chunks {
		title := c.Metadata.Title
		if title == "" {
			title = c.ID
		}
		_, _ = fmt.Fprintf(w.out, "%2d. %s %s\n", i+1,
			w.styles.Score.Render(fmt.Sprintf("[%s %.2f]", c.Source, c.Score)),
			w.styles.Header.Render(title))

		var meta []string
		if len(c.Metadata.Authors) > 0 {
			meta = append(meta, strings.Join(c.Metadata.Authors, ", "))
		}
		if c.Metadata.Year != 0 {
			meta = append(meta, fmt.Sprint(c.Metadata.Year))
		}
		if c.Metadata.URL != "" {
			meta = append(meta, c.Metadata.URL)
		}
		if len(meta) > 0 {
			_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Label.Render(strings.Join(meta, " · ")))
		}
		_, _ = fmt.Fprintf(w.out, "    %s\n", excerpt(c.Text, excerptRunes))
	}

	if len(res.Warnings) > 0 {
		w.Newline()
		for _, warn := range res.Warnings {
			w.Warningf("%s: %s", warn.Source, warn.Message)
		}
	}
	return nil
}

// IndexResult renders an ingest summary.
func (w *Writer) IndexResult(res *ingest.Result, format Format) error {
	if format == FormatJSON {
		return WriteJSON(w.out, res)
	}
	w.Successf("Indexed %d documents (%d chunks) in %s", res.Documents, res.Chunks, res.Duration.Round(time.Millisecond))
	if res.Unchanged > 0 {
		w.Status("", fmt.Sprintf("%d unchanged", res.Unchanged))
	}
	if res.Removed > 0 {
		w.Status("", fmt.Sprintf("%d replaced", res.Removed))
	}
	if res.Pruned > 0 {
		w.Status("", fmt.Sprintf("%d removed", res.Pruned))
	}
	if res.Skipped > 0 {
		w.Warningf("%d files skipped (run with --debug for details)", res.Skipped)
	}
	return nil
}

// Stats renders retrieval telemetry.
func (w *Writer) Stats(s *telemetry.Snapshot, format Format) error {
	if format == FormatJSON {
		return WriteJSON(w.out, s)
	}
	if s.TotalQueries == 0 {
		w.Status("📊", "No retrievals recorded yet")
		return nil
	}

	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render("Retrieval statistics"))
	if !s.Since.IsZero() {
		_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.Label.Render("since"), s.Since.Format("2006-01-02"))
	}
	_, _ = fmt.Fprintf(w.out, "  %s %d\n", w.styles.Label.Render("queries"), s.TotalQueries)
	_, _ = fmt.Fprintf(w.out, "  %s %d (%.1f%%)\n", w.styles.Label.Render("zero results"),
		s.ZeroResultCount, s.ZeroResultPercentage())
	_, _ = fmt.Fprintf(w.out, "  %s %d database, %d web\n", w.styles.Label.Render("chunks"),
		s.DatabaseChunks, s.WebChunks)

	_, _ = fmt.Fprintf(w.out, "  %s", w.styles.Label.Render("latency"))
	for _, b := range telemetry.LatencyBuckets {
		_, _ = fmt.Fprintf(w.out, " %s=%d", b, s.LatencyDistribution[b])
	}
	_, _ = fmt.Fprintln(w.out)

	for _, d := range []telemetry.Degradation{
		telemetry.DegradedDatabase, telemetry.DegradedWeb, telemetry.DegradedWebTimeout,
	} {
		if n := s.Degraded[d]; n > 0 {
			_, _ = fmt.Fprintf(w.out, "  %s %d (%.1f%%)\n", w.styles.Label.Render(string(d)), n, s.DegradedPercentage(d))
		}
	}
	if len(s.ZeroResultQueries) > 0 {
		_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.Label.Render("recent misses"),
			strings.Join(s.ZeroResultQueries, " | "))
	}
	return nil
}

// excerpt shortens text to n runes on one line.
func excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:n])) + "…"
}
