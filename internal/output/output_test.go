package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/retrieve"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

func newPlain() (*Writer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewWithColor(buf, false), buf
}

func TestWriter_StatusLines(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		icon  string
		text  string
	}{
		{"success", func(w *Writer) { w.Success("Index complete!") }, "✅", "Index complete!"},
		{"warning", func(w *Writer) { w.Warningf("%d skipped", 2) }, "⚠️", "2 skipped"},
		{"error", func(w *Writer) { w.Error("Failed to connect") }, "❌", "Failed to connect"},
		{"no icon", func(w *Writer) { w.Status("", "indented") }, "   ", "indented"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, buf := newPlain()

			tt.write(w)

			assert.True(t, strings.HasPrefix(buf.String(), tt.icon))
			assert.Contains(t, buf.String(), tt.text)
		})
	}
}

func TestNew_BufferIsNotATerminal(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func sampleResult() *retrieve.FusedResult {
	return &retrieve.FusedResult{
		Chunks: []retrieve.ScoredChunk{
			{
				ID: "web-0011223344556677", Text: "Arctic foxes turn\nwhite.", Source: retrieve.SourceWeb, Score: 1,
				Metadata: retrieve.Metadata{Title: "Arctic fox", URL: "https://example.org/fox"},
			},
			{
				ID: "doc#0", Text: "Red foxes hunt at dusk.", Source: retrieve.SourceDatabase, Score: 0.95, RawScore: 0.9,
				Metadata: retrieve.Metadata{Authors: []string{"A. Vulpes"}, Year: 2021},
			},
		},
		Warnings: []retrieve.Warning{{Source: retrieve.SourceWeb, Code: "ERR_320_EXTRACTION_FAILED", Message: "page returned status 500"}},
	}
}

func TestWriter_Result_Text(t *testing.T) {
	w, buf := newPlain()

	require.NoError(t, w.Result(sampleResult(), FormatText))

	out := buf.String()
	assert.Contains(t, out, " 1. [web 1.00] Arctic fox")
	assert.Contains(t, out, "https://example.org/fox")
	assert.Contains(t, out, "Arctic foxes turn white.")
	// Untitled chunks fall back to their ID.
	assert.Contains(t, out, " 2. [database 0.95] doc#0")
	assert.Contains(t, out, "A. Vulpes · 2021")
	assert.Contains(t, out, "web: page returned status 500")
}

func TestWriter_Result_Empty(t *testing.T) {
	w, buf := newPlain()

	require.NoError(t, w.Result(&retrieve.FusedResult{Chunks: []retrieve.ScoredChunk{}}, FormatText))

	assert.Contains(t, buf.String(), "No evidence found")
}

func TestWriter_Result_JSON(t *testing.T) {
	w, buf := newPlain()

	require.NoError(t, w.Result(sampleResult(), FormatJSON))

	var decoded struct {
		Chunks []struct {
			ID     string  `json:"id"`
			Source string  `json:"source"`
			Score  float64 `json:"score"`
		} `json:"chunks"`
		Warnings []struct {
			Code string `json:"code"`
		} `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Chunks, 2)
	assert.Equal(t, "web", decoded.Chunks[0].Source)
	assert.Equal(t, "doc#0", decoded.Chunks[1].ID)
	assert.Equal(t, "ERR_320_EXTRACTION_FAILED", decoded.Warnings[0].Code)
	assert.NotContains(t, buf.String(), "web_timed_out")
}

func TestWriter_IndexResult(t *testing.T) {
	w, buf := newPlain()

	require.NoError(t, w.IndexResult(&ingest.Result{Documents: 3, Chunks: 12, Skipped: 1, Duration: 1500 * time.Millisecond}, FormatText))

	out := buf.String()
	assert.Contains(t, out, "Indexed 3 documents (12 chunks) in 1.5s")
	assert.Contains(t, out, "1 files skipped")
	assert.NotContains(t, out, "unchanged")
}

func TestWriter_Stats(t *testing.T) {
	w, buf := newPlain()
	snap := &telemetry.Snapshot{
		TotalQueries:        4,
		ZeroResultCount:     1,
		ZeroResultQueries:   []string{"unknown beast"},
		LatencyDistribution: map[telemetry.LatencyBucket]int64{telemetry.LatencyBuckets[0]: 3},
		Degraded:            map[telemetry.Degradation]int64{telemetry.DegradedWeb: 2},
		DatabaseChunks:      10,
		WebChunks:           6,
	}

	require.NoError(t, w.Stats(snap, FormatText))

	out := buf.String()
	assert.Contains(t, out, "queries 4")
	assert.Contains(t, out, "zero results 1 (25.0%)")
	assert.Contains(t, out, "10 database, 6 web")
	assert.Contains(t, out, "web_failed 2 (50.0%)")
	assert.Contains(t, out, "unknown beast")
	assert.NotContains(t, out, "database_failed")
}

func TestWriter_Stats_Empty(t *testing.T) {
	w, buf := newPlain()

	require.NoError(t, w.Stats(&telemetry.Snapshot{}, FormatText))

	assert.Contains(t, buf.String(), "No retrievals recorded yet")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b", excerpt(" a\n\tb ", 10))
	assert.Equal(t, "ééé…", excerpt("éééééé", 3))
}
