package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI(t *testing.T) {
	err := RetrievalError("no evidence retrieved",
		IndexQueryError("index missing", nil),
		SearchError("search engine unreachable", nil),
	)

	out := FormatForCLI(err, false)
	assert.Contains(t, out, "Error: no evidence retrieved")
	assert.Contains(t, out, "Hint: ")
	assert.Contains(t, out, "Code: ERR_503_RETRIEVAL_FAILED")
	assert.NotContains(t, out, "Cause:")

	debug := FormatForCLI(err, true)
	assert.Contains(t, debug, "Cause: [ERR_210_INDEX_QUERY_FAILED] index missing")
	assert.Contains(t, debug, "Cause: [ERR_310_SEARCH_FAILED] search engine unreachable")
}

func TestFormatForCLI_PlainError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"), false)
	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
	assert.Empty(t, FormatForCLI(nil, false))
}

func TestFormatJSON(t *testing.T) {
	err := ExtractionError("https://example.com", "status 500", errors.New("server error"))

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ErrCodeExtractionFailed, got["code"])
	assert.Equal(t, "NETWORK", got["category"])
	assert.Equal(t, []any{"server error"}, got["causes"])
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(SearchError("rate limited", nil).WithDetail("engine", "duckduckgo"))
	assert.NotEmpty(t, attrs)
	assert.Len(t, LogAttrs(errors.New("plain")), 1)
	assert.Nil(t, LogAttrs(nil))
}
