package mcp

import (
	"fmt"

	"github.com/Aman-CERP/amanrag/internal/retrieve"
)

// EvidenceOutput is one evidence chunk as returned to clients.
type EvidenceOutput struct {
	ID      string   `json:"id" jsonschema:"stable chunk identifier"`
	Source  string   `json:"source" jsonschema:"database or web"`
	Score   float64  `json:"score" jsonschema:"relevance between 0 and 1"`
	Text    string   `json:"text" jsonschema:"evidence text"`
	Title   string   `json:"title,omitempty"`
	URL     string   `json:"url,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
}

// ToRetrieveOutput converts a fused result, keeping its order.
func ToRetrieveOutput(res *retrieve.FusedResult) RetrieveOutput {
	out := RetrieveOutput{Evidence: make([]EvidenceOutput, 0, len(res.Chunks))}
	for _, c := range res.Chunks {
		out.Evidence = append(out.Evidence, EvidenceOutput{
			ID:      c.ID,
			Source:  string(c.Source),
			Score:   c.Score,
			Text:    c.Text,
			Title:   c.Metadata.Title,
			URL:     c.Metadata.URL,
			Authors: c.Metadata.Authors,
			Year:    c.Metadata.Year,
		})
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", w.Source, w.Message))
	}
	return out
}
