// Package embed turns text into dense vectors for the vector index.
package embed

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const (
	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding HTTP request.
	DefaultTimeout = 60 * time.Second

	// StaticDimensions is the default dimension for the static embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
//
// Implementations are deterministic for a fixed model: the same text
// always yields the same vector. Empty or whitespace-only input is an
// EmbeddingError, never a zero vector.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result has
	// the same length and order as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// checkInput rejects texts that carry no content.
func checkInput(texts ...string) error {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return amerrors.EmbeddingError("cannot embed empty text", nil).
				WithDetail("index", strconv.Itoa(i))
		}
	}
	return nil
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
