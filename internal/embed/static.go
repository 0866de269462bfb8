package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by feature hashing words and
// character trigrams. It needs no network or model download, which makes
// it the offline default and the embedder used throughout the tests.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// englishStopWords carry no topical signal in prose.
var englishStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "in": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "this": true, "to": true, "was": true,
	"were": true, "will": true, "with": true,
}

const (
	wordWeight  = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder with the given dimension.
// A non-positive dimension selects StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

func (e *StaticEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkInput(text); err != nil {
		return nil, err
	}
	return normalizeVector(e.vectorize(text)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkInput(texts...); err != nil {
		return nil, err
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = normalizeVector(e.vectorize(text))
	}
	return results, nil
}

func (e *StaticEmbedder) vectorize(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, word := range words(text) {
		if englishStopWords[word] {
			continue
		}
		vector[hashToIndex(word, e.dims)] += wordWeight
	}

	for _, gram := range trigrams(lettersOnly(text)) {
		vector[hashToIndex(gram, e.dims)] += ngramWeight
	}

	return vector
}

// words splits text on anything that is not a letter or digit and lowercases.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func lettersOnly(text string) []rune {
	var out []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

// trigrams extracts rune windows so non-ASCII text hashes whole characters.
func trigrams(runes []rune) []string {
	if len(runes) < ngramSize {
		return nil
	}
	grams := make([]string, 0, len(runes)-ngramSize+1)
	for i := 0; i+ngramSize <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+ngramSize]))
	}
	return grams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

// Available reports whether the embedder is still open.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	return e.checkOpen() == nil
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
