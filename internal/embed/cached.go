package embed

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of query vectors kept.
const DefaultEmbeddingCacheSize = 1000

// cacheKey scopes entries to the model, so switching models never serves
// vectors from another embedding space.
type cacheKey struct {
	model string
	text  string
}

// CacheStats counts lookups since the cache was created.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// CachedEmbedder keeps recent vectors in an LRU in front of another
// Embedder. Retrieval repeats queries often; indexing rarely does. Vectors
// are copied on the way out so callers may modify them.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[cacheKey, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner. A non-positive size uses the default.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[cacheKey, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) key(text string) cacheKey {
	return cacheKey{model: c.inner.ModelName(), text: text}
}

func (c *CachedEmbedder) lookup(text string) ([]float32, bool) {
	vec, ok := c.cache.Get(c.key(text))
	if ok {
		c.hits.Add(1)
		return clone(vec), true
	}
	c.misses.Add(1)
	return nil, false
}

// Embed serves text from the cache or asks the inner embedder. Failures
// are never cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(text); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(c.key(text), clone(vec))
	return vec, nil
}

// EmbedBatch sends each distinct uncached text to the inner embedder once,
// in a single call, and returns vectors in input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	pending := make(map[string][]int)
	var missing []string
	for i, text := range texts {
		if positions, queued := pending[text]; queued {
			pending[text] = append(positions, i)
			continue
		}
		if vec, ok := c.lookup(text); ok {
			out[i] = vec
			continue
		}
		pending[text] = []int{i}
		missing = append(missing, text)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, text := range missing {
		c.cache.Add(c.key(text), clone(fresh[j]))
		for n, i := range pending[text] {
			if n == 0 {
				out[i] = fresh[j]
			} else {
				out[i] = clone(fresh[j])
			}
		}
	}
	return out, nil
}

// Stats reports hit and miss counts and the current size.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.cache.Len()}
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close drops every cached vector and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
