// Package cache memoizes embeddings in a ristretto cache.
//
// Embedding the same text always yields the same vector, so repeated queries
// and re-indexed passages skip the embedding service. Only successful results
// are cached.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-companion/memory"
)

// Embedder wraps another embedder with a bounded cache.
type Embedder struct {
	next  memory.Embedder
	cache *ristretto.Cache
}

var _ memory.Embedder = (*Embedder)(nil)

// New caches up to maxVectors embeddings from next.
func New(next memory.Embedder, maxVectors int64) (*Embedder, error) {
	if maxVectors <= 0 {
		maxVectors = 10_000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxVectors * 10,
		MaxCost:            maxVectors, // counted in vectors, not bytes
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Embedder{next: next, cache: c}, nil
}

// Embed returns the cached vector for text, or embeds and caches it.
// Callers must not modify the returned slice.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return v.([]float32), nil
	}

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (e *Embedder) Dimensions() int {
	return e.next.Dimensions()
}

// Wait blocks until buffered writes are applied. Mostly useful in tests.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close stops the cache's background goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}
