package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"
)

// Embedder is a deterministic embedder for tests and offline runs.
// Identical texts always map to the same unit vector.
type Embedder struct {
	dimensions int
	calls      atomic.Int64

	// Err, when set, is returned by every Embed call.
	Err error
}

// New creates a mock embedder with 384 dimensions (all-MiniLM-L6-v2 size).
func New() *Embedder {
	return NewWithDimensions(384)
}

// NewWithDimensions creates a mock embedder of the given size.
func NewWithDimensions(dimensions int) *Embedder {
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from the text's hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// LCG step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return Normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Calls returns how many times Embed was called.
func (m *Embedder) Calls() int64 {
	return m.calls.Load()
}

// Normalize returns vec scaled to unit length. A zero vector is returned as is.
func Normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
