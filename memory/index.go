package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/becomeliminal/nim-companion/core"
)

// SearchResult is the outcome of a similarity search: either Found with at
// least one snippet, or Empty. Empty is a normal outcome (cold start, no
// match, or a degraded index), never an error.
type SearchResult struct {
	snippets []Snippet
}

// Found returns a result holding snippets. With no snippets it is Empty.
func Found(snippets []Snippet) SearchResult {
	return SearchResult{snippets: snippets}
}

// Empty returns the empty result.
func Empty() SearchResult {
	return SearchResult{}
}

// IsEmpty reports whether the search found nothing.
func (r SearchResult) IsEmpty() bool {
	return len(r.snippets) == 0
}

// Snippets returns the ranked hits, highest similarity first.
func (r SearchResult) Snippets() []Snippet {
	return r.snippets
}

// Texts returns the hit texts in rank order.
func (r SearchResult) Texts() []string {
	texts := make([]string, len(r.snippets))
	for i, s := range r.snippets {
		texts[i] = s.Text
	}
	return texts
}

// VectorIndex embeds text and stores or queries it in a VectorStore.
// Search never fails: any embedding or store error is logged and downgraded
// to an Empty result.
type VectorIndex struct {
	store    VectorStore
	embedder Embedder // Internal: callers only see text
	minScore float32
	logger   *slog.Logger
}

// IndexOption configures a VectorIndex.
type IndexOption func(*VectorIndex)

// WithMinScore drops hits scoring below min.
func WithMinScore(min float32) IndexOption {
	return func(ix *VectorIndex) {
		ix.minScore = min
	}
}

// WithIndexLogger sets the logger used for soft failures.
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(ix *VectorIndex) {
		ix.logger = logger
	}
}

// NewVectorIndex creates a VectorIndex over store and embedder.
func NewVectorIndex(store VectorStore, embedder Embedder, opts ...IndexOption) *VectorIndex {
	ix := &VectorIndex{
		store:    store,
		embedder: embedder,
		minScore: -1,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With("component", "vector_index")
	return ix
}

// Upsert embeds text and stores it in namespace, returning the record ID.
// Errors are classified as core.ErrSoftUnavailable; the caller decides
// whether they matter.
func (ix *VectorIndex) Upsert(ctx context.Context, namespace, text string) (string, error) {
	text = strings.TrimSpace(text)
	if namespace == "" {
		return "", &core.ValidationError{Field: "namespace", Reason: "required"}
	}
	if text == "" {
		return "", &core.ValidationError{Field: "text", Reason: "required"}
	}

	embedding, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed: %w", errors.Join(core.ErrSoftUnavailable, err))
	}

	rec := NewRecord(namespace, text, embedding)
	if err := ix.store.Insert(ctx, rec); err != nil {
		return "", fmt.Errorf("insert: %w", errors.Join(core.ErrSoftUnavailable, err))
	}
	return rec.ID, nil
}

// Search returns up to topK snippets in namespace ranked by similarity to query.
// A namespace with no records returns Empty without calling the embedder.
func (ix *VectorIndex) Search(ctx context.Context, namespace, query string, topK int) SearchResult {
	if namespace == "" || strings.TrimSpace(query) == "" || topK <= 0 {
		return Empty()
	}

	count, err := ix.store.Count(ctx, namespace)
	if err != nil {
		ix.degraded("count", namespace, err)
		return Empty()
	}
	if count == 0 {
		ix.logger.Debug("namespace is empty", "namespace", namespace)
		return Empty()
	}
	if topK > count {
		topK = count
	}

	embedding, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		ix.degraded("embed", namespace, err)
		return Empty()
	}

	hits, err := ix.store.Query(ctx, namespace, embedding, topK)
	if err != nil {
		ix.degraded("query", namespace, err)
		return Empty()
	}

	kept := hits[:0:0]
	for _, h := range hits {
		if h.Score >= ix.minScore {
			kept = append(kept, h)
		}
	}
	ix.logger.Debug("search complete", "namespace", namespace, "hits", len(hits), "kept", len(kept))
	return Found(kept)
}

func (ix *VectorIndex) degraded(op, namespace string, err error) {
	ix.logger.Warn("long-term memory unavailable, continuing without it",
		"op", op,
		"namespace", namespace,
		"error", errors.Join(core.ErrSoftUnavailable, err),
	)
}
