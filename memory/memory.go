package memory

import (
	"context"

	"github.com/becomeliminal/nim-companion/core"
)

// HistoryStore is the ordered log backend for short-term history.
// Implementations: postgres.Store (cluster-wide), bolt.Store (single node).
//
// Lines for one key are returned in write order. An Append that returned nil
// is visible to every later ReadRecent on the same key.
type HistoryStore interface {
	// Append adds one line to the end of the key's log.
	Append(ctx context.Context, key core.ConversationKey, line string) error

	// ReadRecent returns at most limit lines, oldest first.
	// When fewer exist, all of them are returned.
	ReadRecent(ctx context.Context, key core.ConversationKey, limit int) ([]string, error)

	// IsEmpty reports whether the key has no lines.
	IsEmpty(ctx context.Context, key core.ConversationKey) (bool, error)

	// AppendSeed atomically claims seeding for key and appends lines in order.
	// It returns false without writing when the key was already claimed.
	// A concurrent Append issued after a losing claim returns must land after
	// the winner's seed lines.
	AppendSeed(ctx context.Context, key core.ConversationKey, lines []string) (bool, error)
}

// VectorStore is the similarity backend for long-term memory.
// Implementations: chromem.Store (local), pgvector.Store (production).
type VectorStore interface {
	// Insert saves a record. Record.Embedding must be set.
	Insert(ctx context.Context, rec *Record) error

	// Query returns up to limit snippets from namespace, highest similarity first.
	Query(ctx context.Context, namespace string, embedding []float32, limit int) ([]Snippet, error)

	// Count returns the number of records stored in namespace.
	Count(ctx context.Context, namespace string) (int, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: openai.Embedder, onnx.Embedder, mock.Embedder, and the
// cache.Embedder decorator.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// Snippet is one ranked search hit.
type Snippet struct {
	Text  string
	Score float32
}
