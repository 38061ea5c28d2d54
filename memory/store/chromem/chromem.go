package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-companion/memory"
)

// Store wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection // Per-namespace collections
	mu          sync.RWMutex
	logger      *slog.Logger
}

var _ memory.VectorStore = (*Store)(nil)

// New creates an in-memory chromem store.
func New() (*Store, error) {
	return newStore(chromem.NewDB()), nil
}

// NewPersistent creates a chromem store persisted under dir.
func NewPersistent(dir string, compress bool) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	s := newStore(db)
	for name, col := range db.ListCollections() {
		s.collections[name] = col
	}
	return s, nil
}

func newStore(db *chromem.DB) *Store {
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		logger:      slog.Default().With("component", "chromem"),
	}
}

// collection returns the collection for a namespace, creating it when create is set.
// Each namespace gets its own collection, so queries never cross namespaces.
func (s *Store) collection(namespace string, create bool) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[namespace]
	s.mu.RUnlock()

	if exists || !create {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[namespace]; exists {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(
		namespace,
		nil, // No collection metadata
		nil, // No embedding func (embeddings are provided)
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[namespace] = col
	return col, nil
}

// Insert saves a record with its embedding.
func (s *Store) Insert(ctx context.Context, rec *memory.Record) error {
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("record %s has no embedding", rec.ID)
	}

	col, err := s.collection(rec.Namespace, true)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"namespace":  rec.Namespace,
			"created_at": rec.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.logger.Debug("stored record", "id", rec.ID, "namespace", rec.Namespace)
	return nil
}

// Query retrieves snippets by vector similarity.
// chromem-go rejects nResults larger than the collection, so limit is clamped.
func (s *Store) Query(ctx context.Context, namespace string, embedding []float32, limit int) ([]memory.Snippet, error) {
	col, err := s.collection(namespace, false)
	if err != nil {
		return nil, err
	}
	if col == nil || limit <= 0 {
		return nil, nil
	}
	if n := col.Count(); limit > n {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	snippets := make([]memory.Snippet, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, memory.Snippet{Text: r.Content, Score: r.Similarity})
	}
	return snippets, nil
}

// Count returns the number of records in namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	col, err := s.collection(namespace, false)
	if err != nil || col == nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close releases resources.
func (s *Store) Close() error {
	// chromem-go writes persistent collections on every add; nothing to flush
	return nil
}
