// Package pgvector stores long-term memory records in PostgreSQL with the
// pgvector extension, ranked by cosine similarity.
package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/becomeliminal/nim-companion/memory"
)

const defaultTableName = "memory_records"

// Querier abstracts the pgx query methods Store needs.
// Both *pgxpool.Pool and pgx.Tx satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements memory.VectorStore on pgvector.
type Store struct {
	db         Querier
	tableName  string
	dimensions int
}

var _ memory.VectorStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTableName overrides the default table name ("memory_records").
func WithTableName(name string) Option {
	return func(s *Store) {
		s.tableName = pgx.Identifier{name}.Sanitize()
	}
}

// New creates a Store for vectors of the given size.
func New(db Querier, dimensions int, opts ...Option) *Store {
	s := &Store{
		db:         db,
		tableName:  defaultTableName,
		dimensions: dimensions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the extension, table and indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id         UUID PRIMARY KEY,
    namespace  TEXT NOT NULL,
    content    TEXT NOT NULL,
    embedding  vector(%d) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.tableName, s.dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (namespace)`,
			pgx.Identifier{"idx_" + unquote(s.tableName) + "_namespace"}.Sanitize(), s.tableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{"idx_" + unquote(s.tableName) + "_embedding"}.Sanitize(), s.tableName),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: ensure schema: %w", err)
		}
	}
	return nil
}

// Insert saves a record.
func (s *Store) Insert(ctx context.Context, rec *memory.Record) error {
	if len(rec.Embedding) != s.dimensions {
		return fmt.Errorf("pgvector: embedding has %d dimensions, table expects %d", len(rec.Embedding), s.dimensions)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, namespace, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)`, s.tableName)
	_, err := s.db.Exec(ctx, query, rec.ID, rec.Namespace, rec.Text, pgvector.NewVector(rec.Embedding), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgvector: insert: %w", err)
	}
	return nil
}

// Query returns the nearest records in namespace by cosine distance.
// Score is cosine similarity (1 - distance).
func (s *Store) Query(ctx context.Context, namespace string, embedding []float32, limit int) ([]memory.Snippet, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT content, 1 - (embedding <=> $2) AS score
		FROM %s WHERE namespace = $1
		ORDER BY embedding <=> $2 LIMIT $3`, s.tableName)

	rows, err := s.db.Query(ctx, query, namespace, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: query: %w", err)
	}
	defer rows.Close()

	var snippets []memory.Snippet
	for rows.Next() {
		var text string
		var score float64
		if err := rows.Scan(&text, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan row: %w", err)
		}
		snippets = append(snippets, memory.Snippet{Text: text, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: iterate rows: %w", err)
	}
	return snippets, nil
}

// Count returns the number of records in namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE namespace = $1`, s.tableName)

	var n int
	if err := s.db.QueryRow(ctx, query, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return n, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func unquote(name string) string {
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		return name[1 : len(name)-1]
	}
	return name
}
