package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

const (
	defaultHistoryTable = "conversation_history"
	defaultSeedsTable   = "conversation_seeds"
)

// DB abstracts the pgx methods Store needs. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements memory.HistoryStore on PostgreSQL.
// Safety under concurrency comes from the connection pool and the database;
// there is no application-level lock.
type Store struct {
	db           DB
	historyTable string
	seedsTable   string
	indexName    string
}

var _ memory.HistoryStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTablePrefix prefixes both table names, e.g. "tenant1_".
// Names are sanitized with pgx.Identifier since they are interpolated into SQL.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) {
		s.historyTable = pgx.Identifier{prefix + defaultHistoryTable}.Sanitize()
		s.seedsTable = pgx.Identifier{prefix + defaultSeedsTable}.Sanitize()
		s.indexName = strings.Trim(s.historyTable, `"`)
	}
}

// New creates a Store over db (typically a *pgxpool.Pool).
func New(db DB, opts ...Option) *Store {
	s := &Store{
		db:           db,
		historyTable: defaultHistoryTable,
		seedsTable:   defaultSeedsTable,
		indexName:    defaultHistoryTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append inserts one line at the end of key's log.
func (s *Store) Append(ctx context.Context, key core.ConversationKey, line string) error {
	query := fmt.Sprintf(`INSERT INTO %s (conversation_key, line) VALUES ($1, $2)`, s.historyTable)
	if _, err := s.db.Exec(ctx, query, key.String(), line); err != nil {
		return fmt.Errorf("postgres: append: %w", err)
	}
	return nil
}

// ReadRecent fetches the newest limit rows and re-orders them oldest first.
func (s *Store) ReadRecent(ctx context.Context, key core.ConversationKey, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}

	query := fmt.Sprintf(`SELECT line FROM (
			SELECT seq, line FROM %s WHERE conversation_key = $1 ORDER BY seq DESC LIMIT $2
		) sub ORDER BY sub.seq ASC`, s.historyTable)

	rows, err := s.db.Query(ctx, query, key.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: read recent: %w", err)
	}
	defer rows.Close()

	lines := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("postgres: scan line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate rows: %w", err)
	}
	return lines, nil
}

// IsEmpty reports whether key has no lines.
func (s *Store) IsEmpty(ctx context.Context, key core.ConversationKey) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE conversation_key = $1)`, s.historyTable)

	var exists bool
	if err := s.db.QueryRow(ctx, query, key.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres: is empty: %w", err)
	}
	return !exists, nil
}

// AppendSeed claims key and writes lines in one transaction.
func (s *Store) AppendSeed(ctx context.Context, key core.ConversationKey, lines []string) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres: seed begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	claim := fmt.Sprintf(`INSERT INTO %s (conversation_key) VALUES ($1) ON CONFLICT DO NOTHING`, s.seedsTable)
	tag, err := tx.Exec(ctx, claim, key.String())
	if err != nil {
		return false, fmt.Errorf("postgres: claim seed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	insert := fmt.Sprintf(`INSERT INTO %s (conversation_key, line) VALUES ($1, $2)`, s.historyTable)
	for i, line := range lines {
		if _, err := tx.Exec(ctx, insert, key.String(), line); err != nil {
			return false, fmt.Errorf("postgres: seed line %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres: seed commit tx: %w", err)
	}
	return true, nil
}
