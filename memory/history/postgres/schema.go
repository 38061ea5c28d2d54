package postgres

import (
	"context"
	"fmt"
)

const createHistoryTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    seq              BIGSERIAL PRIMARY KEY,
    conversation_key TEXT NOT NULL,
    line             TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createHistoryIndexSQL = `CREATE INDEX IF NOT EXISTS idx_%s_key_seq
    ON %s (conversation_key, seq)`

const createSeedsTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    conversation_key TEXT PRIMARY KEY,
    seeded_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the history and seed-claim tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createHistoryTableSQL, s.historyTable)); err != nil {
		return fmt.Errorf("postgres: create history table: %w", err)
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createHistoryIndexSQL, s.indexName, s.historyTable)); err != nil {
		return fmt.Errorf("postgres: create history index: %w", err)
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createSeedsTableSQL, s.seedsTable)); err != nil {
		return fmt.Errorf("postgres: create seeds table: %w", err)
	}
	return nil
}
