package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const defaultCounterTable = "rate_limits"

// DB abstracts the pgx methods PgCounter needs. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgCounter keeps windows in a PostgreSQL table. Window start and expiry
// use the database's now(), so every process shares one clock.
type PgCounter struct {
	db    DB
	table string
}

var _ Counter = (*PgCounter)(nil)

// PgOption configures a PgCounter.
type PgOption func(*PgCounter)

// WithTable overrides the counter table name ("rate_limits").
func WithTable(name string) PgOption {
	return func(c *PgCounter) {
		c.table = pgx.Identifier{name}.Sanitize()
	}
}

// NewPgCounter creates a PgCounter over db.
func NewPgCounter(db DB, opts ...PgOption) *PgCounter {
	c := &PgCounter{db: db, table: defaultCounterTable}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const incrementSQL = `INSERT INTO %s AS rl (identifier, count, expires_at)
VALUES ($1, 1, now() + $2::double precision * interval '1 millisecond')
ON CONFLICT (identifier) DO UPDATE SET
    count = CASE WHEN rl.expires_at <= now() THEN 1 ELSE rl.count + 1 END,
    expires_at = CASE WHEN rl.expires_at <= now() THEN EXCLUDED.expires_at ELSE rl.expires_at END
RETURNING count, (EXTRACT(EPOCH FROM (expires_at - now())) * 1000)::bigint`

// IncrementWithTTL implements Counter with a single upsert, so concurrent
// increments for one identifier serialize on its row.
func (c *PgCounter) IncrementWithTTL(ctx context.Context, id string, ttl time.Duration) (Window, error) {
	var count, resetMillis int64
	err := c.db.QueryRow(ctx, fmt.Sprintf(incrementSQL, c.table), id, float64(ttl.Milliseconds())).
		Scan(&count, &resetMillis)
	if err != nil {
		return Window{}, fmt.Errorf("ratelimit: increment %s: %w", id, err)
	}
	return Window{Count: count, ResetIn: time.Duration(resetMillis) * time.Millisecond}, nil
}

// Prune deletes expired windows and returns how many were removed.
// Expired rows are harmless, since the next increment resets them.
func (c *PgCounter) Prune(ctx context.Context) (int64, error) {
	tag, err := c.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= now()`, c.table))
	if err != nil {
		return 0, fmt.Errorf("ratelimit: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnsureSchema creates the counter table if missing.
func (c *PgCounter) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    identifier TEXT PRIMARY KEY,
    count      BIGINT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
)`, c.table)
	if _, err := c.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("ratelimit: create table: %w", err)
	}
	return nil
}
