package characters

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/becomeliminal/nim-companion/core"
)

// Querier is the pgx method Postgres needs. *pgxpool.Pool satisfies it.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres reads characters from the application's "characters" table
// (id, name, instructions, seed).
type Postgres struct {
	db    Querier
	table string
}

// NewPostgres creates a Postgres source. An empty table means "characters".
func NewPostgres(db Querier, table string) *Postgres {
	if table == "" {
		table = "characters"
	} else {
		table = pgx.Identifier{table}.Sanitize()
	}
	return &Postgres{db: db, table: table}
}

// Character returns the character with id.
func (p *Postgres) Character(ctx context.Context, id string) (*core.Character, error) {
	query := fmt.Sprintf(`SELECT id, name, instructions, seed FROM %s WHERE id = $1`, p.table)

	var c core.Character
	err := p.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Instructions, &c.Seed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("character %q: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, core.External("characters", "get", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("character %q: %w", id, err)
	}
	return &c, nil
}
