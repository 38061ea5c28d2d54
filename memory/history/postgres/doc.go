// Package postgres provides a PostgreSQL-backed [memory.HistoryStore] shared
// by every server process, using pgx/v5.
//
// Lines are ordered by a BIGSERIAL seq column, which avoids timestamp ties
// between rapid appends. Seeding is claimed with a unique row in a separate
// table inside the same transaction that writes the seed lines; a concurrent
// claimer blocks on that row until the winner commits and then backs off, so
// its own user turn always lands after the seed.
//
// Use [Store.EnsureSchema] during development; production deployments should
// manage the schema with migration tooling.
package postgres
