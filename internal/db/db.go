// Package db implements the Postgres repositories the booking core reads
// and writes through: customers, stylists, services, appointments,
// business hours/holidays, policies, and notifications. These
// repositories are written as raw pgx/v5 queries directly against
// *pgxpool.Pool, the same style already established in this module's
// internal/events package.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// execer is the subset of *pgxpool.Pool every repository needs; narrow
// enough that pgxmock satisfies it in tests without depending on the
// concrete pool type.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool opens a connection pool against databaseURL. Callers close it
// on shutdown.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping pool: %w", err)
	}
	return pool, nil
}
