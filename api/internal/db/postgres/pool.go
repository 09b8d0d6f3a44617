// api/internal/db/postgres/pool.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for sqlx
)

// NewPool opens the pgx connection pool used by the majority of the
// repositories. It pings once so a bad DSN fails fast at boot rather
// than on the first request.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// NewSQLXPool opens a database/sql-backed handle over the same DSN for
// DomainRepository, which relies on sqlx's struct scanning.
func NewSQLXPool(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlx connection: %w", err)
	}
	return db, nil
}
