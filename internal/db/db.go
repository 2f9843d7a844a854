package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound is returned when a targeted update matches no record.
var ErrRecordNotFound = errors.New("record not found")

// DB keeps dataset documents in a Postgres table of (id TEXT PRIMARY KEY, doc JSONB).
type DB struct {
	Pool  *pgxpool.Pool
	table string
}

// New opens the pool and checks the server is reachable.
func New(ctx context.Context, dsn, table string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool, table: quoteTable(table)}, nil
}

// Close releases the pool.
func (d *DB) Close() {
	d.Pool.Close()
}

// quoteTable accepts "table" or "schema.table".
func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}
