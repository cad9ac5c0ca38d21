package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors surfaced to HTTP as 404/409/410.
var (
	ErrNotFound              = errors.New("not found")
	ErrWorkerAlreadyClosed   = errors.New("worker already closed")
	ErrInstanceAlreadyClosed = errors.New("game server instance already closed")
)

// Pool is the query surface shared by *pgxpool.Pool and pgx.Tx. Repositories
// run against either; tests wrap each case in a rolled-back transaction.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB wraps the connection pool with the repository methods.
type DB struct {
	Pool Pool
}

// Connect opens a pgx connection pool against the configured database URL.
func Connect(databaseURL string) (*DB, func(), error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, pool.Close, nil
}
