// Package postgres provides a Postgres-backed queue using row leases.
// Claims use FOR UPDATE SKIP LOCKED so concurrent workers never receive
// the same row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagehive/hopper/internal/queueset"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool behind a queue.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Queue implements the backend contract over a requests table. Several
// queues may share one table; rows carry the queue name.
type Queue struct {
	name  string
	pool  pool
	table string
}

// New connects a pool and returns a queue bound to it.
func New(ctx context.Context, name string, cfg Config) (*Queue, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(name, p, cfg.Table)
}

// NewWithPool constructs a queue from an existing pool (primarily for
// testing).
func NewWithPool(name string, p pool, table string) (*Queue, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_requests"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Queue{name: name, pool: p, table: table}, nil
}

// Name returns the queue's name.
func (q *Queue) Name() string {
	return q.name
}

// Close releases the underlying pool resources.
func (q *Queue) Close() {
	if q == nil || q.pool == nil {
		return
	}
	q.pool.Close()
}

// Pop leases the oldest ready row for this queue, or returns (nil, nil)
// when none is ready.
func (q *Queue) Pop(ctx context.Context) (*queueset.Request, error) {
	query := fmt.Sprintf(`
UPDATE %s SET state = 'leased', leased_at = now()
WHERE id = (
	SELECT id FROM %s
	WHERE queue = $1 AND state = 'ready'
	ORDER BY created_at
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, request_type, url, attempt`, q.table, q.table)

	req := &queueset.Request{}
	err := q.pool.QueryRow(ctx, query, q.name).Scan(&req.ID, &req.Type, &req.URL, &req.Attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease request: %w", err)
	}
	return req, nil
}

// Push inserts the request as a ready row.
func (q *Queue) Push(ctx context.Context, req *queueset.Request) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, queue, request_type, url, attempt, state, created_at)
VALUES ($1, $2, $3, $4, $5, 'ready', now())`, q.table)

	if _, err := q.pool.Exec(ctx, query, req.ID, q.name, req.Type, req.URL, req.Attempt); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Done deletes the leased row.
func (q *Queue) Done(ctx context.Context, req *queueset.Request) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, q.table)
	if _, err := q.pool.Exec(ctx, query, req.ID); err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return nil
}

// Abandon releases the lease so the row becomes deliverable again.
func (q *Queue) Abandon(ctx context.Context, req *queueset.Request) error {
	query := fmt.Sprintf(`
UPDATE %s SET state = 'ready', leased_at = NULL WHERE id = $1`, q.table)
	if _, err := q.pool.Exec(ctx, query, req.ID); err != nil {
		return fmt.Errorf("release request: %w", err)
	}
	return nil
}

// Subscribe verifies the pool is usable.
func (q *Queue) Subscribe(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Unsubscribe is a no-op; Close tears down the pool at shutdown.
func (q *Queue) Unsubscribe(context.Context) error {
	return nil
}
