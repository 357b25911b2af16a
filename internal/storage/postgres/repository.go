package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sparkify/internal/storage"
)

func init() {
	storage.Register("postgres", New)
}

/*
Repository implements storage.Repository for Postgres.

Every statement issued through a Tx runs inside its own savepoint (pgx nested
transaction). Postgres aborts the enclosing transaction on the first failed
statement, so without the savepoint a single rejected row would take the rest
of the file down with it.
*/
type Repository struct {
	pool  *pgxpool.Pool
	stmts storage.Statements
}

// New creates a pool for cfg.DSN and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &storage.ConnectionError{Op: "connect", Err: err}
	}
	return &Repository{pool: pool, stmts: statements()}, nil
}

func (r *Repository) Kind() string { return "postgres" }

func (r *Repository) Statements() storage.Statements { return r.stmts }

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// Begin starts a read-write transaction on a pooled connection.
func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, &storage.ConnectionError{Op: "begin", Err: err}
	}
	return &txn{tx: tx}, nil
}

type txn struct {
	tx pgx.Tx
}

func (t *txn) Exec(ctx context.Context, query string, args ...any) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return classify("savepoint", err)
	}
	if _, err := sp.Exec(ctx, query, args...); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return classify("rollback to savepoint", fmt.Errorf("%w (rollback: %v)", err, rbErr))
		}
		return classify("exec", err)
	}
	return classify("release savepoint", sp.Commit(ctx))
}

func (t *txn) QueryOne(ctx context.Context, query string, args []any, dest ...any) (bool, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return false, classify("savepoint", err)
	}
	err = sp.QueryRow(ctx, query, args...).Scan(dest...)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, classify("release savepoint", sp.Commit(ctx))
	case err != nil:
		_ = sp.Rollback(ctx)
		return false, classify("query", err)
	}
	return true, classify("release savepoint", sp.Commit(ctx))
}

func (t *txn) Commit(ctx context.Context) error {
	return classify("commit", t.tx.Commit(ctx))
}

func (t *txn) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return classify("rollback", err)
}

// classify extends storage.ClassifyConn with the pgconn-specific signals for a
// dead connection.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return &storage.ConnectionError{Op: op, Err: err}
	}
	return storage.ClassifyConn(op, err)
}
