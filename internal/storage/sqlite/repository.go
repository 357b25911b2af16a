package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sparkify/internal/storage"
)

// Repository implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native timestamp type. start_time is written as an
//     RFC3339Nano string in UTC so keys round-trip exactly and sort correctly.
//   - A failed statement does not abort the surrounding transaction, so no
//     savepoints are needed.
//   - The pool is pinned to one connection: SQLite allows a single writer and
//     the loader runs one transaction at a time anyway.
type Repository struct {
	db    *sql.DB
	stmts storage.Statements
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &storage.ConnectionError{Op: "connect", Err: err}
	}
	return &Repository{db: db, stmts: statements()}, nil
}

func (r *Repository) Kind() string { return "sqlite" }

func (r *Repository) Statements() storage.Statements { return r.stmts }

func (r *Repository) Close() { _ = r.db.Close() }

func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &storage.ConnectionError{Op: "begin", Err: err}
	}
	return &txn{tx: tx}, nil
}

type txn struct {
	tx *sql.Tx
}

func (t *txn) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, bindArgs(args)...)
	return storage.ClassifyConn("exec", err)
}

func (t *txn) QueryOne(ctx context.Context, query string, args []any, dest ...any) (bool, error) {
	err := t.tx.QueryRowContext(ctx, query, bindArgs(args)...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.ClassifyConn("query", err)
	}
	return true, nil
}

func (t *txn) Commit(ctx context.Context) error {
	return storage.ClassifyConn("commit", t.tx.Commit())
}

func (t *txn) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return storage.ClassifyConn("rollback", err)
}

// bindArgs converts values SQLite cannot store natively. time.Time becomes
// RFC3339Nano text; everything else passes through.
func bindArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case time.Time:
			out[i] = formatSQLiteTime(v)
		case *time.Time:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = formatSQLiteTime(*v)
			}
		default:
			out[i] = a
		}
	}
	return out
}

// formatSQLiteTime is the canonical text form for timestamps written to SQLite.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// sqliteDateTime is the layout of SQLite's own datetime() and
// strftime('%Y-%m-%d %H:%M:%f') output, always UTC.
const sqliteDateTime = "2006-01-02 15:04:05.999999999"

// ParseTime reads a start_time value back from SQLite. It accepts the
// RFC3339Nano text the loader writes and the space-separated UTC form that
// SQLite's date functions produce for rows written by hand.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.ParseInLocation(sqliteDateTime, s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("sqlite: unrecognized time %q", s)
}
