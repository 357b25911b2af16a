package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mssqldb "github.com/microsoft/go-mssqldb"

	"sparkify/internal/storage"
)

func init() {
	storage.Register("mssql", New)
}

// Repository implements storage.Repository for Microsoft SQL Server.
//
// Write semantics:
//   - Insert-if-absent dimensions use INSERT ... SELECT ... WHERE NOT EXISTS.
//   - users is a MERGE so a repeated user_id overwrites the stored attributes.
//   - Every statement runs behind SAVE TRANSACTION so a rejected row can be
//     rolled back on its own without dooming the file's transaction.
type Repository struct {
	db    dbConn
	stmts storage.Statements
}

// New opens cfg.DSN with the "sqlserver" driver and validates connectivity
// via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}

	// One file is loaded at a time; a small pool is plenty.
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, &storage.ConnectionError{Op: "connect", Err: err}
	}
	return &Repository{db: &sqlDB{db: raw}, stmts: statements()}, nil
}

func (r *Repository) Kind() string { return "mssql" }

func (r *Repository) Statements() storage.Statements { return r.stmts }

// Close releases database resources held by this repository.
func (r *Repository) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repository) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &storage.ConnectionError{Op: "begin", Err: err}
	}
	return &txn{tx: tx}, nil
}

const savepointName = "sparkify_stmt"

type txn struct {
	tx txConn
}

func (t *txn) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, "SAVE TRANSACTION "+savepointName); err != nil {
		return classify("savepoint", err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TRANSACTION "+savepointName); rbErr != nil {
			return classify("rollback to savepoint", fmt.Errorf("%w (rollback: %v)", err, rbErr))
		}
		return classify("exec", err)
	}
	return nil
}

func (t *txn) QueryOne(ctx context.Context, query string, args []any, dest ...any) (bool, error) {
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("query", err)
	}
	return true, nil
}

func (t *txn) Commit(ctx context.Context) error {
	return classify("commit", t.tx.Commit())
}

func (t *txn) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return classify("rollback", err)
}

// classify treats SQL Server's own "connection is broken" errors as fatal in
// addition to the generic driver signals.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr mssqldb.Error
	if errors.As(err, &serr) && isConnectionErrorNumber(serr.SQLErrorNumber()) {
		return &storage.ConnectionError{Op: op, Err: err}
	}
	return storage.ClassifyConn(op, err)
}

// isConnectionErrorNumber reports SQL Server error numbers that mean the
// session is gone rather than the statement being rejected.
func isConnectionErrorNumber(n int32) bool {
	switch n {
	case 233, 10053, 10054, 10060, 40613, 40197, 40501:
		return true
	}
	return false
}

// dbConn is a small interface over *sql.DB used for testability.
type dbConn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

// sqlTx wraps *sql.Tx to implement txConn.
type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error { return s.tx.Commit() }

func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
