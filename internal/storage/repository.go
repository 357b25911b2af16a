package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a warehouse backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic handle on the star-schema warehouse.
//
// IMPORTANT: This interface is intentionally minimal. The loader only needs a
// transaction per source file and a set of dialect-specific statements; the
// write semantics (insert-if-absent, last-write-wins, append) live in those
// statements, so each backend expresses them in its own idiomatic way
// (Postgres ON CONFLICT, SQLite OR IGNORE, SQL Server MERGE).
type Repository interface {
	// Kind returns the registry key the repository was opened under.
	Kind() string

	// Statements returns the dialect-specific SQL used by the loader.
	Statements() Statements

	// Begin starts the transaction that scopes one source file.
	//
	// Errors:
	//   - A *ConnectionError when the backend cannot be reached.
	Begin(ctx context.Context) (Tx, error)

	// Close releases any backend resources (connections, pools).
	//
	// Callers should treat Close as "call once".
	Close()
}

// Tx is a single unit of work against the warehouse.
//
// Exec and QueryOne must not leave the transaction unusable when one statement
// is rejected: a rejected write is reported to the caller and later statements
// in the same Tx still run. Backends that abort the whole transaction on a
// statement error (Postgres, SQL Server) wrap every statement in a savepoint.
type Tx interface {
	// Exec runs a write statement.
	//
	// Errors:
	//   - *ConnectionError if the backend became unreachable.
	//   - Any other error means the backend rejected this one statement.
	Exec(ctx context.Context, query string, args ...any) error

	// QueryOne runs a query that returns at most one row and scans it into dest.
	// found is false when the query matched nothing; that is not an error.
	QueryOne(ctx context.Context, query string, args []any, dest ...any) (found bool, err error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a warehouse backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. Open takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns; factories report
//     an unreachable backend as *ConnectionError.
func Open(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
