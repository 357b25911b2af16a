// Package schema owns the star-schema DDL for every supported warehouse
// dialect and applies it with golang-migrate.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/database/sqlserver"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// dialect ties a storage kind to its database/sql driver and migration directory.
type dialect struct {
	driverName string
	dir        string
	open       func(db *sql.DB) (database.Driver, error)
}

var dialects = map[string]dialect{
	"postgres": {
		driverName: "postgres",
		dir:        "migrations/postgres",
		open: func(db *sql.DB) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{})
		},
	},
	"sqlite": {
		driverName: "sqlite",
		dir:        "migrations/sqlite",
		open: func(db *sql.DB) (database.Driver, error) {
			return sqlite.WithInstance(db, &sqlite.Config{})
		},
	},
	"mssql": {
		driverName: "sqlserver",
		dir:        "migrations/sqlserver",
		open: func(db *sql.DB) (database.Driver, error) {
			return sqlserver.WithInstance(db, &sqlserver.Config{})
		},
	},
}

// Source returns the migration files for kind.
func Source(kind string) (fs.FS, error) {
	d, ok := dialects[kind]
	if !ok {
		return nil, fmt.Errorf("schema: no migrations for storage kind %q", kind)
	}
	return fs.Sub(migrations, d.dir)
}

// Migrator applies and reverts the warehouse schema.
type Migrator struct {
	m *migrate.Migrate
}

// New opens dsn with the driver for kind and prepares a migrator over the
// embedded migrations. Close releases the connection.
func New(ctx context.Context, kind, dsn string, log *zap.Logger) (*Migrator, error) {
	d, ok := dialects[kind]
	if !ok {
		return nil, fmt.Errorf("schema: no migrations for storage kind %q", kind)
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open(d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("schema: open %s: %w", kind, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: ping %s: %w", kind, err)
	}

	drv, err := d.open(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: create %s migration driver: %w", kind, err)
	}

	sub, err := fs.Sub(migrations, d.dir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, kind, drv)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: create migrator: %w", err)
	}
	m.Log = &migrateLogger{log: log.Named("migrate")}

	return &Migrator{m: m}, nil
}

// Up creates every warehouse table that does not exist yet. Running it against
// an up-to-date schema is a no-op.
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schema: migrate up: %w", err)
	}
	return nil
}

// Reset drops every warehouse table and recreates them empty.
func (mg *Migrator) Reset() error {
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("schema: migrate down: %w", err)
	}
	return mg.Up()
}

// Version reports the applied schema version; 0 when nothing is applied.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// migrateLogger routes golang-migrate progress lines into zap.
type migrateLogger struct {
	log *zap.Logger
}

var _ migrate.Logger = (*migrateLogger)(nil)

func (l *migrateLogger) Printf(format string, v ...any) {
	l.log.Sugar().Debugf(format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }
