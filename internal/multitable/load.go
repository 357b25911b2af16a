package multitable

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sparkify/internal/logging"
	"sparkify/internal/metrics"
	"sparkify/internal/storage"
	"sparkify/internal/warehouse"
)

// Loader writes extracted rows through a backend's statements.
//
// Every write is best effort: a rejected statement becomes a
// *storage.WriteError and the loader moves on to the next row. Only a lost
// connection or a cancelled context stops it.
type Loader struct {
	Stmts  storage.Statements
	Logger *zap.Logger
	// File is only used to annotate logs.
	File string

	// Rows counts accepted statements per table.
	Rows map[string]int
	// Rejected counts rejected statements per table.
	Rejected map[string]int

	errs error
}

// NewLoader returns a Loader for one file.
func NewLoader(stmts storage.Statements, log *zap.Logger, file string) *Loader {
	return &Loader{
		Stmts:    stmts,
		Logger:   logging.OrNop(log),
		File:     file,
		Rows:     make(map[string]int),
		Rejected: make(map[string]int),
	}
}

// Err returns every write error seen so far, combined with multierr.
func (l *Loader) Err() error { return l.errs }

// WriteErrors returns the individual write errors.
func (l *Loader) WriteErrors() []error { return multierr.Errors(l.errs) }

// LoadCatalog writes songs, then artists.
func (l *Loader) LoadCatalog(ctx context.Context, tx storage.Tx, rows CatalogRows) error {
	for _, s := range rows.Songs {
		if err := l.exec(ctx, tx, storage.TableSongs, "InsertSong", l.Stmts.InsertSong, s.SongID,
			s.SongID, s.Title, s.ArtistID, s.Year, s.Duration); err != nil {
			return err
		}
	}
	for _, a := range rows.Artists {
		if err := l.exec(ctx, tx, storage.TableArtists, "InsertArtist", l.Stmts.InsertArtist, a.ArtistID,
			a.ArtistID, a.Name, a.Location, a.Latitude, a.Longitude); err != nil {
			return err
		}
	}
	return nil
}

// LoadDimensions writes the time rows, then the users of an event file.
// Facts referencing them must be written afterwards with LoadFacts.
func (l *Loader) LoadDimensions(ctx context.Context, tx storage.Tx, times []warehouse.TimeRow, users []warehouse.User) error {
	for _, t := range times {
		if err := l.exec(ctx, tx, storage.TableTime, "InsertTime", l.Stmts.InsertTime, t.StartTime.Format(time.RFC3339Nano),
			t.StartTime, t.Hour, t.Day, t.Week, t.Month, t.Year, t.Weekday); err != nil {
			return err
		}
	}
	for _, u := range users {
		if err := l.exec(ctx, tx, storage.TableUsers, "UpsertUser", l.Stmts.UpsertUser, strconv.FormatInt(u.UserID, 10),
			u.UserID, u.FirstName, u.LastName, u.Gender, string(u.Level)); err != nil {
			return err
		}
	}
	return nil
}

// LoadFacts appends songplays.
func (l *Loader) LoadFacts(ctx context.Context, tx storage.Tx, facts []warehouse.Songplay) error {
	for _, f := range facts {
		key := fmt.Sprintf("user=%d session=%d ts=%s", f.UserID, f.SessionID, f.StartTime.Format(time.RFC3339Nano))
		if err := l.exec(ctx, tx, storage.TableSongplays, "InsertSongplay", l.Stmts.InsertSongplay, key,
			f.StartTime, f.UserID, string(f.Level), f.SongID, f.ArtistID, f.SessionID, f.Location, f.UserAgent); err != nil {
			return err
		}
	}
	return nil
}

// exec runs one statement. It returns an error only when the file cannot go
// on: a cancelled context or a *storage.ConnectionError.
func (l *Loader) exec(ctx context.Context, tx storage.Tx, table, name, query, key string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := tx.Exec(ctx, query, args...)
	if err == nil {
		l.Rows[table]++
		metrics.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"table": table})
		return nil
	}
	if storage.IsConnectionError(err) {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}

	l.Rejected[table]++
	metrics.IncCounter(metrics.WriteErrorsTotal, 1, metrics.Labels{"table": table})
	we := &storage.WriteError{Table: table, Statement: name, Key: key, Err: err}
	l.Logger.Warn("write rejected",
		zap.String("file", l.File),
		zap.String("table", table),
		zap.String("statement", name),
		zap.String("key", key),
		zap.Error(err))
	l.errs = multierr.Append(l.errs, we)
	return nil
}

// record adds errors produced outside the loader (failed lookups) to the
// file's write errors.
func (l *Loader) record(err error) {
	for _, e := range multierr.Errors(err) {
		l.errs = multierr.Append(l.errs, e)
	}
}
