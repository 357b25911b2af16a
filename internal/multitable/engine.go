package multitable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sparkify/internal/logging"
	"sparkify/internal/metrics"
	"sparkify/internal/parser/jsonl"
	"sparkify/internal/storage"
)

// Category tells the engine how to decode and load a file.
type Category string

const (
	CategoryCatalog Category = "catalog"
	CategoryEvent   Category = "event"
)

// Status is the outcome of one file.
type Status string

const (
	// StatusOK means every row of the file was written.
	StatusOK Status = "ok"
	// StatusWithErrors means the file was committed but some writes were rejected.
	StatusWithErrors Status = "with_errors"
	// StatusFailed means nothing from the file was committed.
	StatusFailed Status = "failed"
)

// FileResult describes what happened to one file.
type FileResult struct {
	Path     string
	Category Category
	Status   Status
	Records  int
	Rows     map[string]int
	Rejected map[string]int
	Lookups  LookupStats
	Skipped  int
	// Err is the reason the file failed, or the combined write errors of a
	// file committed with errors.
	Err      error
	Duration time.Duration
}

// Reader supplies file content.
type Reader interface {
	Read(path string) ([]byte, error)
}

// Engine runs Decode, Extract, Resolve, Load and Commit for one file inside a
// single transaction.
type Engine struct {
	Repo   storage.Repository
	Source Reader
	Logger *zap.Logger
	// FileTimeout bounds one file. Zero means no deadline.
	FileTimeout time.Duration

	now func() time.Time
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// ProcessFile loads one file.
//
// A file-level problem (unreadable, malformed, rejected commit, per-file
// timeout) is reported in the result with StatusFailed and a nil error. The
// returned error is non-nil only when the run must stop: the backend is
// unreachable or ctx itself was cancelled.
func (e *Engine) ProcessFile(ctx context.Context, cat Category, path string) (FileResult, error) {
	start := e.clock()
	log := logging.OrNop(e.Logger).With(zap.String("file", path), zap.String("category", string(cat)))

	res, fatal := e.processFile(ctx, cat, path, log)
	res.Duration = e.clock().Sub(start)

	if fatal != nil {
		return res, fatal
	}

	labels := metrics.Labels{"category": string(cat), "status": string(res.Status)}
	metrics.IncCounter(metrics.FilesTotal, 1, labels)
	metrics.ObserveHistogram(metrics.FileDurationSeconds, res.Duration.Seconds(), labels)
	if res.Skipped > 0 {
		metrics.IncCounter(metrics.SkippedEventsTotal, float64(res.Skipped), metrics.Labels{"reason": "missing_user_id"})
	}

	switch res.Status {
	case StatusFailed:
		log.Error("file failed", zap.Error(res.Err))
	case StatusWithErrors:
		log.Warn("file committed with write errors", zap.Int("write_errors", len(rejectedErrors(res.Err))), zap.Error(res.Err))
	default:
		log.Debug("file loaded", zap.Int("records", res.Records), zap.Duration("duration", res.Duration))
	}
	return res, nil
}

func (e *Engine) processFile(ctx context.Context, cat Category, path string, log *zap.Logger) (FileResult, error) {
	res := FileResult{Path: path, Category: cat, Status: StatusFailed}

	fileCtx := ctx
	if e.FileTimeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(ctx, e.FileTimeout)
		defer cancel()
	}

	raw, err := e.Source.Read(path)
	if err != nil {
		res.Err = err
		return res, nil
	}

	var (
		catalog CatalogRows
		events  EventRows
	)
	switch cat {
	case CategoryCatalog:
		recs, err := jsonl.DecodeCatalog(fileCtx, bytes.NewReader(raw))
		if err != nil {
			return e.fileFailed(ctx, res, err)
		}
		res.Records = len(recs)
		catalog = ExtractCatalog(recs)
	case CategoryEvent:
		recs, err := jsonl.DecodeEvents(fileCtx, bytes.NewReader(raw))
		if err != nil {
			return e.fileFailed(ctx, res, err)
		}
		res.Records = len(recs)
		events = ExtractEvents(recs)
		res.Skipped = events.Skipped
		if events.Skipped > 0 {
			log.Warn("playback events without user id skipped", zap.Int("skipped", events.Skipped))
		}
	default:
		res.Err = fmt.Errorf("unknown file category %q", cat)
		return res, nil
	}

	tx, err := e.Repo.Begin(fileCtx)
	if err != nil {
		return e.fileFailed(ctx, res, err)
	}

	loader := NewLoader(e.Repo.Statements(), log, path)
	err = e.load(fileCtx, tx, cat, catalog, events, loader, &res)
	res.Rows, res.Rejected = loader.Rows, loader.Rejected
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return e.fileFailed(ctx, res, err)
	}

	if err := tx.Commit(fileCtx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return e.fileFailed(ctx, res, fmt.Errorf("commit: %w", err))
	}

	if werr := loader.Err(); werr != nil {
		res.Status = StatusWithErrors
		res.Err = werr
		return res, nil
	}
	res.Status = StatusOK
	return res, nil
}

func (e *Engine) load(ctx context.Context, tx storage.Tx, cat Category, catalog CatalogRows, events EventRows, loader *Loader, res *FileResult) error {
	if cat == CategoryCatalog {
		return loader.LoadCatalog(ctx, tx, catalog)
	}

	if err := loader.LoadDimensions(ctx, tx, events.Times, events.Users); err != nil {
		return err
	}

	r := &Resolver{Query: e.Repo.Statements().SelectSongArtist, Logger: loader.Logger, File: loader.File}
	facts, stats, err := r.Resolve(ctx, tx, events.Plays)
	res.Lookups = stats
	if facts == nil && err != nil {
		return err
	}
	loader.record(err)

	return loader.LoadFacts(ctx, tx, facts)
}

// fileFailed turns err into a failed file result, unless it means the whole
// run has to stop.
func (e *Engine) fileFailed(ctx context.Context, res FileResult, err error) (FileResult, error) {
	res.Status = StatusFailed
	res.Err = err
	if cerr := ctx.Err(); cerr != nil {
		return res, cerr
	}
	// The per-file deadline expired; only this file is affected.
	if errors.Is(err, context.DeadlineExceeded) {
		return res, nil
	}
	if storage.IsConnectionError(err) {
		return res, err
	}
	return res, nil
}

func rejectedErrors(err error) []*storage.WriteError {
	var out []*storage.WriteError
	for _, e := range multierr.Errors(err) {
		var we *storage.WriteError
		if errors.As(e, &we) {
			out = append(out, we)
		}
	}
	return out
}
