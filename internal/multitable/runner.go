package multitable

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"sparkify/internal/logging"
	"sparkify/internal/storage"
)

// Source lists and reads the files of a run.
type Source interface {
	Reader
	List(root string) ([]string, error)
}

// Plan is the input of one run.
type Plan struct {
	Storage     storage.Config
	CatalogRoot string
	EventRoot   string
	// Only restricts the run to these files, typically the failed paths of an
	// earlier run. Every path must be listed under one of the roots.
	Only []string
}

// FailedFile is a file that should be part of a re-run.
type FailedFile struct {
	Path     string
	Category Category
	Status   Status
	Reason   string
}

// Summary is the outcome of a run.
type Summary struct {
	RunID string
	// Found is the number of files discovered under both roots.
	Found int
	// Processed counts files handled to a final status, failed ones included.
	Processed int
	// Loaded counts files whose transaction was committed.
	Loaded int
	Failed []FailedFile
	// Pending lists files never attempted because the run stopped early.
	Pending []string

	Rows        map[string]int
	WriteErrors int
	Lookups     LookupStats
	Skipped     int
	Duration    time.Duration
}

// FailedPaths returns the paths of every failed file in processing order.
func (s Summary) FailedPaths() []string {
	return lo.Map(s.Failed, func(f FailedFile, _ int) string { return f.Path })
}

// OK reports whether every file was loaded without errors.
func (s Summary) OK() bool { return len(s.Failed) == 0 && len(s.Pending) == 0 }

func (s *Summary) add(res FileResult) {
	s.Processed++
	if res.Status != StatusFailed {
		s.Loaded++
	}
	if res.Status != StatusOK {
		reason := ""
		if res.Err != nil {
			reason = res.Err.Error()
		}
		s.Failed = append(s.Failed, FailedFile{Path: res.Path, Category: res.Category, Status: res.Status, Reason: reason})
	}
	for t, n := range res.Rows {
		s.Rows[t] += n
	}
	for _, n := range res.Rejected {
		s.WriteErrors += n
	}
	s.WriteErrors += res.Lookups.Errors
	s.Lookups.add(res.Lookups)
	s.Skipped += res.Skipped
}

// Runner discovers the files of a run and feeds them through an Engine,
// catalog files first so event lookups can see the whole catalog.
type Runner struct {
	Source Source
	Logger *zap.Logger
	// FileTimeout bounds each file. Zero disables the deadline.
	FileTimeout time.Duration

	// OpenRepository is a seam for tests; nil means storage.Open.
	OpenRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	// NewRunID is a seam for tests; nil means a random UUID.
	NewRunID func() string
}

type plannedFile struct {
	path string
	cat  Category
}

// Run lists both roots, opens the warehouse and loads every file, or only the
// files named in plan.Only.
//
// Errors:
//   - Listing a root fails, or the warehouse cannot be opened.
//   - A path in plan.Only is not a source file under either root.
//   - A *storage.ConnectionError or cancellation stops the run; the summary
//     returned alongside it is still valid and lists pending files.
//
// Files that fail on their own are reported in Summary.Failed, not as an error.
func (r *Runner) Run(ctx context.Context, plan Plan) (Summary, error) {
	sum := r.newSummary()
	log := logging.OrNop(r.Logger).With(zap.String("run_id", sum.RunID))
	start := time.Now()

	var files []plannedFile
	for _, root := range []struct {
		dir string
		cat Category
	}{{plan.CatalogRoot, CategoryCatalog}, {plan.EventRoot, CategoryEvent}} {
		paths, err := r.Source.List(root.dir)
		if err != nil {
			return sum, fmt.Errorf("list %s files: %w", root.cat, err)
		}
		log.Info(fmt.Sprintf("%d files found in %s", len(paths), root.dir),
			zap.String("category", string(root.cat)), zap.Int("total", len(paths)))
		for _, p := range paths {
			files = append(files, plannedFile{path: p, cat: root.cat})
		}
	}
	if len(plan.Only) > 0 {
		selected, err := selectFiles(files, plan.Only)
		if err != nil {
			return sum, err
		}
		log.Info(fmt.Sprintf("re-running %d of %d files", len(selected), len(files)), zap.Int("total", len(selected)))
		files = selected
	}
	sum.Found = len(files)

	open := r.OpenRepository
	if open == nil {
		open = storage.Open
	}
	repo, err := open(ctx, plan.Storage)
	if err != nil {
		sum.Pending = pendingPaths(files)
		return sum, fmt.Errorf("open warehouse: %w", err)
	}
	defer repo.Close()

	if err := repo.Statements().Validate(); err != nil {
		sum.Pending = pendingPaths(files)
		return sum, err
	}

	err = r.process(ctx, repo, files, &sum, log)
	sum.Duration = time.Since(start)
	return sum, err
}

// selectFiles keeps the listed files named in only, in listing order, so
// catalog files still load before event files.
func selectFiles(files []plannedFile, only []string) ([]plannedFile, error) {
	want := make(map[string]bool, len(only))
	for _, p := range only {
		want[filepath.Clean(p)] = false
	}

	out := lo.Filter(files, func(f plannedFile, _ int) bool {
		if _, ok := want[f.path]; !ok {
			return false
		}
		want[f.path] = true
		return true
	})

	var unknown []string
	for p, seen := range want {
		if !seen {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("not a source file under the catalog or event root: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

func (r *Runner) process(ctx context.Context, repo storage.Repository, files []plannedFile, sum *Summary, log *zap.Logger) error {
	eng := &Engine{Repo: repo, Source: r.Source, Logger: log, FileTimeout: r.FileTimeout}
	total := len(files)

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			sum.Pending = pendingPaths(files[i:])
			return err
		}

		res, err := eng.ProcessFile(ctx, f.cat, f.path)
		if err != nil {
			sum.Pending = pendingPaths(files[i:])
			log.Error("run aborted", zap.String("file", f.path), zap.Int("processed", i), zap.Int("total", total), zap.Error(err))
			return fmt.Errorf("%s: %w", f.path, err)
		}
		sum.add(res)

		log.Info(fmt.Sprintf("%d/%d files processed", i+1, total),
			zap.Int("processed", i+1), zap.Int("total", total), zap.String("status", string(res.Status)))
	}

	if len(sum.Failed) > 0 {
		log.Warn("run finished with failed files", zap.Strings("failed", sum.FailedPaths()))
	} else {
		log.Info("run finished", zap.Int("files", sum.Processed))
	}
	return nil
}

func (r *Runner) newSummary() Summary {
	id := ""
	if r.NewRunID != nil {
		id = r.NewRunID()
	} else {
		id = uuid.NewString()
	}
	return Summary{RunID: id, Rows: make(map[string]int)}
}

func pendingPaths(files []plannedFile) []string {
	return lo.Map(files, func(f plannedFile, _ int) string { return f.path })
}
