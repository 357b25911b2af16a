// Command etl loads the Sparkify song catalog and activity logs into the
// star-schema warehouse.
//
// Exit codes:
//
//	0  every file loaded
//	1  invalid configuration, unreachable warehouse or other fatal error
//	2  usage error
//	3  the run completed but some files failed; they are listed on stdout
//
// Pass the listed paths back with --files to re-run only those files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sparkify/internal/config"
	"sparkify/internal/logging"
	"sparkify/internal/metrics"
	"sparkify/internal/metrics/datadog"
	"sparkify/internal/metrics/prompush"
	"sparkify/internal/multitable"
	"sparkify/internal/source"
	"sparkify/internal/storage"

	// register all backends with the storage factory.
	_ "sparkify/internal/storage/all"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitUsage       = 2
	exitFilesFailed = 3
)

// runner is the part of *multitable.Runner the CLI depends on.
type runner interface {
	Run(ctx context.Context, plan multitable.Plan) (multitable.Summary, error)
}

// appDeps are the CLI's seams. Tests replace them to avoid real I/O.
type appDeps struct {
	loadConfig  func(opts config.Options) (config.Config, error)
	newLogger   func(opts logging.Options) (*zap.Logger, error)
	initMetrics func(ctx context.Context, cfg config.MetricsConfig, runID string, log *zap.Logger) (func(), error)
	newRunner   func(cfg config.Config, log *zap.Logger, runID string) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   logging.New,
		initMetrics: initMetrics,
		newRunner: func(cfg config.Config, log *zap.Logger, runID string) runner {
			return &multitable.Runner{
				Source:      source.NewOS(cfg.Data.Pattern),
				Logger:      log,
				FileTimeout: cfg.Runtime.FileTimeout,
				NewRunID:    func() string { return runID },
			}
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain is main without process exit, so tests can drive it.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := pflag.NewFlagSet("etl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String(config.FlagConfig, "", "config file (yaml|json); optional")
	validate := fs.Bool("validate", false, "validate the configuration and exit")
	verbose := fs.BoolP("verbose", "v", false, "enable debug logs")
	only := fs.StringSlice("files", nil, "load only these files (comma-separated or repeated), e.g. the failed paths of an earlier run")
	config.RegisterFlags(fs)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: etl [flags]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: etl [flags]; unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return exitUsage
	}

	cfg, err := deps.loadConfig(config.Options{Path: *cfgPath, Flags: fs})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitFatal
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return exitFatal
	}
	if *validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return exitOK
	}

	log, err := deps.newLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return exitFatal
	}
	defer func() { _ = log.Sync() }()

	runID := uuid.NewString()
	runLog := log.With(zap.String("run_id", runID))

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics, runID, runLog)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return exitFatal
	}
	defer cleanup()

	runLog.Info("pipeline starting",
		zap.String("storage", cfg.Storage.Kind),
		zap.String("catalog_root", cfg.Data.CatalogRoot),
		zap.String("event_root", cfg.Data.EventRoot))

	plan := multitable.Plan{
		Storage:     storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN},
		CatalogRoot: cfg.Data.CatalogRoot,
		EventRoot:   cfg.Data.EventRoot,
	}
	for _, p := range *only {
		abs, err := filepath.Abs(strings.TrimSpace(p))
		if err != nil {
			fmt.Fprintf(stderr, "--files %s: %v\n", p, err)
			return exitUsage
		}
		plan.Only = append(plan.Only, abs)
	}

	r := deps.newRunner(cfg, log, runID)
	sum, err := r.Run(ctx, plan)
	printSummary(stdout, sum)

	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return exitFatal
	}
	if !sum.OK() {
		return exitFilesFailed
	}
	return exitOK
}

// printSummary writes the run report with grouped numbers.
func printSummary(w io.Writer, sum multitable.Summary) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "run %s finished in %s\n", sum.RunID, sum.Duration.Truncate(time.Millisecond))
	p.Fprintf(w, "files: %d found, %d processed, %d loaded, %d failed, %d pending\n",
		sum.Found, sum.Processed, sum.Loaded, len(sum.Failed), len(sum.Pending))
	for _, t := range []string{storage.TableSongs, storage.TableArtists, storage.TableTime, storage.TableUsers, storage.TableSongplays} {
		p.Fprintf(w, "rows %-9s %d\n", t+":", sum.Rows[t])
	}
	p.Fprintf(w, "lookups: %d hit, %d miss, %d error\n", sum.Lookups.Hits, sum.Lookups.Misses, sum.Lookups.Errors)
	p.Fprintf(w, "skipped events: %d, write errors: %d\n", sum.Skipped, sum.WriteErrors)
	for _, f := range sum.Failed {
		p.Fprintf(w, "failed %s [%s] %s\n", f.Path, f.Status, f.Reason)
	}
	for _, path := range sum.Pending {
		p.Fprintf(w, "pending %s\n", path)
	}
	if rerun := append(sum.FailedPaths(), sum.Pending...); len(rerun) > 0 {
		fmt.Fprintf(w, "re-run with: --files %s\n", strings.Join(rerun, ","))
	}
}

// metricsBackend is the part of a metrics backend the CLI owns: it has to
// flush or close it on exit.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string, grouping map[string]string) (metricsBackend, error) {
		b, err := prompush.NewBackend(job, url, grouping)
		if err != nil {
			return nil, err
		}
		return pushCloser{b}, nil
	}
	setMetricsBackend = func(b metrics.Backend) { metrics.SetBackend(b) }
)

// pushCloser makes the push backend's final push its Close.
type pushCloser struct{ *prompush.Backend }

func (p pushCloser) Close() error { return p.Flush() }

// initMetrics selects and installs the metrics backend. The returned cleanup
// is never nil and flushes the backend once.
func initMetrics(ctx context.Context, cfg config.MetricsConfig, runID string, log *zap.Logger) (func(), error) {
	log = logging.OrNop(log)
	noop := func() {}

	var (
		b   metricsBackend
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.MetricsNone, "noop":
		log.Debug("metrics disabled")
		return noop, nil
	case config.MetricsPushgateway:
		b, err = newPushBackend(cfg.Job, cfg.PushgatewayURL, map[string]string{"run_id": runID})
	case config.MetricsDatadog, "dd":
		b, err = newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       datadog.ParseTagsCSV(cfg.Tags),
			FlushEvery: cfg.FlushEvery,
		})
	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|pushgateway|datadog)", cfg.Backend)
	}
	if err != nil {
		return noop, fmt.Errorf("%s backend: %w", cfg.Backend, err)
	}

	log.Info("metrics enabled", zap.String("backend", cfg.Backend), zap.String("job", cfg.Job))
	setMetricsBackend(b)
	return func() {
		if err := b.Close(); err != nil {
			log.Warn("metrics: close error", zap.String("backend", cfg.Backend), zap.Error(err))
		}
		setMetricsBackend(nil)
	}, nil
}
