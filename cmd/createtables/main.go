// Command createtables creates the Sparkify star schema in the configured
// warehouse. With --reset it drops the five tables first and recreates them
// empty.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sparkify/internal/config"
	"sparkify/internal/logging"
	"sparkify/internal/schema"
)

type migrator interface {
	Up() error
	Reset() error
	Version() (uint, bool, error)
	Close() error
}

type appDeps struct {
	loadConfig  func(opts config.Options) (config.Config, error)
	newLogger   func(opts logging.Options) (*zap.Logger, error)
	newMigrator func(ctx context.Context, kind, dsn string, log *zap.Logger) (migrator, error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		newMigrator: func(ctx context.Context, kind, dsn string, log *zap.Logger) (migrator, error) {
			return schema.New(ctx, kind, dsn, log)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := pflag.NewFlagSet("createtables", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String(config.FlagConfig, "", "config file (yaml|json); optional")
	reset := fs.Bool("reset", false, "drop every warehouse table before creating them")
	verbose := fs.BoolP("verbose", "v", false, "enable debug logs")
	config.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: createtables [--reset] [flags]; unexpected arguments: %v\n", fs.Args())
		return 2
	}

	cfg, err := deps.loadConfig(config.Options{Path: *cfgPath, Flags: fs})
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Path == "storage.kind" || iss.Path == "storage.dsn" || iss.Path == "log.level" || iss.Path == "log.format" {
			fmt.Fprintln(stderr, iss.String())
			if iss.Severity == config.SeverityError {
				return 1
			}
		}
	}

	log, err := deps.newLogger(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	mg, err := deps.newMigrator(ctx, cfg.Storage.Kind, cfg.Storage.DSN, log)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer func() {
		if err := mg.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
	}()

	action := "create"
	if *reset {
		action = "reset"
		err = mg.Reset()
	} else {
		err = mg.Up()
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s tables: %v\n", action, err)
		return 1
	}

	v, dirty, err := mg.Version()
	if err != nil {
		fmt.Fprintf(stderr, "schema version: %v\n", err)
		return 1
	}
	log.Info("schema ready", zap.String("storage", cfg.Storage.Kind), zap.String("action", action), zap.Uint("version", v), zap.Bool("dirty", dirty))
	fmt.Fprintf(stdout, "%s: schema version %d (%s)\n", cfg.Storage.Kind, v, action)
	return 0
}
