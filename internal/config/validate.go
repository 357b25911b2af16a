package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one finding reported by Validate.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// StorageKinds lists the warehouse backends the binaries are built with.
var StorageKinds = []string{"mssql", "postgres", "sqlite"}

// Validate checks cfg and returns every issue found, errors and warnings
// alike. An empty slice means the config is usable.
func Validate(cfg Config) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch {
	case cfg.Storage.Kind == "":
		add(SeverityError, "storage.kind", "is required")
	case !slices.Contains(StorageKinds, cfg.Storage.Kind):
		add(SeverityError, "storage.kind", "unknown kind %q (want %s)", cfg.Storage.Kind, strings.Join(StorageKinds, "|"))
	}
	if cfg.Storage.DSN == "" {
		add(SeverityError, "storage.dsn", "is required")
	}

	if cfg.Data.CatalogRoot == "" {
		add(SeverityError, "data.catalog_root", "is required")
	}
	if cfg.Data.EventRoot == "" {
		add(SeverityError, "data.event_root", "is required")
	}
	if cfg.Data.CatalogRoot != "" && filepath.Clean(cfg.Data.CatalogRoot) == filepath.Clean(cfg.Data.EventRoot) {
		add(SeverityWarn, "data.event_root", "same directory as data.catalog_root; every file will be loaded twice")
	}
	if cfg.Data.Pattern == "" {
		add(SeverityError, "data.pattern", "is required")
	} else if _, err := filepath.Match(cfg.Data.Pattern, "x.json"); err != nil {
		add(SeverityError, "data.pattern", "invalid glob %q: %v", cfg.Data.Pattern, err)
	}

	if cfg.Runtime.FileTimeout < 0 {
		add(SeverityError, "runtime.file_timeout", "must not be negative")
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		add(SeverityError, "log.level", "unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "console":
	default:
		add(SeverityError, "log.format", "unknown format %q (want json|console)", cfg.Log.Format)
	}

	switch cfg.Metrics.Backend {
	case MetricsNone, "":
	case MetricsPushgateway:
		if cfg.Metrics.PushgatewayURL == "" {
			add(SeverityError, "metrics.pushgateway_url", "is required for the pushgateway backend")
		} else if u, err := url.Parse(cfg.Metrics.PushgatewayURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(SeverityError, "metrics.pushgateway_url", "not an absolute URL: %q", cfg.Metrics.PushgatewayURL)
		}
		if cfg.Metrics.Job == "" {
			add(SeverityError, "metrics.job", "is required for the pushgateway backend")
		}
	case MetricsDatadog:
		if cfg.Metrics.FlushEvery <= 0 {
			add(SeverityWarn, "metrics.flush_every", "not positive; the backend default is used")
		}
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want none|pushgateway|datadog)", cfg.Metrics.Backend)
	}

	return issues
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
