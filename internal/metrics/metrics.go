// Package metrics is the backend-neutral instrumentation surface of the
// loader. Pipeline code calls the package-level helpers; the process picks a
// concrete backend (Prometheus Pushgateway, Datadog, or none) once at startup.
package metrics

import "sync"

// Metric names emitted by the loader.
const (
	// FilesTotal counts processed source files; labels: category, status.
	FilesTotal = "etl_files_total"
	// RowsTotal counts rows written; label: table.
	RowsTotal = "etl_rows_total"
	// LookupsTotal counts song/artist lookups; label: result (hit|miss|error).
	LookupsTotal = "etl_lookups_total"
	// WriteErrorsTotal counts rejected writes; label: table.
	WriteErrorsTotal = "etl_write_errors_total"
	// SkippedEventsTotal counts playback events dropped before loading; label: reason.
	SkippedEventsTotal = "etl_skipped_events_total"
	// FileDurationSeconds observes per-file wall time; labels: category, status.
	FileDurationSeconds = "etl_file_duration_seconds"
)

// Labels are metric dimensions. Keys are backend-neutral; each backend maps
// them to its own tag format.
type Labels map[string]string

// Backend receives every metric event.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer and submit in batches.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	current = b
}

func backend() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// IncCounter adds delta to the named counter on the current backend.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample on the current backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush submits buffered metrics when the current backend supports it.
func Flush() error {
	if f, ok := backend().(Flusher); ok {
		return f.Flush()
	}
	return nil
}
