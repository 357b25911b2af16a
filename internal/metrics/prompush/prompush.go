// Package prompush implements a metrics backend that keeps Prometheus
// collectors in a private registry and pushes them to a Pushgateway on Flush.
//
// A batch load is a short-lived job with nothing for Prometheus to scrape, so
// the push model is the natural fit.
package prompush

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"sparkify/internal/metrics"
)

var counterLabels = map[string][]string{
	metrics.FilesTotal:         {"category", "status"},
	metrics.RowsTotal:          {"table"},
	metrics.LookupsTotal:       {"result"},
	metrics.WriteErrorsTotal:   {"table"},
	metrics.SkippedEventsTotal: {"reason"},
}

var counterHelp = map[string]string{
	metrics.FilesTotal:         "Source files processed, by category and outcome.",
	metrics.RowsTotal:          "Rows written to the warehouse, by table.",
	metrics.LookupsTotal:       "Song/artist lookups for playback events, by result.",
	metrics.WriteErrorsTotal:   "Writes rejected by the warehouse, by table.",
	metrics.SkippedEventsTotal: "Playback events dropped before loading, by reason.",
}

// Backend implements metrics.Backend on top of a Prometheus registry.
type Backend struct {
	registry   *prometheus.Registry
	pusher     *push.Pusher
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

// NewBackend registers the loader's collectors and prepares a pusher for
// gatewayURL under job.
//
// Errors:
//   - job or gatewayURL empty.
func NewBackend(job, gatewayURL string, grouping ...map[string]string) (*Backend, error) {
	job = strings.TrimSpace(job)
	gatewayURL = strings.TrimSpace(gatewayURL)
	if job == "" {
		return nil, errors.New("prompush: job is required")
	}
	if gatewayURL == "" {
		return nil, errors.New("prompush: pushgateway url is required")
	}

	b := &Backend{
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
	}

	for name, labels := range counterLabels {
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: counterHelp[name]}, labels)
		if err := b.registry.Register(vec); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
		b.counters[name] = vec
		b.labelNames[name] = labels
	}

	durLabels := []string{"category", "status"}
	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metrics.FileDurationSeconds,
		Help:    "Wall time to load one source file.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, durLabels)
	if err := b.registry.Register(dur); err != nil {
		return nil, fmt.Errorf("prompush: register %s: %w", metrics.FileDurationSeconds, err)
	}
	b.histograms[metrics.FileDurationSeconds] = dur
	b.labelNames[metrics.FileDurationSeconds] = durLabels

	p := push.New(gatewayURL, job).Gatherer(b.registry)
	for _, g := range grouping {
		for k, v := range g {
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if k == "" || v == "" {
				continue
			}
			p = p.Grouping(k, v)
		}
	}
	b.pusher = p

	return b, nil
}

func (b *Backend) values(name string, labels metrics.Labels) []string {
	names := b.labelNames[name]
	out := make([]string, len(names))
	for i, n := range names {
		v := strings.TrimSpace(labels[n])
		if v == "" {
			v = "unknown"
		}
		out[i] = v
	}
	return out
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	vec, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	vec.WithLabelValues(b.values(name, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	vec, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	vec.WithLabelValues(b.values(name, labels)...).Observe(value)
}

// Flush pushes the current state of every collector, replacing the job's
// previous group on the gateway.
func (b *Backend) Flush() error {
	return b.FlushContext(context.Background())
}

func (b *Backend) FlushContext(ctx context.Context) error {
	if err := b.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Gatherer exposes the registry, mainly for tests and local inspection.
func (b *Backend) Gatherer() prometheus.Gatherer { return b.registry }

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
