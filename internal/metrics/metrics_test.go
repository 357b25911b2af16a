package metrics

import (
	"errors"
	"testing"
)

type recordingBackend struct {
	counters   map[string]float64
	histograms map[string][]float64
	flushes    int
	flushErr   error
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{counters: map[string]float64{}, histograms: map[string][]float64{}}
}

func (r *recordingBackend) IncCounter(name string, delta float64, labels Labels) {
	r.counters[name+"/"+labels["table"]] += delta
}

func (r *recordingBackend) ObserveHistogram(name string, value float64, labels Labels) {
	r.histograms[name] = append(r.histograms[name], value)
}

func (r *recordingBackend) Flush() error {
	r.flushes++
	return r.flushErr
}

// These tests swap the process-wide backend, so they do not run in parallel.

func TestPackageHelpers_DelegateToCurrentBackend(t *testing.T) {
	rb := newRecordingBackend()
	SetBackend(rb)
	t.Cleanup(func() { SetBackend(nil) })

	IncCounter(RowsTotal, 2, Labels{"table": "songs"})
	IncCounter(RowsTotal, 1, Labels{"table": "songs"})
	ObserveHistogram(FileDurationSeconds, 0.25, Labels{"category": "event", "status": "ok"})

	if got := rb.counters[RowsTotal+"/songs"]; got != 3 {
		t.Fatalf("got=%v want=3", got)
	}
	if got := rb.histograms[FileDurationSeconds]; len(got) != 1 || got[0] != 0.25 {
		t.Fatalf("unexpected histogram samples: %v", got)
	}

	rb.flushErr = errors.New("boom")
	if err := Flush(); err == nil || rb.flushes != 1 {
		t.Fatalf("Flush must reach the backend: err=%v flushes=%d", err, rb.flushes)
	}
}

func TestSetBackendNil_RestoresNop(t *testing.T) {
	SetBackend(nil)

	// Must not panic and must not try to flush anything.
	IncCounter(FilesTotal, 1, nil)
	ObserveHistogram(FileDurationSeconds, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("nop flush: %v", err)
	}
}
