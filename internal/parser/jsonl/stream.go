// Package jsonl decodes JSON-lines source files (one JSON object per line)
// into typed catalog and activity-log records.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"sparkify/internal/records"
)

// utf8BOM is skipped at the start of a file; some exporters write one.
var utf8BOM = []byte("\ufeff")

// maxLineBytes bounds a single record; activity-log lines are well under 4 KiB.
const maxLineBytes = 16 << 20

// MalformedRecordError reports a line that is not a well-formed record. The
// whole file it came from is rejected.
type MalformedRecordError struct {
	Line int
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("jsonl: malformed record at line %d: %v", e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// StreamObjects reads r line by line and calls emit with each JSON object in
// source order. Blank lines and a leading UTF-8 byte-order mark are skipped;
// line numbers are 1-based physical lines.
//
// Numbers are decoded as json.Number so integer timestamps keep full precision.
//
// Errors:
//   - *MalformedRecordError for a line that is not a single JSON object.
//   - Whatever emit returns, unchanged.
//   - ctx.Err() when the context is cancelled between lines.
func StreamObjects(ctx context.Context, r io.Reader, emit func(line int, obj records.Fields) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}

		raw := sc.Bytes()
		if line == 1 {
			raw = bytes.TrimPrefix(raw, utf8BOM)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		obj, err := decodeObject(raw)
		if err != nil {
			return &MalformedRecordError{Line: line, Err: err}
		}
		if err := emit(line, obj); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return &MalformedRecordError{Line: line + 1, Err: err}
		}
		return fmt.Errorf("jsonl: read: %w", err)
	}
	return nil
}

func decodeObject(raw []byte) (records.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("not an object (got %T)", v)
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after object")
	}
	return records.Fields(obj), nil
}

// DecodeCatalog reads every record of a song-catalog file.
func DecodeCatalog(ctx context.Context, r io.Reader) ([]records.Catalog, error) {
	var out []records.Catalog
	err := StreamObjects(ctx, r, func(line int, obj records.Fields) error {
		c, err := records.CatalogFromFields(obj)
		if err != nil {
			return &MalformedRecordError{Line: line, Err: err}
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeEvents reads every record of an activity-log file.
func DecodeEvents(ctx context.Context, r io.Reader) ([]records.Event, error) {
	var out []records.Event
	err := StreamObjects(ctx, r, func(line int, obj records.Fields) error {
		ev, err := records.EventFromFields(obj)
		if err != nil {
			return &MalformedRecordError{Line: line, Err: err}
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
