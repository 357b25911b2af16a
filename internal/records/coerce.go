// Package records holds the typed source records read from the catalog and
// activity-log files, and the lenient scalar coercions used to build them
// from decoded JSON.
package records

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// number is satisfied by the json.Number types of both encoding/json and
// goccy/go-json, which is what a decoder in UseNumber mode produces.
type number interface {
	String() string
	Int64() (int64, error)
	Float64() (float64, error)
}

// String returns v as a string. Missing and null become "".
func String(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

// OptionalString is String that keeps null distinct from "".
func OptionalString(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, err := String(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Int64 parses an integer that may arrive as a JSON number or a numeric
// string (activity logs carry userId as "39"). ok is false for null, missing
// or an empty string.
func Int64(v any) (n int64, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("expected integer, got %q", x)
		}
		return n, true, nil
	case number:
		if n, err := x.Int64(); err == nil {
			return n, true, nil
		}
		f, err := x.Float64()
		if err != nil || !integral(f) {
			return 0, false, fmt.Errorf("expected integer, got %s", x.String())
		}
		return int64(f), true, nil
	case float64:
		if !integral(x) {
			return 0, false, fmt.Errorf("expected integer, got %v", x)
		}
		return int64(x), true, nil
	case int64:
		return x, true, nil
	case int:
		return int64(x), true, nil
	default:
		return 0, false, fmt.Errorf("expected integer, got %T", v)
	}
}

// integral reports whether f is a whole number that fits in an int64.
// 2^63 itself is excluded: it is exactly representable but overflows.
func integral(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) < 1<<63
}

// Float64 parses a number that may arrive as a JSON number or a numeric
// string. ok is false for null, missing or an empty string.
func Float64(v any) (f float64, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return 0, false, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("expected number, got %q", x)
		}
		return f, true, nil
	case number:
		f, err := x.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("expected number, got %s", x.String())
		}
		return f, true, nil
	case float64:
		return x, true, nil
	case int64:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	default:
		return 0, false, fmt.Errorf("expected number, got %T", v)
	}
}

// OptionalFloat64 is Float64 returning nil for null or missing.
func OptionalFloat64(v any) (*float64, error) {
	f, ok, err := Float64(v)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}
