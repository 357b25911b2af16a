package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ConnectionError means the warehouse could not be reached. It is fatal to a
// run: the driver stops and reports the files it did not get to.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("storage: %s: backend unreachable: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError is a single rejected write. The loader records it and moves on to
// the next row; the file it came from is reported as completed with errors.
type WriteError struct {
	Table     string
	Statement string
	Key       string
	Err       error
}

func (e *WriteError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage: write %s key=%s: %v", e.Table, e.Key, e.Err)
	}
	return fmt.Sprintf("storage: write %s: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is (or wraps) a *ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// ClassifyConn wraps err in a *ConnectionError when it looks like a lost or
// refused connection, and returns it unchanged otherwise. Backends call it on
// every driver error so the loader can tell fatal failures from rejected rows.
func ClassifyConn(op string, err error) error {
	if err == nil || IsConnectionError(err) {
		return err
	}
	if isConnFailure(err) {
		return &ConnectionError{Op: op, Err: err}
	}
	return err
}

func isConnFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
