package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

type fakeRepo struct{ kind string }

func (f *fakeRepo) Kind() string                          { return f.kind }
func (f *fakeRepo) Statements() Statements                { return Statements{} }
func (f *fakeRepo) Begin(ctx context.Context) (Tx, error) { return nil, errors.New("not implemented") }
func (f *fakeRepo) Close()                                {}

func TestRegisterAndOpen(t *testing.T) {
	Register("fake-open", func(ctx context.Context, cfg Config) (Repository, error) {
		return &fakeRepo{kind: cfg.Kind}, nil
	})

	repo, err := Open(context.Background(), Config{Kind: "fake-open", DSN: "x"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if repo.Kind() != "fake-open" {
		t.Fatalf("got kind=%q want=%q", repo.Kind(), "fake-open")
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-open" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds()=%v missing fake-open", Kinds())
	}
}

func TestOpen_RejectsEmptyAndUnknownKind(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := Open(context.Background(), Config{Kind: "does-not-exist"})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestRegister_PanicsOnDuplicateAndEmpty(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (Repository, error) { return &fakeRepo{}, nil }
	Register("fake-dup", f)

	for name, fn := range map[string]func(){
		"duplicate": func() { Register("fake-dup", f) },
		"empty":     func() { Register("", f) },
		"nil":       func() { Register("fake-nil", nil) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestStatementsValidate_ListsMissing(t *testing.T) {
	t.Parallel()

	err := Statements{InsertSong: "x", InsertArtist: "x", InsertTime: "x"}.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	want := "InsertSongplay, SelectSongArtist, UpsertUser"
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("got=%q want substring %q", err.Error(), want)
	}

	full := Statements{InsertSong: "a", InsertArtist: "b", InsertTime: "c", UpsertUser: "d", InsertSongplay: "e", SelectSongArtist: "f"}
	if err := full.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassifyConn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantConn bool
	}{
		{name: "nil", err: nil, wantConn: false},
		{name: "bad conn", err: fmt.Errorf("exec: %w", driver.ErrBadConn), wantConn: true},
		{name: "net op error", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, wantConn: true},
		{name: "constraint", err: errors.New("UNIQUE constraint failed"), wantConn: false},
		{name: "already classified", err: &ConnectionError{Op: "begin", Err: errors.New("x")}, wantConn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyConn("exec", tt.err)
			if IsConnectionError(got) != tt.wantConn {
				t.Fatalf("IsConnectionError(ClassifyConn(%v))=%v want=%v", tt.err, !tt.wantConn, tt.wantConn)
			}
			if !tt.wantConn && got != tt.err {
				t.Fatalf("non-connection error must pass through unchanged: got=%v", got)
			}
		})
	}
}

func TestWriteError_UnwrapsAndFormats(t *testing.T) {
	t.Parallel()

	cause := errors.New("value too long")
	err := fmt.Errorf("load: %w", &WriteError{Table: TableUsers, Key: "39", Err: cause})

	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected WriteError in chain")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if !strings.Contains(we.Error(), "users key=39") {
		t.Fatalf("unexpected message %q", we.Error())
	}
}
