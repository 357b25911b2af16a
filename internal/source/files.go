// Package source lists and reads the newline-delimited JSON files a run loads.
package source

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultPattern matches the files loaded from each root.
const DefaultPattern = "*.json"

// Files discovers and reads source files on an afero filesystem.
type Files struct {
	FS      afero.Fs
	Pattern string
}

// NewOS returns a Files backed by the real filesystem.
func NewOS(pattern string) *Files {
	return &Files{FS: afero.NewOsFs(), Pattern: pattern}
}

func (f *Files) fs() afero.Fs {
	if f.FS == nil {
		return afero.NewOsFs()
	}
	return f.FS
}

func (f *Files) pattern() string {
	if strings.TrimSpace(f.Pattern) == "" {
		return DefaultPattern
	}
	return f.Pattern
}

// List walks root recursively and returns every regular file whose base name
// matches the pattern, in lexical order. Paths are absolute when the
// filesystem is the OS filesystem.
//
// A missing or unreadable root is an error; an empty root is not.
func (f *Files) List(root string) ([]string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("source: empty root")
	}
	if _, ok := f.fs().(*afero.OsFs); ok {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("source: resolve %s: %w", root, err)
		}
		root = abs
	}

	info, err := f.fs().Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: %s is not a directory", root)
	}

	pattern := f.pattern()
	var out []string
	err = afero.Walk(f.fs(), root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		ok, err := filepath.Match(pattern, filepath.Base(path))
		if err != nil {
			return err
		}
		if ok {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walk %s: %w", root, err)
	}

	sort.Strings(out)
	return out, nil
}

// Read returns the content of path.
func (f *Files) Read(path string) ([]byte, error) {
	b, err := afero.ReadFile(f.fs(), path)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	return b, nil
}
