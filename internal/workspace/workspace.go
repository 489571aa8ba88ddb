// Package workspace gives each document job a private scratch directory that
// is removed when the job ends.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Workspace struct {
	root string
	keep bool
}

// New creates a fresh directory under parent (the OS temp dir when empty).
// prefix is sanitised into a directory-name fragment.
func New(parent, prefix string, keep bool) (*Workspace, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("workspace parent: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "assoc-"+sanitize(prefix)+"-*")
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	return &Workspace{root: dir, keep: keep}, nil
}

func (w *Workspace) Root() string { return w.root }

// Path joins elem under the workspace root.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// Dir creates and returns a subdirectory.
func (w *Workspace) Dir(name string) (string, error) {
	p := w.Path(name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("workspace dir %s: %w", name, err)
	}
	return p, nil
}

// Cleanup removes the workspace unless it was created with keep set. It is
// safe to call more than once.
func (w *Workspace) Cleanup() error {
	if w == nil || w.keep || w.root == "" {
		return nil
	}
	err := os.RemoveAll(w.root)
	w.root = ""
	return err
}

func sanitize(s string) string {
	s = strings.TrimSuffix(filepath.Base(s), filepath.Ext(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 40 {
			break
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}
