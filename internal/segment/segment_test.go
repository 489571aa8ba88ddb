package segment

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/compound-association-service/internal/pdftest"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	p := filepath.Join(t.TempDir(), "segmenter")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func TestPresegmentedWins(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "patent")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Example_1.png"), []byte("x"), 0o600))

	s := New(Options{Root: root, Binary: "/does/not/exist"}, nil)
	got, mode, err := s.Segment(context.Background(), "patent.pdf", "patent", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.Equal(t, ModePresegmented, mode)
}

func TestPresegmentedNeedsImages(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "patent"), 0o755))

	s := New(Options{Root: root}, nil)
	_, ok := s.presegmented("patent")
	assert.False(t, ok)
}

func TestBinary(t *testing.T) {
	bin := writeScript(t, `touch "$2/p1_1.png"`)
	out := filepath.Join(t.TempDir(), "segments")

	got, mode, err := New(Options{Binary: bin}, nil).Segment(context.Background(), "patent.pdf", "patent", out)
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.Equal(t, ModeBinary, mode)
	assert.FileExists(t, filepath.Join(out, "p1_1.png"))
}

func TestBinaryFailure(t *testing.T) {
	bin := writeScript(t, "echo boom >&2\nexit 3\n")
	_, _, err := New(Options{Binary: bin}, nil).Segment(context.Background(), "patent.pdf", "patent", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestBinaryTimeout(t *testing.T) {
	bin := writeScript(t, "exec sleep 5\n")
	_, _, err := New(Options{Binary: bin, Timeout: 50 * time.Millisecond}, nil).
		Segment(context.Background(), "patent.pdf", "patent", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestEmbeddedWithoutImages(t *testing.T) {
	dir := t.TempDir()
	src := pdftest.Write(t, dir, "patent.pdf", 2)
	out := filepath.Join(dir, "segments")

	got, mode, err := New(Options{}, nil).Segment(context.Background(), src, "patent", out)
	require.NoError(t, err)
	assert.Equal(t, out, got)
	assert.Equal(t, ModeEmbedded, mode)
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
