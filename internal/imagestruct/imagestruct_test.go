package imagestruct

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/compound-association-service/internal/types"
)

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("img"), 0o600))
	}
}

func TestExtractSortedAndFiltered(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeImages(t, dir, "p2_img1.png", "p1_img3.PNG", "p1_img2.jpg", "notes.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o700))

	rec := RecognizerFunc(func(_ context.Context, path string) (string, error) {
		return " C" + strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "\n", nil
	})
	preds, err := New(rec, Options{Concurrency: 3}, nil).Extract(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, preds, 3)
	assert.Equal(t, "p1_img2.jpg", preds[0].Image)
	assert.Equal(t, "Cp1_img2", preds[0].Notation)
	assert.Equal(t, "p1_img3.PNG", preds[1].Image)
	assert.Equal(t, "p2_img1.png", preds[2].Image)
}

func TestExtractSkipsFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeImages(t, dir, "a.png", "b.png", "c.png")

	var calls atomic.Int32
	rec := RecognizerFunc(func(_ context.Context, path string) (string, error) {
		calls.Add(1)
		switch filepath.Base(path) {
		case "a.png":
			return "", errors.New("model timeout")
		case "b.png":
			return "   ", nil
		}
		return "CCO", nil
	})
	preds, err := New(rec, Options{}, nil).Extract(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []Prediction{{Image: "c.png", Notation: "CCO"}}, preds)
	assert.EqualValues(t, 3, calls.Load())
}

func TestExtractMissingDir(t *testing.T) {
	t.Parallel()

	rec := RecognizerFunc(func(context.Context, string) (string, error) { return "C", nil })
	_, err := New(rec, Options{}, nil).Extract(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestExtractEmptyDir(t *testing.T) {
	t.Parallel()

	rec := RecognizerFunc(func(context.Context, string) (string, error) { return "C", nil })
	preds, err := New(rec, Options{}, nil).Extract(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestRecordsFromFileNames(t *testing.T) {
	t.Parallel()

	recs := Records([]Prediction{
		{Image: "page3_example_7b.png", Notation: "c1ccccc1"},
		{Image: "page3_img2.png", Notation: "CCO"},
	})
	require.Len(t, recs, 1)
	assert.Equal(t, "Example 7B", recs[0].Identifier.String())
	assert.Equal(t, types.FieldStructure, recs[0].Field)
	assert.Equal(t, types.SourceImage, recs[0].Source)
	assert.Equal(t, "c1ccccc1", recs[0].Value)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Prediction{{Image: "a.png", Notation: "CCO"}, {Image: "b.png", Notation: "C(=O)O"}}))
	assert.Equal(t, "a.png,CCO\nb.png,C(=O)O\n", buf.String())
}
