package pdf

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/tables"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

type fakeText struct {
	asked []int
	res   types.HybridExtractionResult
	err   error
}

func (f *fakeText) Process(_ context.Context, _ string, opts types.HybridProcessorOptions) (types.HybridExtractionResult, error) {
	f.asked = opts.Pages
	return f.res, f.err
}

type fakeTables struct {
	pages []int
	out   []tables.Table
	err   error
}

func (f *fakeTables) Tables(_ context.Context, _ string, pages []int) ([]tables.Table, error) {
	f.pages = pages
	return f.out, f.err
}

func result() types.HybridExtractionResult {
	return types.HybridExtractionResult{
		Success: true,
		Text:    "Example 1 phenol\nExample 2 cresol",
		Pages: []types.PageExtractionResult{
			{PageNumber: 3, Text: "Example 1 phenol", Method: "text-layer", WordCount: 3},
			{PageNumber: 4, Text: "Example 2 cresol", Method: "ocr", WordCount: 3},
		},
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	text := &fakeText{res: result()}
	tbl := &fakeTables{out: []tables.Table{{Page: 3, Rows: [][]string{{"Example", "IC50"}, {"1", "5"}}}}}
	e := New(text, tbl, 0, nil)

	res, err := e.Extract(context.Background(), extract.Job{LocalPath: "doc.pdf", Pages: []int{3, 4}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []int{3, 4}, text.asked)
	assert.Equal(t, []int{3, 4}, tbl.pages)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, "ocr", res.Pages[1].Method)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, 3, res.Tables[0].Page)
}

func TestExtractTableFailureKeepsText(t *testing.T) {
	t.Parallel()

	e := New(&fakeText{res: result()}, &fakeTables{err: errors.New("layout failed")}, 0, nil)
	res, err := e.Extract(context.Background(), extract.Job{LocalPath: "doc.pdf"})
	require.NoError(t, err)
	assert.Empty(t, res.Tables)
	assert.Contains(t, res.Text, "cresol")
}

func TestExtractTextFailure(t *testing.T) {
	t.Parallel()

	e := New(&fakeText{err: errors.New("pdfinfo failed")}, nil, 0, nil)
	res, err := e.Extract(context.Background(), extract.Job{LocalPath: "doc.pdf"})
	require.Error(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
}
