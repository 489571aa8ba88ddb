package tables

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/compound-association-service/internal/ocr"
)

const layoutPage = `
                         TABLE 1
   Example      IC50 (nM)
   1            12
   2            1,234

   3A           7
The compounds were tested in the assay described above.
`

func TestDetectLayout(t *testing.T) {
	t.Parallel()

	got := DetectLayout(layoutPage, 4)
	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Page)
	assert.Equal(t, [][]string{
		{"Example", "IC50 (nM)"},
		{"1", "12"},
		{"2", "1,234"},
		{"3A", "7"},
	}, got[0].Rows)
}

func TestDetectLayoutNeedsTwoRows(t *testing.T) {
	t.Parallel()

	assert.Empty(t, DetectLayout("Example  5\nplain prose line\n", 1))
	assert.Empty(t, DetectLayout("", 1))
}

type fakeLayout map[int]string

func (f fakeLayout) LayoutForPage(_ context.Context, _ string, page int) (string, error) {
	s, ok := f[page]
	if !ok {
		return "", errors.New("no page")
	}
	return s, nil
}

func TestLayoutEngineSkipsFailedPages(t *testing.T) {
	t.Parallel()

	e := NewLayout(fakeLayout{2: layoutPage}, nil)
	got, err := e.Tables(context.Background(), "doc.pdf", []int{1, 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Page)
}

func TestParseMarkdownPipeTable(t *testing.T) {
	t.Parallel()

	md := "Some heading\n\n| Example | Name |\n|---|:---:|\n| Example 1 | phenol |\n| Example 2 | aniline |\n\ntrailing text"
	got := ParseMarkdown(md, 3)
	require.Len(t, got, 1)
	assert.Equal(t, [][]string{
		{"Example", "Name"},
		{"Example 1", "phenol"},
		{"Example 2", "aniline"},
	}, got[0].Rows)
	assert.Equal(t, 3, got[0].Page)
}

func TestParseMarkdownHTMLTable(t *testing.T) {
	t.Parallel()

	md := "<table><tr><th>Example</th><th>IC50</th></tr><tr><td>4</td><td>1,500</td></tr></table>"
	got := ParseMarkdown(md, 1)
	require.Len(t, got, 1)
	assert.Equal(t, [][]string{{"Example", "IC50"}, {"4", "1,500"}}, got[0].Rows)
}

type fakeOCR struct {
	resp       ocr.Response
	configured bool
}

func (f fakeOCR) Configured() bool { return f.configured }
func (f fakeOCR) RunDocument(context.Context, string, []int) (ocr.Response, error) {
	return f.resp, nil
}

func TestChainFallsBackToMarkdown(t *testing.T) {
	t.Parallel()

	md := fakeOCR{configured: true, resp: ocr.Response{Pages: []ocr.Page{
		{Index: 1, Markdown: "| Example | IC50 |\n| --- | --- |\n| 9 | 40 |"},
	}}}
	c := NewChain(nil, NewLayout(fakeLayout{1: "no tables here"}, nil), NewMarkdown(md, nil))
	got, err := c.Tables(context.Background(), "doc.pdf", []int{1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Page)
}

func TestMarkdownEngineUnconfigured(t *testing.T) {
	t.Parallel()

	got, err := NewMarkdown(fakeOCR{}, nil).Tables(context.Background(), "doc.pdf", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWorkbookRoundTripCarriesHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc_tables.xlsx")
	in := []Table{
		{Page: 1, Rows: [][]string{{"Example", "IC50"}, {"1", "12"}}},
		{Page: 1, Rows: [][]string{{"only one row"}}},
		{Page: 2, Rows: [][]string{{"2", "1,234", "x"}, {"3", "5", "y"}}},
	}
	lines, err := WorkbookLines(path, in)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Example,IC50",
		"1,12",
		"Example,IC50",
		"3,5,y",
	}, lines)

	stored, err := ReadWorkbook(path)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].Page)
	assert.Equal(t, 2, stored[1].Page)
}

func TestWorkbookWithoutTables(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.xlsx")
	lines, err := WorkbookLines(path, nil)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestLinesReplacesBreaks(t *testing.T) {
	t.Parallel()

	got := Lines([]Table{{Rows: [][]string{{"Example\n12", "4\r\n5"}}}})
	assert.Equal(t, []string{"Example 12,4 5"}, got)
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Page_3_Table_2", SheetName(3, 2))
	assert.Equal(t, 3, pageOf("Page_3_Table_2"))
	assert.Equal(t, 0, pageOf("No_Tables"))
}
