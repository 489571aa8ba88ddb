package office

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/tables"
)

type XLSXExtractor struct {
	maxBytes int64
}

func NewXLSX(maxBytes int64) *XLSXExtractor {
	return &XLSXExtractor{maxBytes: maxBytes}
}

func (e *XLSXExtractor) Name() string       { return "document/xlsx" }
func (e *XLSXExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *XLSXExtractor) SupportedTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
}
func (e *XLSXExtractor) SupportedExtensions() []string { return []string{".xlsx"} }

// Extract turns every non-empty sheet into a table; sheet n is page n. The
// text holds each row joined by spaces.
func (e *XLSXExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{Success: false}, err
	}

	f, err := excelize.OpenFile(job.LocalPath)
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var (
		tbls  []tables.Table
		lines []string
		total int
	)
	for i, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		filtered := nonEmptyRows(rows)
		if len(filtered) == 0 {
			continue
		}
		total += len(filtered)
		tbls = append(tbls, tables.Table{Page: i + 1, Rows: filtered})
		for _, row := range filtered {
			lines = append(lines, strings.Join(row, " "))
		}
	}

	text := strings.Join(lines, "\n")
	words, chars := extract.BuildCounts(text)
	return extract.Result{
		Success:  true,
		Text:     text,
		Method:   "native",
		FileType: e.Name(),
		MIMEType: job.MIMEType,
		Tables:   tbls,
		Metadata: map[string]string{
			"sheets":    fmt.Sprintf("%d", len(sheets)),
			"totalRows": fmt.Sprintf("%d", total),
		},
		WordCount: words,
		CharCount: chars,
	}, nil
}

func nonEmptyRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
