package structured

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/tables"
)

// CSVExtractor reads delimited activity or compound lists. The delimiter is
// the first of , tab ; | that yields more than one column.
type CSVExtractor struct {
	maxBytes int64
}

func NewCSV(maxBytes int64) *CSVExtractor { return &CSVExtractor{maxBytes: maxBytes} }

func (e *CSVExtractor) Name() string       { return "table/csv" }
func (e *CSVExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *CSVExtractor) SupportedTypes() []string {
	return []string{"text/csv", "text/tab-separated-values"}
}
func (e *CSVExtractor) SupportedExtensions() []string { return []string{".csv", ".tsv"} }

func (e *CSVExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{Success: false}, err
	}

	b, err := os.ReadFile(job.LocalPath)
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}

	recs, delim, err := readRecords(b)
	if err != nil {
		text := strings.TrimSpace(string(b))
		w, c := extract.BuildCounts(text)
		return extract.Result{Success: true, Text: text, Method: "native", FileType: e.Name(), MIMEType: job.MIMEType, WordCount: w, CharCount: c}, nil
	}

	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, strings.Join(r, " "))
	}
	text := strings.Join(lines, "\n")
	w, c := extract.BuildCounts(text)
	var tbls []tables.Table
	if len(recs) >= 2 {
		tbls = []tables.Table{{Page: 1, Rows: recs}}
	}
	return extract.Result{
		Success:  true,
		Text:     text,
		Method:   "native",
		FileType: e.Name(),
		MIMEType: job.MIMEType,
		Tables:   tbls,
		Metadata: map[string]string{
			"rows":      fmt.Sprintf("%d", len(recs)),
			"columns":   fmt.Sprintf("%d", maxCols(recs)),
			"delimiter": string(delim),
		},
		WordCount: w,
		CharCount: c,
	}, nil
}

func readRecords(b []byte) ([][]string, rune, error) {
	for _, d := range []rune{',', '\t', ';', '|'} {
		r := csv.NewReader(bytes.NewReader(b))
		r.Comma = d
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		recs, err := r.ReadAll()
		if err == nil && len(recs) > 0 && maxCols(recs) > 1 {
			return recs, d, nil
		}
	}
	return nil, ',', fmt.Errorf("unable to parse CSV/TSV")
}

func maxCols(recs [][]string) int {
	m := 0
	for _, row := range recs {
		if len(row) > m {
			m = len(row)
		}
	}
	return m
}
