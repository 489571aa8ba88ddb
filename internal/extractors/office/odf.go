package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/tables"
)

// maxRepeatedCells caps table:number-columns-repeated so a styled empty
// column spanning the whole sheet does not expand into thousands of cells.
const maxRepeatedCells = 64

// ODFExtractor reads OpenDocument text and spreadsheet files.
type ODFExtractor struct {
	maxBytes int64
}

func NewODF(maxBytes int64) *ODFExtractor { return &ODFExtractor{maxBytes: maxBytes} }

func (e *ODFExtractor) Name() string       { return "document/opendocument" }
func (e *ODFExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *ODFExtractor) SupportedTypes() []string {
	return []string{"application/vnd.oasis.opendocument.text", "application/vnd.oasis.opendocument.spreadsheet"}
}
func (e *ODFExtractor) SupportedExtensions() []string { return []string{".odt", ".ods"} }

func (e *ODFExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{Success: false}, err
	}

	zr, err := zip.OpenReader(job.LocalPath)
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}
	defer zr.Close()

	body, err := readZipFile(&zr.Reader, "content.xml", maxDocumentXML)
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}

	lines, tbls := parseODF(body)
	text := strings.Join(lines, "\n")
	words, chars := extract.BuildCounts(text)
	return extract.Result{
		Success:   true,
		Text:      text,
		Method:    "native",
		FileType:  e.Name(),
		MIMEType:  job.MIMEType,
		Tables:    tbls,
		Metadata:  map[string]string{"tables": fmt.Sprintf("%d", len(tbls))},
		WordCount: words,
		CharCount: chars,
	}, nil
}

// parseODF walks content.xml the same way parseDocument walks a docx body.
// Every sheet of a spreadsheet is one table.
func parseODF(b []byte) ([]string, []tables.Table) {
	dec := xml.NewDecoder(bytes.NewReader(b))

	var (
		lines    []string
		tbls     []tables.Table
		para     strings.Builder
		cell     strings.Builder
		row      []string
		rows     [][]string
		repeat   int
		tblDepth int
		inPara   bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table":
				tblDepth++
				if tblDepth == 1 {
					rows = nil
				}
			case "table-row":
				if tblDepth == 1 {
					row = nil
				}
			case "table-cell", "covered-table-cell":
				if tblDepth == 1 {
					cell.Reset()
					repeat = repeatCount(t.Attr)
				}
			case "p", "h":
				para.Reset()
				inPara = true
			case "s":
				n := 1
				for _, a := range t.Attr {
					if a.Name.Local == "c" {
						if v, err := strconv.Atoi(a.Value); err == nil && v > 0 {
							n = v
						}
					}
				}
				para.WriteString(strings.Repeat(" ", n))
			case "tab":
				para.WriteString("\t")
			case "line-break":
				para.WriteString("\n")
			}
		case xml.CharData:
			if inPara {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p", "h":
				inPara = false
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if tblDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteString(" ")
					}
					cell.WriteString(text)
				} else {
					lines = append(lines, text)
				}
			case "table-cell", "covered-table-cell":
				if tblDepth == 1 {
					v := strings.TrimSpace(cell.String())
					for i := 0; i < repeat; i++ {
						row = append(row, v)
					}
				}
			case "table-row":
				if tblDepth == 1 {
					row = trimTrailingEmpty(row)
					if len(row) > 0 {
						rows = append(rows, row)
					}
				}
			case "table":
				if tblDepth == 1 {
					if len(rows) >= 2 {
						tbls = append(tbls, tables.Table{Page: 1, Rows: rows})
					}
					for _, r := range rows {
						lines = append(lines, strings.Join(r, " "))
					}
				}
				if tblDepth > 0 {
					tblDepth--
				}
			}
		}
	}
	return lines, tbls
}

func repeatCount(attrs []xml.Attr) int {
	for _, a := range attrs {
		if a.Name.Local != "number-columns-repeated" {
			continue
		}
		n, err := strconv.Atoi(a.Value)
		if err != nil || n < 1 {
			return 1
		}
		return min(n, maxRepeatedCells)
	}
	return 1
}

func trimTrailingEmpty(row []string) []string {
	for len(row) > 0 && row[len(row)-1] == "" {
		row = row[:len(row)-1]
	}
	return row
}
