package office

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/tables"
)

// maxDocumentXML bounds the decompressed size of word/document.xml.
const maxDocumentXML = 64 << 20

type DOCXExtractor struct {
	maxBytes int64
}

func NewDOCX(maxBytes int64) *DOCXExtractor {
	return &DOCXExtractor{maxBytes: maxBytes}
}

func (e *DOCXExtractor) Name() string       { return "document/docx" }
func (e *DOCXExtractor) MaxFileSize() int64 { return e.maxBytes }
func (e *DOCXExtractor) SupportedTypes() []string {
	return []string{"application/vnd.openxmlformats-officedocument.wordprocessingml.document"}
}
func (e *DOCXExtractor) SupportedExtensions() []string { return []string{".docx"} }

// Extract returns one line per paragraph. Tables are returned as tables and
// also flattened into the text, one space-separated line per row.
func (e *DOCXExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{Success: false}, err
	}

	zr, err := zip.OpenReader(job.LocalPath)
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}
	defer zr.Close()

	body, err := readZipFile(&zr.Reader, "word/document.xml", maxDocumentXML)
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}

	lines, tbls := parseDocument(body)
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

// parseDocument walks word/document.xml. Nested tables are folded into the
// cell that holds them.
func parseDocument(b []byte) ([]string, []tables.Table) {
	dec := xml.NewDecoder(bytes.NewReader(b))

	var (
		lines    []string
		tbls     []tables.Table
		para     strings.Builder
		cell     strings.Builder
		row      []string
		rows     [][]string
		tblDepth int
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					rows = nil
				}
			case "tr":
				if tblDepth == 1 {
					row = nil
				}
			case "tc":
				if tblDepth == 1 {
					cell.Reset()
				}
			case "p":
				para.Reset()
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err == nil {
					para.WriteString(s)
				}
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
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
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.TrimSpace(cell.String()))
				}
			case "tr":
				if tblDepth == 1 && len(row) > 0 {
					rows = append(rows, row)
				}
			case "tbl":
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

func readZipFile(zr *zip.Reader, name string, limit int64) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(b)) > limit {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, limit)
		}
		return b, nil
	}
	return nil, fmt.Errorf("missing %s", name)
}
