// Package tables finds tables on PDF pages and round-trips them through an
// intermediate workbook.
package tables

import (
	"context"
	"regexp"
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/ocr"
)

// Table is one detected table. Rows[0] is the header.
type Table struct {
	Page int
	Rows [][]string
}

// Engine maps the given 1-based pages of a PDF to tables. An empty result
// means no tables, not an error.
type Engine interface {
	Tables(ctx context.Context, pdfPath string, pages []int) ([]Table, error)
}

// LayoutSource renders one page with its physical layout preserved.
type LayoutSource interface {
	LayoutForPage(ctx context.Context, pdfPath string, page int) (string, error)
}

var cellGap = regexp.MustCompile(`\s{2,}`)

// LayoutEngine splits layout text into cells on runs of two or more spaces.
// A table is a run of at least two consecutive lines that each have two or
// more cells. Blank lines do not break a run.
type LayoutEngine struct {
	src LayoutSource
	log logging.Logger
}

func NewLayout(src LayoutSource, log logging.Logger) *LayoutEngine {
	return &LayoutEngine{src: src, log: logging.OrNop(log).Named("tables")}
}

func (e *LayoutEngine) Tables(ctx context.Context, pdfPath string, pages []int) ([]Table, error) {
	var out []Table
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		text, err := e.src.LayoutForPage(ctx, pdfPath, p)
		if err != nil {
			e.log.Warn("layout extraction failed",
				logging.String("collaborator", "pdftotext"),
				logging.Int("page", p),
				logging.Err(err))
			continue
		}
		out = append(out, DetectLayout(text, p)...)
	}
	return out, nil
}

// DetectLayout finds tables in one page of layout text.
func DetectLayout(text string, page int) []Table {
	var (
		out []Table
		run [][]string
	)
	flush := func() {
		if len(run) >= 2 {
			out = append(out, Table{Page: page, Rows: run})
		}
		run = nil
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cells := cellGap.Split(line, -1)
		if len(cells) < 2 {
			flush()
			continue
		}
		run = append(run, cells)
	}
	flush()
	return out
}

// MarkdownEngine detects tables in the markdown an OCR pass returns for each
// page. It does nothing when OCR is not configured.
type MarkdownEngine struct {
	ocr ocr.Runner
	log logging.Logger
}

func NewMarkdown(runner ocr.Runner, log logging.Logger) *MarkdownEngine {
	return &MarkdownEngine{ocr: runner, log: logging.OrNop(log).Named("tables")}
}

func (e *MarkdownEngine) Tables(ctx context.Context, pdfPath string, pages []int) ([]Table, error) {
	if e.ocr == nil || !e.ocr.Configured() {
		return nil, nil
	}
	resp, err := e.ocr.RunDocument(ctx, pdfPath, pages)
	if err != nil {
		return nil, err
	}
	var out []Table
	for _, p := range resp.Pages {
		out = append(out, ParseMarkdown(p.Markdown, p.Index+1)...)
	}
	return out, nil
}

// Chain returns the tables of the first engine that finds any. Engine errors
// are logged and the next engine is tried.
type Chain struct {
	engines []Engine
	log     logging.Logger
}

func NewChain(log logging.Logger, engines ...Engine) *Chain {
	return &Chain{engines: engines, log: logging.OrNop(log).Named("tables")}
}

func (c *Chain) Tables(ctx context.Context, pdfPath string, pages []int) ([]Table, error) {
	for _, e := range c.engines {
		got, err := e.Tables(ctx, pdfPath, pages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("table engine failed", logging.String("item", pdfPath), logging.Err(err))
			continue
		}
		if len(got) > 0 {
			return got, nil
		}
	}
	return nil, nil
}
