package pdf

import (
	"context"

	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/tables"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

// TextProcessor is satisfied by *hybrid.Processor.
type TextProcessor interface {
	Process(ctx context.Context, pdfPath string, opts types.HybridProcessorOptions) (types.HybridExtractionResult, error)
}

type Extractor struct {
	text     TextProcessor
	tables   tables.Engine
	maxBytes int64
	log      logging.Logger
}

// New builds the PDF extractor. engine may be nil when table detection is
// not wanted.
func New(text TextProcessor, engine tables.Engine, maxBytes int64, log logging.Logger) *Extractor {
	return &Extractor{text: text, tables: engine, maxBytes: maxBytes, log: logging.OrNop(log).Named("pdf")}
}

func (e *Extractor) Name() string { return "document/pdf" }

func (e *Extractor) MaxFileSize() int64 { return e.maxBytes }

func (e *Extractor) SupportedTypes() []string {
	return []string{"application/pdf"}
}

func (e *Extractor) SupportedExtensions() []string {
	return []string{".pdf"}
}

func (e *Extractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	out, err := e.text.Process(ctx, job.LocalPath, types.HybridProcessorOptions{Pages: job.Pages})
	if err != nil {
		res := extract.Failed(e.Name(), job.MIMEType, err)
		res.Method = "hybrid"
		return res, err
	}

	pages := make([]extract.PageResult, 0, len(out.Pages))
	numbers := make([]int, 0, len(out.Pages))
	for _, p := range out.Pages {
		pages = append(pages, extract.PageResult{
			PageNumber: p.PageNumber,
			Text:       p.Text,
			Method:     p.Method,
			WordCount:  p.WordCount,
		})
		numbers = append(numbers, p.PageNumber)
	}

	var tbls []tables.Table
	if e.tables != nil && len(numbers) > 0 {
		tbls, err = e.tables.Tables(ctx, job.LocalPath, numbers)
		if err != nil {
			e.log.Warn("table detection failed", logging.String("item", job.FileName), logging.Err(err))
			tbls = nil
		}
	}

	meta := map[string]string{}
	if out.Error != nil {
		meta["warning"] = *out.Error
	}

	words, chars := extract.BuildCounts(out.Text)
	return extract.Result{
		Success:   true,
		Text:      out.Text,
		Method:    "hybrid",
		FileType:  e.Name(),
		MIMEType:  job.MIMEType,
		Pages:     pages,
		Tables:    tbls,
		Metadata:  meta,
		WordCount: words,
		CharCount: chars,
	}, nil
}
