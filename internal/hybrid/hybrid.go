// Package hybrid extracts PDF text page by page from the text layer and
// falls back to OCR for pages whose text layer is too thin to trust.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/ocr"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

const (
	MethodTextLayer = "text-layer"
	MethodNeedsOCR  = "needs-ocr"
	MethodOCR       = "ocr"
)

// TextLayer is the subset of the poppler wrapper the processor needs.
type TextLayer interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
	TextForPage(ctx context.Context, pdfPath string, page int) (string, error)
}

// DocumentOCR runs OCR over selected 1-based pages of a local PDF.
type DocumentOCR interface {
	Configured() bool
	RunDocument(ctx context.Context, pdfPath string, pages1 []int) (ocr.Response, error)
}

type Defaults struct {
	MinWordsThreshold int
	PageSeparator     string
	OCRModel          string
	MaxPageWorkers    int
}

type Processor struct {
	text     TextLayer
	ocr      DocumentOCR
	defaults Defaults
	log      logging.Logger
}

// New builds a processor. ocrClient may be nil, in which case thin pages
// keep whatever the text layer had.
func New(text TextLayer, ocrClient DocumentOCR, defaults Defaults, log logging.Logger) *Processor {
	return &Processor{text: text, ocr: ocrClient, defaults: defaults, log: logging.OrNop(log).Named("hybrid")}
}

// ApplyDefaults fills unset options without overwriting valid choices.
func (p *Processor) ApplyDefaults(opts types.HybridProcessorOptions) types.HybridProcessorOptions {
	if opts.MinWordsThreshold <= 0 {
		opts.MinWordsThreshold = p.defaults.MinWordsThreshold
	}
	if opts.PageSeparator == "" {
		opts.PageSeparator = p.defaults.PageSeparator
	}
	if opts.PageSeparator == "" {
		opts.PageSeparator = "\n"
	}
	if opts.OCRModel == nil && p.defaults.OCRModel != "" {
		m := p.defaults.OCRModel
		opts.OCRModel = &m
	}
	return opts
}

func (p *Processor) ocrAvailable() bool {
	return p.ocr != nil && p.ocr.Configured()
}

// Process extracts the requested pages (all when opts.Pages is empty).
// An OCR failure is recorded on the result but does not fail the call.
func (p *Processor) Process(ctx context.Context, pdfPath string, opts types.HybridProcessorOptions) (types.HybridExtractionResult, error) {
	opts = p.ApplyDefaults(opts)
	result := types.HybridExtractionResult{Pages: []types.PageExtractionResult{}}

	totalPages, err := p.text.PageCount(ctx, pdfPath)
	if err != nil {
		msg := fmt.Sprintf("page count failed: %v", err)
		result.Error = &msg
		return result, err
	}
	result.TotalPages = totalPages
	if totalPages == 0 {
		msg := "PDF has no pages"
		result.Error = &msg
		return result, errors.New(msg)
	}

	pages := opts.Pages
	if len(pages) == 0 {
		pages = make([]int, totalPages)
		for i := range pages {
			pages[i] = i + 1
		}
	}

	result.Pages = p.extractPagesParallel(ctx, pdfPath, pages, opts.MinWordsThreshold)

	var needsOCR []int
	for _, pr := range result.Pages {
		if pr.Method == MethodNeedsOCR {
			needsOCR = append(needsOCR, pr.PageNumber)
		}
	}

	if len(needsOCR) > 0 && p.ocrAvailable() {
		resp, err := p.ocr.RunDocument(ctx, pdfPath, needsOCR)
		if err != nil {
			p.log.Warn("ocr fallback failed", logging.String("collaborator", "ocr"), logging.String("item", pdfPath), logging.Err(err))
			msg := fmt.Sprintf("OCR failed: %v", err)
			result.Error = &msg
		} else {
			mergeOCRResults(&result, resp)
		}
	}

	result.Text = combine(result.Pages, opts.PageSeparator)
	result.OCRPages = countMethod(result.Pages, MethodOCR)
	result.TextLayerPages = countMethod(result.Pages, MethodTextLayer)
	result.Success = true
	return result, nil
}

func (p *Processor) extractPagesParallel(ctx context.Context, pdfPath string, pages []int, minWords int) []types.PageExtractionResult {
	results := make([]types.PageExtractionResult, len(pages))

	workers := runtime.NumCPU()
	if p.defaults.MaxPageWorkers > 0 && workers > p.defaults.MaxPageWorkers {
		workers = p.defaults.MaxPageWorkers
	}
	workers = max(1, min(workers, len(pages)))

	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	for i, pageNum := range pages {
		wg.Add(1)
		go func(idx, page int) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[idx] = types.PageExtractionResult{PageNumber: page, Method: MethodNeedsOCR}
				return
			}
			defer sem.Release(1)
			results[idx] = p.extractSinglePage(ctx, pdfPath, page, minWords)
		}(i, pageNum)
	}

	wg.Wait()
	return results
}

func (p *Processor) extractSinglePage(ctx context.Context, pdfPath string, pageNum, minWords int) types.PageExtractionResult {
	result := types.PageExtractionResult{PageNumber: pageNum, Method: MethodTextLayer}

	text, err := p.text.TextForPage(ctx, pdfPath, pageNum)
	if err != nil {
		p.log.Debug("text layer unavailable", logging.Int("page", pageNum), logging.Err(err))
		result.Method = MethodNeedsOCR
		return result
	}

	text = cleanText(text)
	result.Text = text
	result.WordCount = CountWords(text)
	if result.WordCount < minWords {
		result.Method = MethodNeedsOCR
	}
	return result
}

func mergeOCRResults(result *types.HybridExtractionResult, resp ocr.Response) {
	byPage := make(map[int]string, len(resp.Pages))
	for _, page := range resp.Pages {
		byPage[page.Index+1] = cleanText(page.Markdown)
	}
	for i := range result.Pages {
		pr := &result.Pages[i]
		if pr.Method != MethodNeedsOCR {
			continue
		}
		if text, ok := byPage[pr.PageNumber]; ok {
			pr.Text = text
			pr.Method = MethodOCR
			pr.WordCount = CountWords(text)
		}
	}
}

func combine(pages []types.PageExtractionResult, sep string) string {
	parts := make([]string, 0, len(pages))
	for _, pr := range pages {
		if strings.TrimSpace(pr.Text) != "" {
			parts = append(parts, pr.Text)
		}
	}
	return strings.Join(parts, sep)
}

// CountWords counts whitespace-separated tokens containing a letter or digit.
func CountWords(text string) int {
	n := 0
	for _, f := range strings.Fields(text) {
		if strings.IndexFunc(f, isAlnum) >= 0 {
			n++
		}
	}
	return n
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r > 127
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u00AD':
			return -1
		case '\u00A0':
			return ' '
		default:
			return r
		}
	}, text)

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	consecutiveEmpty := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			consecutiveEmpty++
			if consecutiveEmpty <= 2 {
				cleaned = append(cleaned, "")
			}
			continue
		}
		consecutiveEmpty = 0
		cleaned = append(cleaned, strings.Join(strings.Fields(line), " "))
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func countMethod(pages []types.PageExtractionResult, method string) int {
	n := 0
	for _, p := range pages {
		if p.Method == method {
			n++
		}
	}
	return n
}
