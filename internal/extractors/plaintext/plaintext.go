package plaintext

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/toricodesthings/compound-association-service/internal/extract"
)

var excessBlankLines = regexp.MustCompile(`\n{4,}`)

// Extractor passes plain text and markdown through. Markdown front matter
// is dropped.
type Extractor struct {
	maxBytes int64
}

func New(maxBytes int64) *Extractor {
	return &Extractor{maxBytes: maxBytes}
}

func (e *Extractor) Name() string { return "text" }

func (e *Extractor) MaxFileSize() int64 { return e.maxBytes }

func (e *Extractor) SupportedTypes() []string {
	return []string{"text/plain", "text/markdown"}
}

func (e *Extractor) SupportedExtensions() []string {
	return []string{".txt", ".text", ".md", ".markdown"}
}

func (e *Extractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	if err := ctx.Err(); err != nil {
		return extract.Result{Success: false}, err
	}

	b, err := os.ReadFile(job.LocalPath)
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}

	text := string(b)
	fileType := "text/plain"
	switch strings.ToLower(filepath.Ext(job.FileName)) {
	case ".md", ".markdown":
		text = stripFrontMatter(text)
		fileType = "text/markdown"
	}

	text = normalizeText(text)
	words, chars := extract.BuildCounts(text)
	return extract.Result{
		Success:   true,
		Text:      text,
		Method:    "native",
		FileType:  fileType,
		MIMEType:  job.MIMEType,
		WordCount: words,
		CharCount: chars,
	}, nil
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = excessBlankLines.ReplaceAllString(s, "\n\n\n")
	return strings.TrimSpace(s)
}

func stripFrontMatter(s string) string {
	if !strings.HasPrefix(s, "---\n") {
		return s
	}
	idx := strings.Index(s[4:], "\n---\n")
	if idx < 0 {
		return s
	}
	return s[4+idx+5:]
}
