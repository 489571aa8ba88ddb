package office

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/toricodesthings/compound-association-service/internal/extract"
)

// LegacyExtractor converts binary Word documents to text with LibreOffice.
type LegacyExtractor struct {
	binary  string
	timeout time.Duration
	maxSize int64
}

func NewLegacy(binary string, timeout time.Duration, maxSize int64) *LegacyExtractor {
	if strings.TrimSpace(binary) == "" {
		binary = "soffice"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LegacyExtractor{binary: binary, timeout: timeout, maxSize: maxSize}
}

func (e *LegacyExtractor) Name() string       { return "document/legacy-office" }
func (e *LegacyExtractor) MaxFileSize() int64 { return e.maxSize }
func (e *LegacyExtractor) SupportedTypes() []string {
	return []string{"application/msword", "application/rtf", "text/rtf"}
}
func (e *LegacyExtractor) SupportedExtensions() []string { return []string{".doc", ".rtf"} }

func (e *LegacyExtractor) Extract(ctx context.Context, job extract.Job) (extract.Result, error) {
	localCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// The conversion goes to a scratch dir so the input's directory is
	// never written to.
	outDir, err := os.MkdirTemp("", "assoc-soffice-*")
	if err != nil {
		return extract.Failed(e.Name(), job.MIMEType, err), err
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(localCtx, e.binary, "--headless", "--convert-to", "txt:Text", "--outdir", outDir, job.LocalPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		err = fmt.Errorf("libreoffice conversion failed: %w: %s", err, strings.TrimSpace(string(out)))
		res := extract.Failed(e.Name(), job.MIMEType, err)
		res.Method = "libreoffice"
		return res, err
	}

	base := strings.TrimSuffix(filepath.Base(job.LocalPath), filepath.Ext(job.LocalPath))
	b, err := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if err != nil {
		res := extract.Failed(e.Name(), job.MIMEType, err)
		res.Method = "libreoffice"
		return res, err
	}

	text := strings.TrimSpace(string(b))
	words, chars := extract.BuildCounts(text)
	return extract.Result{Success: true, Text: text, Method: "libreoffice", FileType: e.Name(), MIMEType: job.MIMEType, WordCount: words, CharCount: chars}, nil
}
