// Package extractor wraps the poppler command-line tools used to read PDF
// text layers.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/toricodesthings/compound-association-service/internal/logging"
)

type Config struct {
	PDFInfoTimeout      time.Duration
	PDFToTextTimeout    time.Duration
	PDFToTextAllTimeout time.Duration
	// Binaries default to "pdfinfo" and "pdftotext" on PATH.
	PDFInfoBinary   string
	PDFToTextBinary string
}

func (c Config) withDefaults() Config {
	out := c
	if out.PDFInfoTimeout <= 0 {
		out.PDFInfoTimeout = 3 * time.Second
	}
	if out.PDFToTextTimeout <= 0 {
		out.PDFToTextTimeout = 10 * time.Second
	}
	if out.PDFToTextAllTimeout <= 0 {
		out.PDFToTextAllTimeout = 30 * time.Second
	}
	if out.PDFInfoBinary == "" {
		out.PDFInfoBinary = "pdfinfo"
	}
	if out.PDFToTextBinary == "" {
		out.PDFToTextBinary = "pdftotext"
	}
	return out
}

type PDFInfo struct {
	Pages     int
	Encrypted bool
	Raw       string
}

var (
	pageCountRegex = regexp.MustCompile(`(?m)^Pages:\s+(\d+)\s*$`)
	encryptedRegex = regexp.MustCompile(`(?mi)^Encrypted:\s+yes\s*$`)
)

// ErrPasswordProtected is returned when poppler reports an encrypted PDF.
var ErrPasswordProtected = errors.New("PDF is password protected")

// ErrDamaged is returned when poppler cannot parse the file.
var ErrDamaged = errors.New("PDF appears to be damaged or invalid")

const (
	maxPerPageBytes = 10<<20 + 1
	maxAllBytes     = 50<<20 + 1
)

type Poppler struct {
	cfg Config
	log logging.Logger
}

func New(cfg Config, log logging.Logger) *Poppler {
	return &Poppler{cfg: cfg.withDefaults(), log: logging.OrNop(log).Named("poppler")}
}

// Info runs pdfinfo once and extracts page count and encryption flag.
func (p *Poppler) Info(ctx context.Context, pdfPath string) (PDFInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PDFInfoTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.PDFInfoBinary, pdfPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return PDFInfo{}, p.classify("pdfinfo", err, ctx, stderr.String(), 0)
	}

	out := stdout.String()
	pages, err := parsePages(out)
	if err != nil {
		return PDFInfo{}, err
	}
	return PDFInfo{
		Pages:     pages,
		Encrypted: encryptedRegex.MatchString(out),
		Raw:       out,
	}, nil
}

func (p *Poppler) PageCount(ctx context.Context, pdfPath string) (int, error) {
	info, err := p.Info(ctx, pdfPath)
	if err != nil {
		return 0, err
	}
	return info.Pages, nil
}

// TextForPage extracts one page in reading order.
func (p *Poppler) TextForPage(ctx context.Context, pdfPath string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("invalid page number: %d (must be >= 1)", page)
	}
	return p.run(ctx, pdfPath, page, page, false, p.cfg.PDFToTextTimeout, maxPerPageBytes)
}

// LayoutForPage extracts one page preserving physical layout, so table
// columns stay separated by runs of spaces.
func (p *Poppler) LayoutForPage(ctx context.Context, pdfPath string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("invalid page number: %d (must be >= 1)", page)
	}
	return p.run(ctx, pdfPath, page, page, true, p.cfg.PDFToTextTimeout, maxPerPageBytes)
}

// TextForRange extracts first..last inclusive; zero bounds mean the whole
// document.
func (p *Poppler) TextForRange(ctx context.Context, pdfPath string, first, last int) (string, error) {
	return p.run(ctx, pdfPath, first, last, false, p.cfg.PDFToTextAllTimeout, maxAllBytes)
}

func (p *Poppler) run(ctx context.Context, pdfPath string, first, last int, layout bool, timeout time.Duration, limit int64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, 0, 10)
	if first > 0 {
		args = append(args, "-f", strconv.Itoa(first))
	}
	if last > 0 {
		args = append(args, "-l", strconv.Itoa(last))
	}
	if layout {
		args = append(args, "-layout")
	}
	args = append(args, "-nopgbrk", "-enc", "UTF-8", pdfPath, "-")

	cmd := exec.CommandContext(ctx, p.cfg.PDFToTextBinary, args...)
	text, stderrStr, err := runCommandCaptureLimited(cmd, limit)
	if err != nil {
		page := 0
		if first > 0 && first == last {
			page = first
		}
		return "", p.classify("pdftotext", err, ctx, stderrStr, page)
	}
	return text, nil
}

func parsePages(pdfinfoOut string) (int, error) {
	matches := pageCountRegex.FindStringSubmatch(pdfinfoOut)
	if len(matches) == 2 {
		n, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, fmt.Errorf("pdfinfo: invalid page count: %w", err)
		}
		return validatePages(n)
	}

	// Some builds pad or reorder the field.
	sc := bufio.NewScanner(strings.NewReader(pdfinfoOut))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(strings.ToLower(line), "pages:") {
			continue
		}
		fields := strings.Fields(line[len("Pages:"):])
		if len(fields) == 0 {
			break
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, fmt.Errorf("pdfinfo: invalid page count: %w", err)
		}
		return validatePages(n)
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("pdfinfo: scan failed: %w", err)
	}
	return 0, fmt.Errorf("pdfinfo: pages field not found in output")
}

func validatePages(count int) (int, error) {
	if count <= 0 || count > 50000 {
		return 0, fmt.Errorf("pdfinfo: unreasonable page count: %d", count)
	}
	return count, nil
}

var errOutputLimit = errors.New("output exceeds limit")

// runCommandCaptureLimited captures stdout up to maxBytes (a result of
// exactly maxBytes is treated as overflow) and all of stderr.
func runCommandCaptureLimited(cmd *exec.Cmd, maxBytes int64) (string, string, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start: %w", err)
	}

	outBytes, readErr := io.ReadAll(io.LimitReader(stdoutPipe, maxBytes))
	if int64(len(outBytes)) >= maxBytes {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()
	stderrStr := strings.TrimSpace(stderr.String())

	switch {
	case readErr != nil:
		return "", stderrStr, fmt.Errorf("read stdout: %w", readErr)
	case int64(len(outBytes)) >= maxBytes:
		return "", stderrStr, errOutputLimit
	case waitErr != nil:
		return "", stderrStr, waitErr
	}
	return string(outBytes), stderrStr, nil
}

// isHelpOrUsageOutput is true when stderr is a usage dump rather than a
// processing error.
func isHelpOrUsageOutput(stderr string) bool {
	return strings.Contains(stderr, "version ") && strings.Contains(stderr, "Usage:")
}

func (p *Poppler) classify(tool string, err error, ctx context.Context, stderr string, page int) error {
	where := tool
	if page > 0 {
		where = fmt.Sprintf("%s page %d", tool, page)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timeout: %w", where, ctx.Err())
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s canceled: %w", where, ctx.Err())
	}
	if errors.Is(err, errOutputLimit) {
		return fmt.Errorf("%s: extracted text too large", where)
	}

	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("%s failed: %w", where, err)
	}

	p.log.Debug("poppler stderr", logging.String("tool", tool), logging.Int("page", page), logging.String("stderr", truncate(stderr, 500)))

	switch {
	case isHelpOrUsageOutput(stderr):
		return fmt.Errorf("%s failed (bad invocation)", where)
	case containsAny(stderr, "Incorrect password"):
		return ErrPasswordProtected
	case containsAny(stderr, "PDF file is damaged", "Syntax Error", "Couldn't find trailer dictionary", "May not be a PDF file"):
		return ErrDamaged
	case strings.Contains(stderr, "I/O Error") && strings.Contains(stderr, "Couldn't open file"):
		return fmt.Errorf("%s: unable to open PDF", where)
	}
	return fmt.Errorf("%s failed: %s", where, truncate(stderr, 200))
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
