// Package segment produces a directory of candidate structure images for a
// document.
package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/toricodesthings/compound-association-service/internal/imagestruct"
	"github.com/toricodesthings/compound-association-service/internal/logging"
)

type Mode string

const (
	ModePresegmented Mode = "presegmented"
	ModeBinary       Mode = "binary"
	ModeEmbedded     Mode = "embedded"
)

type Options struct {
	// Root holds <stem>/ directories of images segmented ahead of time.
	Root string
	// Binary is invoked as `Binary <pdf> <outdir>`.
	Binary  string
	Timeout time.Duration
}

type Segmenter struct {
	opts Options
	conf *model.Configuration
	log  logging.Logger
}

func New(opts Options, log logging.Logger) *Segmenter {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Segmenter{opts: opts, conf: conf, log: logging.OrNop(log).Named("segment")}
}

// Segment returns the directory holding the images for the document named
// stem. A pre-segmented directory wins, then the external binary, then the
// images embedded in pdfPath are extracted into outDir.
func (s *Segmenter) Segment(ctx context.Context, pdfPath, stem, outDir string) (string, Mode, error) {
	if dir, ok := s.presegmented(stem); ok {
		return dir, ModePresegmented, nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create segment dir: %w", err)
	}
	if s.opts.Binary != "" {
		if err := s.runBinary(ctx, pdfPath, outDir); err != nil {
			return "", ModeBinary, err
		}
		return outDir, ModeBinary, nil
	}
	if err := ctx.Err(); err != nil {
		return "", ModeEmbedded, err
	}
	if err := api.ExtractImagesFile(pdfPath, outDir, nil, s.conf); err != nil {
		return "", ModeEmbedded, fmt.Errorf("extract images: %w", err)
	}
	return outDir, ModeEmbedded, nil
}

func (s *Segmenter) presegmented(stem string) (string, bool) {
	if s.opts.Root == "" {
		return "", false
	}
	dir := filepath.Join(s.opts.Root, stem)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Type().IsRegular() && imagestruct.IsImage(e.Name()) {
			return dir, true
		}
	}
	return "", false
}

func (s *Segmenter) runBinary(ctx context.Context, pdfPath, outDir string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.opts.Binary, pdfPath, outDir)
	cmd.WaitDelay = 2 * time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("segmenter timed out after %s", s.opts.Timeout)
		}
		msg := strings.TrimSpace(string(out))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return fmt.Errorf("segmenter failed: %w: %s", err, msg)
	}
	s.log.Debug("segmenter finished", logging.String("document", pdfPath), logging.String("dir", outDir))
	return nil
}
