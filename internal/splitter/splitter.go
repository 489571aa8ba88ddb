// Package splitter cuts a page range out of a PDF.
package splitter

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

// PDFCPU splits with pdfcpu using relaxed validation, since patent scans
// are often slightly malformed.
type PDFCPU struct {
	conf *model.Configuration
	log  logging.Logger
}

func New(log logging.Logger) *PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFCPU{conf: conf, log: logging.OrNop(log).Named("splitter")}
}

func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func (s *PDFCPU) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return n, nil
}

// Split writes pages rng of src to dstDir/<stem>_extracted.pdf and returns
// that path with the resolved range. Documents that are not PDFs have a
// single logical page and are returned unchanged.
func (s *PDFCPU) Split(ctx context.Context, src string, rng types.PageRange, dstDir string) (string, types.PageRange, error) {
	if err := ctx.Err(); err != nil {
		return "", types.PageRange{}, err
	}
	if !IsPDF(src) {
		if rng.All {
			rng = types.PageRange{Start: 1, End: 1}
		}
		return src, rng, nil
	}

	count, err := s.PageCount(src)
	if err != nil {
		return "", types.PageRange{}, err
	}
	resolved, err := rng.Resolve(count)
	if err != nil {
		return "", types.PageRange{}, err
	}

	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	dst := filepath.Join(dstDir, stem+"_extracted.pdf")
	sel := []string{fmt.Sprintf("%d-%d", resolved.Start, resolved.End)}
	if err := api.TrimFile(src, dst, sel, s.conf); err != nil {
		return "", types.PageRange{}, fmt.Errorf("trim %s: %w", sel[0], err)
	}

	s.log.Debug("range extracted",
		logging.String("document", src),
		logging.String("range", resolved.String()),
		logging.Int("pages", count))
	return dst, resolved, nil
}
