// Package imagestruct turns segmented structure images into line notations
// through an image recognizer.
package imagestruct

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/toricodesthings/compound-association-service/internal/identifier"
	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

// Recognizer returns the line notation for the structure drawn in one image.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

type RecognizerFunc func(ctx context.Context, imagePath string) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, imagePath string) (string, error) {
	return f(ctx, imagePath)
}

type Prediction struct {
	Image    string
	Notation string
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// IsImage reports whether name has an extension the extractor reads.
func IsImage(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

type Options struct {
	// Concurrency bounds in-flight recognitions. Values below 1 mean 1.
	Concurrency int
}

type Extractor struct {
	rec  Recognizer
	opts Options
	log  logging.Logger
}

func New(rec Recognizer, opts Options, log logging.Logger) *Extractor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Extractor{rec: rec, opts: opts, log: logging.OrNop(log)}
}

// Extract recognizes every image in dir and returns predictions sorted by
// image name. Images whose recognition fails are skipped. An unreadable
// directory is the only error.
func (e *Extractor) Extract(ctx context.Context, dir string) ([]Prediction, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read segment dir: %w", err)
	}
	var names []string
	for _, ent := range entries {
		if ent.Type().IsRegular() && IsImage(ent.Name()) {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	results := make([]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, name := range names {
		g.Go(func() error {
			notation, err := e.rec.Recognize(gctx, filepath.Join(dir, name))
			if err != nil {
				e.log.Warn("structure recognition failed", logging.String("collaborator", "recognizer"), logging.String("item", name), logging.Err(err))
				return nil
			}
			results[i] = strings.TrimSpace(notation)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Prediction, 0, len(names))
	for i, name := range names {
		if results[i] == "" {
			continue
		}
		out = append(out, Prediction{Image: name, Notation: results[i]})
	}
	return out, nil
}

// Records emits a structure record for each prediction whose image name
// carries an identifier. Other predictions only reach the artifact.
func Records(preds []Prediction) []types.ExtractionRecord {
	var out []types.ExtractionRecord
	for _, p := range preds {
		id, ok := identifier.FromFileName(p.Image)
		if !ok {
			continue
		}
		out = append(out, types.ExtractionRecord{
			Identifier: id,
			Field:      types.FieldStructure,
			Value:      p.Notation,
			Source:     types.SourceImage,
		})
	}
	return out
}

// WriteCSV writes one "image,notation" row per prediction.
func WriteCSV(w io.Writer, preds []Prediction) error {
	cw := csv.NewWriter(w)
	for _, p := range preds {
		if err := cw.Write([]string{p.Image, p.Notation}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
