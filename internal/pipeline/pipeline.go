// Package pipeline runs the three extractors over one document's page range,
// applies the association gate, and writes the reconciled table.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toricodesthings/compound-association-service/internal/activity"
	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/imagestruct"
	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/normalize"
	"github.com/toricodesthings/compound-association-service/internal/ocr"
	"github.com/toricodesthings/compound-association-service/internal/output"
	"github.com/toricodesthings/compound-association-service/internal/pairing"
	"github.com/toricodesthings/compound-association-service/internal/reconcile"
	"github.com/toricodesthings/compound-association-service/internal/segment"
	"github.com/toricodesthings/compound-association-service/internal/tables"
	"github.com/toricodesthings/compound-association-service/internal/types"
	"github.com/toricodesthings/compound-association-service/internal/workspace"
)

// ErrNotAssociated is returned, wrapped in a *GateError, when at least one
// extractor contributed nothing.
var ErrNotAssociated = reconcile.ErrNotAssociated

type GateError struct {
	Document string
	Empty    []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %v (empty: %s)", e.Document, ErrNotAssociated, strings.Join(e.Empty, ", "))
}

func (e *GateError) Unwrap() error { return ErrNotAssociated }

type Splitter interface {
	Split(ctx context.Context, src string, rng types.PageRange, dstDir string) (string, types.PageRange, error)
}

type TextSource interface {
	ExtractFile(ctx context.Context, path string, pages []int) (extract.Result, error)
}

type StructureTranslator interface {
	Structures(ctx context.Context, pairs []pairing.Pair) []types.ExtractionRecord
}

type Segmenter interface {
	Segment(ctx context.Context, pdfPath, stem, outDir string) (string, segment.Mode, error)
}

// Hooks receive pipeline events. Both are optional.
type Hooks struct {
	Collaborator func(name string, d time.Duration, err error)
	GateEmpty    func(empty []string)
}

type Deps struct {
	Splitter   Splitter
	Text       TextSource
	OCR        ocr.Runner
	Names      pairing.NameExtractor
	Structures StructureTranslator
	Segmenter  Segmenter
	Recognizer imagestruct.Recognizer
	Hooks      Hooks
}

type Options struct {
	OutputDir           string
	WorkspaceRoot       string
	KeepWorkspace       bool
	Table               reconcile.TableOptions
	ImageConcurrency    int
	CollaboratorTimeout time.Duration
}

// Report describes one finished document.
type Report struct {
	Document      string
	Range         types.PageRange
	Contributions reconcile.Contributions
	Rows          int
	Artifacts     []string
}

type Pipeline struct {
	deps   Deps
	opts   Options
	pairer *pairing.Pairer
	images *imagestruct.Extractor
	log    logging.Logger
}

func New(deps Deps, opts Options, log logging.Logger) *Pipeline {
	log = logging.OrNop(log).Named("pipeline")
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	names := withTimeout(deps.Names, "chemner", opts.CollaboratorTimeout, deps.Hooks.Collaborator)
	rec := recognizerWithTimeout(deps.Recognizer, "recognizer", opts.CollaboratorTimeout, deps.Hooks.Collaborator)
	return &Pipeline{
		deps:   deps,
		opts:   opts,
		pairer: pairing.New(names, log),
		images: imagestruct.New(rec, imagestruct.Options{Concurrency: opts.ImageConcurrency}, log),
		log:    log,
	}
}

// Process satisfies fleet.Processor.
func (p *Pipeline) Process(ctx context.Context, job types.DocumentJob) error {
	_, err := p.Run(ctx, job)
	return err
}

// Run processes one job. A gate failure returns the per-extractor artifacts
// already written together with a *GateError.
func (p *Pipeline) Run(ctx context.Context, job types.DocumentJob) (Report, error) {
	stem := strings.TrimSuffix(filepath.Base(job.FilePath), filepath.Ext(job.FilePath))
	report := Report{Document: job.FilePath}
	log := p.log.With(logging.String("job", job.ID), logging.String("document", stem))

	ws, err := workspace.New(p.opts.WorkspaceRoot, stem, p.opts.KeepWorkspace)
	if err != nil {
		return report, err
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			log.Warn("workspace cleanup failed", logging.String("dir", ws.Root()), logging.Err(err))
		}
	}()

	rangePath, rng, err := p.deps.Splitter.Split(ctx, job.FilePath, job.PageRange, ws.Root())
	if err != nil {
		return report, fmt.Errorf("split %s: %w", stem, err)
	}
	report.Range = rng
	if f, ok := p.deps.OCR.(interface{ Forget(string) }); ok {
		defer f.Forget(rangePath)
	}

	text := sync.OnceValues(func() (extract.Result, error) {
		return p.deps.Text.ExtractFile(ctx, rangePath, nil)
	})

	var (
		acts  activity.Mapping
		pairs []pairing.Pair
		preds []imagestruct.Prediction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		acts = p.activity(gctx, ws, rangePath, text, log)
		return nil
	})
	g.Go(func() error {
		pairs = p.names(gctx, text, log)
		return nil
	})
	g.Go(func() error {
		preds = p.structures(gctx, ws, rangePath, stem, log)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	base := fmt.Sprintf("%s_%d_%d", stem, rng.Start, rng.End)
	writes := []struct {
		name  string
		write func(io.Writer) error
	}{
		{base + "_activity.csv", func(w io.Writer) error { return activity.WriteCSV(w, acts) }},
		{stem + "_iupac.csv", func(w io.Writer) error { return pairing.WriteCSV(w, pairs) }},
		{fmt.Sprintf("%s_pages_%d_%d_prediction.csv", stem, rng.Start, rng.End), func(w io.Writer) error { return imagestruct.WriteCSV(w, preds) }},
	}
	for _, a := range writes {
		path, err := writeFile(p.opts.OutputDir, a.name, a.write)
		if err != nil {
			return report, err
		}
		report.Artifacts = append(report.Artifacts, path)
	}

	report.Contributions = reconcile.Contributions{Activity: len(acts), Names: len(pairs), Structures: len(preds)}
	if empty := report.Contributions.Empty(); len(empty) > 0 {
		log.Warn("document not associated", logging.Any("empty", empty))
		if p.deps.Hooks.GateEmpty != nil {
			p.deps.Hooks.GateEmpty(empty)
		}
		return report, &GateError{Document: stem, Empty: empty}
	}

	var structures []types.ExtractionRecord
	if p.deps.Structures != nil {
		structures = append(structures, p.deps.Structures.Structures(ctx, pairs)...)
	}
	structures = append(structures, imagestruct.Records(preds)...)

	table := reconcile.Reconcile(acts, pairs, structures)
	report.Rows = len(table.Rows)

	path, err := writeFile(p.opts.OutputDir, base+"_association.csv", func(w io.Writer) error {
		return reconcile.WriteTable(w, table, p.opts.Table)
	})
	if err != nil {
		return report, err
	}
	report.Artifacts = append(report.Artifacts, path)

	if path, err := output.Write(p.opts.OutputDir, base, job.OutputFormat, table, p.opts.Table); err != nil {
		return report, err
	} else if path != "" {
		report.Artifacts = append(report.Artifacts, path)
	}

	log.Info("document associated",
		logging.String("range", rng.String()),
		logging.Int("rows", report.Rows),
		logging.Int("complete", len(table.Complete())))
	return report, nil
}

// activity tries table rows, then the normalized text layer, then OCR lines.
func (p *Pipeline) activity(ctx context.Context, ws *workspace.Workspace, rangePath string, text func() (extract.Result, error), log logging.Logger) activity.Mapping {
	res, err := text()
	if err != nil {
		log.Info("no text for activity", logging.Err(err))
	}

	if len(res.Tables) > 0 {
		lines, err := tables.WorkbookLines(ws.Path("tables.xlsx"), res.Tables)
		if err != nil {
			log.Warn("table workbook failed", logging.Err(err))
		} else if m := activity.ExtractTable(lines); len(m) > 0 {
			return m
		}
	}

	if m := activity.ExtractText(normalize.Lines(normalize.Normalize(res.Text))); len(m) > 0 {
		return m
	}

	if p.deps.OCR != nil && p.deps.OCR.Configured() {
		start := time.Now()
		resp, err := p.deps.OCR.RunDocument(ctx, rangePath, nil)
		p.observe("ocr", start, err)
		if err != nil {
			log.Warn("ocr activity fallback failed", logging.String("collaborator", "ocr"), logging.Err(err))
			return activity.Mapping{}
		}
		if m := activity.ExtractLoose(resp.Lines()); len(m) > 0 {
			return m
		}
	}

	log.Info("no activity rows found")
	return activity.Mapping{}
}

// names pairs identifiers with compound names from table columns followed by
// the canonical text.
func (p *Pipeline) names(ctx context.Context, text func() (extract.Result, error), log logging.Logger) []pairing.Pair {
	res, err := text()
	if err != nil {
		log.Info("no text for name pairing", logging.Err(err))
		return nil
	}

	var b strings.Builder
	for _, t := range res.Tables {
		for _, l := range normalize.TableColumns(t.Rows) {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	b.WriteString(res.Text)

	pairs := p.pairer.Pair(ctx, normalize.Lines(normalize.Normalize(b.String())))
	if len(pairs) == 0 {
		log.Info("no compound names paired")
	}
	return pairs
}

func (p *Pipeline) structures(ctx context.Context, ws *workspace.Workspace, rangePath, stem string, log logging.Logger) []imagestruct.Prediction {
	if p.deps.Segmenter == nil {
		return nil
	}
	start := time.Now()
	dir, mode, err := p.deps.Segmenter.Segment(ctx, rangePath, stem, ws.Path("segments"))
	p.observe("segmenter", start, err)
	if err != nil {
		log.Warn("segmentation failed", logging.String("collaborator", "segmenter"), logging.String("item", stem), logging.Err(err))
		return nil
	}
	preds, err := p.images.Extract(ctx, dir)
	if err != nil {
		log.Warn("structure images unreadable", logging.String("dir", dir), logging.Err(err))
		return nil
	}
	if len(preds) == 0 {
		log.Info("no structures recognized", logging.String("mode", string(mode)))
	}
	return preds
}

func (p *Pipeline) observe(name string, start time.Time, err error) {
	if p.deps.Hooks.Collaborator != nil {
		p.deps.Hooks.Collaborator(name, time.Since(start), err)
	}
}

func writeFile(dir, name string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("output dir: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	w := bufio.NewWriter(f)
	err = write(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// IsGateFailure reports whether err is a gate failure.
func IsGateFailure(err error) bool { return errors.Is(err, ErrNotAssociated) }
