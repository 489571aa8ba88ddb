// Package app assembles the association pipeline and its collaborators from
// a Config. Both binaries build their fleet through it.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/toricodesthings/compound-association-service/internal/chemner"
	"github.com/toricodesthings/compound-association-service/internal/config"
	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/extractor"
	officeextractor "github.com/toricodesthings/compound-association-service/internal/extractors/office"
	pdfextractor "github.com/toricodesthings/compound-association-service/internal/extractors/pdf"
	plaintextextractor "github.com/toricodesthings/compound-association-service/internal/extractors/plaintext"
	structuredextractor "github.com/toricodesthings/compound-association-service/internal/extractors/structured"
	"github.com/toricodesthings/compound-association-service/internal/fleet"
	"github.com/toricodesthings/compound-association-service/internal/hybrid"
	"github.com/toricodesthings/compound-association-service/internal/ledger"
	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/metrics"
	"github.com/toricodesthings/compound-association-service/internal/ocr"
	"github.com/toricodesthings/compound-association-service/internal/opsin"
	"github.com/toricodesthings/compound-association-service/internal/pairing"
	"github.com/toricodesthings/compound-association-service/internal/pipeline"
	"github.com/toricodesthings/compound-association-service/internal/reconcile"
	"github.com/toricodesthings/compound-association-service/internal/segment"
	"github.com/toricodesthings/compound-association-service/internal/splitter"
	"github.com/toricodesthings/compound-association-service/internal/tables"
	"github.com/toricodesthings/compound-association-service/internal/vision"
)

type App struct {
	Config   config.Config
	Router   *extract.Router
	Pipeline *pipeline.Pipeline
	Fleet    *fleet.Fleet
	Metrics  *metrics.Metrics
	// Ledger is nil when no ledger path is configured.
	Ledger *ledger.Ledger
	OCR    *ocr.Cache
	log    logging.Logger
}

// New wires every component. reg may be nil, in which case no metrics are
// collected. extra observers see every fleet transition after the built-in
// ones.
func New(cfg config.Config, reg prometheus.Registerer, log logging.Logger, extra ...fleet.Observer) (*App, error) {
	log = logging.OrNop(log)
	a := &App{Config: cfg, log: log}

	ocr.SetConcurrencyLimit(cfg.MaxOCRConcurrent)
	a.OCR = ocr.NewCache(ocr.New(ocr.Options{
		APIKey: cfg.MistralAPIKey,
		APIURL: cfg.MistralAPIURL,
		Model:  cfg.DefaultOCRModel,
	}, log.Named("ocr")))

	poppler := extractor.New(extractor.Config{
		PDFInfoTimeout:      cfg.PDFInfoTimeout,
		PDFToTextTimeout:    cfg.PDFToTextTimeout,
		PDFToTextAllTimeout: cfg.PDFToTextAllTimeout,
	}, log)
	processor := hybrid.New(poppler, a.OCR, hybrid.Defaults{
		MinWordsThreshold: cfg.MinWordsPerPage,
		PageSeparator:     cfg.PageSeparator,
		OCRModel:          cfg.DefaultOCRModel,
		MaxPageWorkers:    cfg.MaxPageWorkers,
	}, log)
	engine := tables.NewChain(log,
		tables.NewLayout(poppler, log),
		tables.NewMarkdown(a.OCR, log),
	)

	registry := extract.NewRegistry()
	registry.Register(pdfextractor.New(processor, engine, cfg.MaxFileBytes, log))
	registry.Register(plaintextextractor.New(cfg.MaxFileBytes))
	registry.Register(plaintextextractor.NewHTML(cfg.MaxFileBytes))
	registry.Register(structuredextractor.NewCSV(cfg.MaxFileBytes))
	registry.Register(officeextractor.NewDOCX(cfg.MaxFileBytes))
	registry.Register(officeextractor.NewXLSX(cfg.MaxFileBytes))
	registry.Register(officeextractor.NewODF(cfg.MaxFileBytes))
	registry.Register(officeextractor.NewLegacy(cfg.LibreOfficeBinary, cfg.LibreOfficeTimeout, cfg.MaxFileBytes))

	a.Router = extract.NewRouter(registry, extract.Options{
		MaxFileBytes:    cfg.MaxFileBytes,
		DownloadTimeout: cfg.DownloadTimeout,
		AllowPrivate:    cfg.AllowPrivateDownloads,
	}, log)

	var hooks pipeline.Hooks
	var observers []fleet.Observer
	if reg != nil {
		a.Metrics = metrics.New(reg)
		hooks.Collaborator = a.Metrics.Collaborator
		hooks.GateEmpty = a.Metrics.GateEmpty
		observers = append(observers, a.Metrics)
		a.Router.SetSuccessHook(func(fileType string, _ int64, d time.Duration) {
			a.Metrics.Collaborator("text:"+fileType, d, nil)
		})
	}

	if cfg.LedgerPath != "" {
		l, err := ledger.Open(cfg.LedgerPath, log)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.Ledger = l
		observers = append(observers, l)
	}
	observers = append(observers, fleet.LogObserver(log))
	observers = append(observers, extra...)

	var names pairing.NameExtractor = chemner.NewLocal()
	if strings.TrimSpace(cfg.ChemNERURL) != "" {
		names = chemner.NewHTTP(cfg.ChemNERURL, cfg.ChemNERTimeout, log)
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Splitter: splitter.New(log),
		Text:     a.Router,
		OCR:      a.OCR,
		Names:    names,
		Structures: opsin.New(opsin.Options{
			BaseURL:   cfg.OPSINBaseURL,
			RateEvery: cfg.OPSINRateEvery,
			RateBurst: cfg.OPSINRateBurst,
			Timeout:   cfg.OPSINTimeout,
		}, log),
		Segmenter: segment.New(segment.Options{
			Root:    cfg.SegmentsRoot,
			Binary:  cfg.SegmenterBinary,
			Timeout: cfg.SegmenterTimeout,
		}, log),
		Recognizer: vision.New(vision.Options{
			APIKey:        cfg.OpenRouterAPIKey,
			APIURL:        cfg.OpenRouterAPIURL,
			Model:         cfg.RecognitionModel,
			Timeout:       cfg.RecognitionTimeout,
			MaxConcurrent: cfg.MaxRecognitionConcurrent,
		}, log),
		Hooks: hooks,
	}, pipeline.Options{
		OutputDir:           cfg.OutputDir,
		WorkspaceRoot:       cfg.WorkspaceRoot,
		KeepWorkspace:       cfg.KeepWorkspace,
		Table:               reconcile.TableOptions{ActivityType: cfg.ActivityType, ActivityUnit: cfg.ActivityUnit},
		ImageConcurrency:    int(cfg.MaxRecognitionConcurrent),
		CollaboratorTimeout: cfg.CollaboratorTimeout,
	}, log)

	a.Fleet = fleet.New(a.Pipeline, fleet.Options{Workers: cfg.Workers}, log, observers...)
	return a, nil
}

// Warnings lists missing optional credentials.
func (a *App) Warnings() []string {
	var out []string
	if strings.TrimSpace(a.Config.MistralAPIKey) == "" {
		out = append(out, "MISTRAL_API_KEY not set (scanned pages keep their thin text layer)")
	}
	if strings.TrimSpace(a.Config.OpenRouterAPIKey) == "" {
		out = append(out, "OPENROUTER_API_KEY not set (structure images will not be recognized)")
	}
	if strings.TrimSpace(a.Config.ChemNERURL) == "" {
		out = append(out, "CHEMNER_URL not set (using the local name heuristic)")
	}
	return out
}

func (a *App) Close() error {
	if a.Ledger != nil {
		return a.Ledger.Close()
	}
	return nil
}
