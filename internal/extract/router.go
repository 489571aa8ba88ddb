package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/toricodesthings/compound-association-service/internal/logging"
)

type Options struct {
	MaxFileBytes    int64
	DownloadTimeout time.Duration
	AllowPrivate    bool
}

// SuccessHook observes every successful extraction.
type SuccessHook func(fileType string, fileSize int64, duration time.Duration)

type Router struct {
	registry *Registry
	opts     Options
	log      logging.Logger
	onOK     SuccessHook
}

func NewRouter(registry *Registry, opts Options, log logging.Logger) *Router {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 200 << 20
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 2 * time.Minute
	}
	return &Router{registry: registry, opts: opts, log: logging.OrNop(log).Named("extract")}
}

func (r *Router) SetSuccessHook(h SuccessHook) { r.onOK = h }

// Download stores a remote document under dir using the router's limits.
func (r *Router) Download(ctx context.Context, rawURL, dir, fileName string) (StoredFile, error) {
	return Download(ctx, rawURL, dir, fileName, r.opts.MaxFileBytes, r.opts.DownloadTimeout, r.opts.AllowPrivate)
}

// Save stores an uploaded document under dir using the router's size limit.
func (r *Router) Save(body io.Reader, dir, fileName string) (StoredFile, error) {
	return Save(body, dir, fileName, r.opts.MaxFileBytes)
}

// Supports reports whether some extractor is registered for path's extension
// or sniffed type.
func (r *Router) Supports(path string) bool {
	_, err := r.registry.Resolve(SniffMIMEType(path), filepath.Ext(path))
	return err == nil
}

// ExtractFile sniffs a local document, resolves its extractor and runs it
// over pages (1-based, nil for all).
func (r *Router) ExtractFile(ctx context.Context, path string, pages []int) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Failed("unknown", "", err), fmt.Errorf("stat document: %w", err)
	}
	mt := SniffMIMEType(path)
	ext := strings.ToLower(filepath.Ext(path))

	extractor, err := r.registry.Resolve(mt, ext)
	if err != nil {
		return Failed("unknown", mt, err), err
	}
	if max := extractor.MaxFileSize(); max > 0 && info.Size() > max {
		err := fmt.Errorf("file exceeds extractor limit (%dMB)", max/(1<<20))
		return Failed(extractor.Name(), mt, err), err
	}

	job := Job{
		LocalPath: path,
		FileName:  filepath.Base(path),
		MIMEType:  mt,
		FileSize:  info.Size(),
		Pages:     pages,
	}

	start := time.Now()
	res, err := extractor.Extract(ctx, job)
	if err != nil {
		if res.Error == nil {
			msg := err.Error()
			res.Error = &msg
		}
		res.Success = false
		if res.MIMEType == "" {
			res.MIMEType = mt
		}
		return res, err
	}

	res.Success = true
	if res.MIMEType == "" {
		res.MIMEType = mt
	}
	if res.CharCount == 0 && res.Text != "" {
		res.WordCount, res.CharCount = BuildCounts(res.Text)
	}
	elapsed := time.Since(start)
	r.log.Debug("document extracted",
		logging.String("document", job.FileName),
		logging.String("fileType", extractor.Name()),
		logging.Int("words", res.WordCount),
		logging.Int("tables", len(res.Tables)),
		logging.Duration("elapsed", elapsed))
	if r.onOK != nil {
		r.onOK(extractor.Name(), info.Size(), elapsed)
	}
	return res, nil
}
