package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/toricodesthings/compound-association-service/internal/config"
	"github.com/toricodesthings/compound-association-service/internal/extract"
	"github.com/toricodesthings/compound-association-service/internal/fleet"
	"github.com/toricodesthings/compound-association-service/internal/ledger"
	"github.com/toricodesthings/compound-association-service/internal/logging"
	"github.com/toricodesthings/compound-association-service/internal/types"
)

// Submitter is the part of the fleet the handlers use.
type Submitter interface {
	Submit(job types.DocumentJob) (types.DocumentJob, error)
	Status(id string) (fleet.Status, bool)
	Pending() int
}

// DocumentStore brings a job's document into the inbox.
type DocumentStore interface {
	Download(ctx context.Context, rawURL, dir, fileName string) (extract.StoredFile, error)
	Save(body io.Reader, dir, fileName string) (extract.StoredFile, error)
	Supports(path string) bool
}

type submitRequest struct {
	DocumentURL  string `json:"documentUrl"`
	FileName     string `json:"fileName"`
	Range        string `json:"range"`
	OutputFormat string `json:"outputFormat"`
}

type submitResponse struct {
	ID    string      `json:"id"`
	State fleet.State `json:"state"`
}

type server struct {
	cfg      config.Config
	fleet    Submitter
	docs     DocumentStore
	ledger   *ledger.Ledger
	gatherer prometheus.Gatherer
	log      logging.Logger

	requestSem *semaphore.Weighted
	// Per-IP rate limiters
	limiters *sync.Map

	inFlight prometheus.Gauge
	requests *prometheus.CounterVec
}

// newServer builds the handler set. lg may be nil when no ledger is kept.
func newServer(cfg config.Config, f Submitter, docs DocumentStore, lg *ledger.Ledger, reg *prometheus.Registry, log logging.Logger) *server {
	factory := promauto.With(reg)
	return &server{
		cfg:        cfg,
		fleet:      f,
		docs:       docs,
		ledger:     lg,
		gatherer:   reg,
		log:        logging.OrNop(log).Named("http"),
		requestSem: semaphore.NewWeighted(max(cfg.MaxConcurrentRequests, 1)),
		limiters:   &sync.Map{},
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "association",
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "association",
			Name:      "http_requests_total",
			Help:      "HTTP requests by status code and method.",
		}, []string{"code", "method"}),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.withInternalAuth(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP))

	mux.HandleFunc("/jobs",
		s.withInternalAuth(
			s.withRateLimit(
				withMethod("POST",
					s.withConcurrencyLimit(s.handleSubmit)))))

	mux.HandleFunc("/jobs/",
		s.withInternalAuth(
			s.withRateLimit(
				withMethod("GET", s.handleStatus))))

	h := promhttp.InstrumentHandlerInFlight(s.inFlight,
		promhttp.InstrumentHandlerCounter(s.requests, mux))
	return s.withLogging(s.withRecovery(h))
}

func (s *server) cleanupRateLimiters(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log.Debug("resetting rate limiters", logging.Int("pending", s.fleet.Pending()))
			s.limiters.Range(func(k, _ any) bool {
				s.limiters.Delete(k)
				return true
			})
		}
	}
}

// ---------- Handlers ----------

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"pending": s.fleet.Pending(),
	})
}

// handleSubmit accepts either a JSON body naming a document URL, or the raw
// document bytes with fileName, range and outputFormat as query parameters.
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	upload := !isJSON(r.Header.Get("Content-Type"))
	if upload {
		q := r.URL.Query()
		req = submitRequest{FileName: q.Get("fileName"), Range: q.Get("range"), OutputFormat: q.Get("outputFormat")}
	} else {
		var err error
		req, err = parseJSON[submitRequest](r, s.cfg.MaxJSONBodyBytes)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
			return
		}
		if strings.TrimSpace(req.DocumentURL) == "" {
			writeErr(w, http.StatusBadRequest, "validation_failed", "documentUrl required")
			return
		}
	}

	rng, err := types.ParseRange(req.Range)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_failed", sanitizeError(err))
		return
	}
	format := types.OutputFormat(s.cfg.OutputFormat)
	if strings.TrimSpace(req.OutputFormat) != "" {
		if format, err = types.ParseOutputFormat(req.OutputFormat); err != nil {
			writeErr(w, http.StatusBadRequest, "validation_failed", sanitizeError(err))
			return
		}
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "document.pdf"
	}

	id := uuid.NewString()
	dir := filepath.Join(s.cfg.InboxDir, id)
	var stored extract.StoredFile
	if upload {
		stored, err = s.docs.Save(r.Body, dir, fileName)
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DownloadTimeout+5*time.Second)
		stored, err = s.docs.Download(ctx, req.DocumentURL, dir, fileName)
		cancel()
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		writeErr(w, http.StatusBadRequest, "document_failed", sanitizeError(err))
		return
	}
	if !s.docs.Supports(stored.Path) {
		_ = os.RemoveAll(dir)
		writeErr(w, http.StatusUnsupportedMediaType, "unsupported", "unsupported document type "+stored.MIMEType)
		return
	}

	job, err := s.fleet.Submit(types.DocumentJob{ID: id, FilePath: stored.Path, PageRange: rng, OutputFormat: format})
	if err != nil {
		_ = os.RemoveAll(dir)
		status := http.StatusConflict
		if errors.Is(err, fleet.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		writeErr(w, status, "rejected", sanitizeError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ID: job.ID, State: fleet.StatePending})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/")
	if id == "" {
		s.handleList(w, r)
		return
	}
	if s.ledger != nil {
		e, err := s.ledger.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, e)
			return
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			writeErr(w, http.StatusInternalServerError, "ledger", sanitizeError(err))
			return
		}
	}
	st, ok := s.fleet.Status(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "not_found", "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeErr(w, http.StatusNotFound, "not_found", "job ledger disabled")
		return
	}
	entries, err := s.ledger.List(r.Context(), 100)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "ledger", sanitizeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": entries})
}

// ---------- Middleware ----------

func withMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method must be "+method)
			return
		}
		next(w, r)
	}
}

func (s *server) withInternalAuth(next http.HandlerFunc) http.HandlerFunc {
	shared := s.cfg.InternalSharedSecret
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Auth")
		if shared == "" || subtle.ConstantTimeCompare([]byte(got), []byte(shared)) != 1 {
			writeErr(w, http.StatusUnauthorized, "unauthorized", "Invalid authentication")
			return
		}
		next(w, r)
	}
}

func (s *server) withConcurrencyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requestSem.TryAcquire(1) {
			writeErr(w, http.StatusServiceUnavailable, "capacity", "Service at capacity")
			return
		}
		defer s.requestSem.Release(1)
		next(w, r)
	}
}

func (s *server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.getRateLimiter(getClientIP(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			writeErr(w, http.StatusTooManyRequests, "rate_limit", "Rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("panic", logging.Any("panic", err), logging.String("path", sanitizeLogString(r.URL.Path)))
				writeErr(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			logging.String("method", r.Method),
			logging.String("path", sanitizeLogString(r.URL.Path)),
			logging.Int("status", ww.status),
			logging.Duration("duration", time.Since(start)))
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ---------- Helpers ----------

func (s *server) getRateLimiter(ip string) *rate.Limiter {
	if v, ok := s.limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}

	every := s.cfg.RateLimitEvery
	if every <= 0 {
		every = 600 * time.Millisecond // ~100/min
	}
	burst := s.cfg.RateLimitBurst
	if burst <= 0 {
		burst = 20
	}

	v, _ := s.limiters.LoadOrStore(ip, rate.NewLimiter(rate.Every(every), burst))
	return v.(*rate.Limiter)
}

func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func parseJSON[T any](r *http.Request, limit int64) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, err
	}

	// Ensure there's nothing else after the first JSON value
	if err := dec.Decode(new(any)); err != io.EOF {
		if err == nil {
			return out, fmt.Errorf("unexpected trailing data")
		}
		return out, err
	}

	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}
