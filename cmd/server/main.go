package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/toricodesthings/compound-association-service/internal/app"
	"github.com/toricodesthings/compound-association-service/internal/config"
	"github.com/toricodesthings/compound-association-service/internal/fleet"
	"github.com/toricodesthings/compound-association-service/internal/logging"
)

func main() {
	cfg := config.Load()
	if err := cfg.ValidateServer(); err != nil {
		panic(err)
	}
	if cfg.InboxDir == "" {
		cfg.InboxDir = filepath.Join(os.TempDir(), "association-inbox")
	}
	if err := os.MkdirAll(cfg.InboxDir, 0o755); err != nil {
		panic(err)
	}

	log, err := logging.NewLogger(logging.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	logging.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(cfg, reg, log, inboxCleaner(cfg.InboxDir, log))
	if err != nil {
		logging.Fatalf(log, "build app: %v", err)
	}
	defer func() { _ = a.Close() }()
	for _, w := range a.Warnings() {
		log.Warn(w)
	}

	a.Fleet.Start(context.Background())

	s := newServer(cfg, a.Fleet, a.Router, a.Ledger, reg, log)

	maxHeaderBytes := 1 << 20
	if cfg.MaxHeaderBytes > 0 {
		maxHeaderBytes = cfg.MaxHeaderBytes
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go s.cleanupRateLimiters(ctx)

	go func() {
		log.Info("association service listening",
			logging.String("addr", srv.Addr),
			logging.Int("workers", cfg.Workers),
			logging.Int64("maxConcurrent", cfg.MaxConcurrentRequests))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatalf(log, "listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down", logging.Int("pending", a.Fleet.Pending()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", logging.Err(err))
	}

	a.Fleet.Close()
	done := make(chan fleet.Summary, 1)
	go func() { done <- a.Fleet.Wait() }()
	select {
	case sum := <-done:
		log.Info("fleet drained",
			logging.Int("done", sum.Done),
			logging.Int("associated", sum.Associated),
			logging.Int("failed", sum.Failed))
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("fleet drain timed out", logging.Int("pending", a.Fleet.Pending()))
	}
}

// inboxCleaner removes a job's inbox directory once the job is done.
func inboxCleaner(inbox string, log logging.Logger) fleet.Observer {
	log = logging.OrNop(log)
	return fleet.ObserverFunc(func(e fleet.Event) {
		if e.To != fleet.StateDone || e.Job.ID == "" {
			return
		}
		if err := os.RemoveAll(filepath.Join(inbox, e.Job.ID)); err != nil {
			log.Warn("inbox cleanup failed", logging.String("job", e.Job.ID), logging.Err(err))
		}
	})
}
