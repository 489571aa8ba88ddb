// Package metrics exposes Prometheus collectors for the fleet and its
// external collaborators.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/toricodesthings/compound-association-service/internal/fleet"
)

const namespace = "association"

var jobDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}

type Metrics struct {
	jobsTotal     *prometheus.CounterVec
	jobsPending   prometheus.Gauge
	jobsActive    prometheus.Gauge
	jobDuration   prometheus.Histogram
	collabCalls   *prometheus.CounterVec
	collabLatency *prometheus.HistogramVec
	gateEmpty     *prometheus.CounterVec

	mu      sync.Mutex
	started map[string]time.Time
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished document jobs by outcome.",
		}, []string{"outcome"}),
		jobsPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_pending",
			Help:      "Jobs queued and not yet claimed by a worker.",
		}),
		jobsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_progress",
			Help:      "Jobs currently being processed.",
		}),
		jobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from claim to completion.",
			Buckets:   jobDurationBuckets,
		}),
		collabCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Calls to external collaborators by result.",
		}, []string{"collaborator", "result"}),
		collabLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_duration_seconds",
			Help:      "Latency of external collaborator calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collaborator"}),
		gateEmpty: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_empty_total",
			Help:      "Association gate failures by empty extractor.",
		}, []string{"extractor"}),
		started: make(map[string]time.Time),
	}
}

// Observe implements fleet.Observer.
func (m *Metrics) Observe(e fleet.Event) {
	switch e.To {
	case fleet.StatePending:
		m.jobsPending.Inc()
	case fleet.StateInProgress:
		m.jobsPending.Dec()
		m.jobsActive.Inc()
		m.mu.Lock()
		m.started[e.Job.ID] = e.At
		m.mu.Unlock()
	case fleet.StateDone:
		m.jobsActive.Dec()
		m.jobsTotal.WithLabelValues(string(e.Outcome)).Inc()
		m.mu.Lock()
		start, ok := m.started[e.Job.ID]
		delete(m.started, e.Job.ID)
		m.mu.Unlock()
		if ok {
			m.jobDuration.Observe(e.At.Sub(start).Seconds())
		}
	}
}

// Collaborator records one call to an external collaborator.
func (m *Metrics) Collaborator(name string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.collabCalls.WithLabelValues(name, result).Inc()
	m.collabLatency.WithLabelValues(name).Observe(d.Seconds())
}

// GateEmpty records which extractors came back empty for a document.
func (m *Metrics) GateEmpty(extractors []string) {
	for _, x := range extractors {
		m.gateEmpty.WithLabelValues(x).Inc()
	}
}
