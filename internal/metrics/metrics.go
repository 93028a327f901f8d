// Package metrics exposes reconciliation counters and histograms to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reconcile"

// Recorder records engine activity. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	runDuration      prometheus.Histogram
	chunksTotal      *prometheus.CounterVec
	chunkAttempts    prometheus.Histogram
	candidatesTotal  *prometheus.CounterVec
	assignmentsTotal *prometheus.CounterVec
	decisionsTotal   *prometheus.CounterVec
	similarityErrors prometheus.Counter
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Reconciliation runs by outcome.",
		},
		[]string{"outcome"},
	)
	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of reconciliation runs.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "chunks_total",
			Help:      "Processed chunks by status.",
		},
		[]string{"status"},
	)
	chunkAttempts := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "chunk_attempts",
			Help:      "Attempts needed per chunk.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		},
	)
	candidatesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scorer",
			Name:      "candidates_total",
			Help:      "Scored candidates above the confidence floor by tier.",
		},
		[]string{"tier"},
	)
	assignmentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "selector",
			Name:      "assignments_total",
			Help:      "Proposed assignments by tier.",
		},
		[]string{"tier"},
	)
	decisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "decisions_total",
			Help:      "Ledger decisions by kind and result.",
		},
		[]string{"decision", "result"},
	)
	similarityErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scorer",
			Name:      "similarity_errors_total",
			Help:      "Similarity provider calls that returned an error.",
		},
	)

	registry.MustRegister(runsTotal, runDuration, chunksTotal, chunkAttempts,
		candidatesTotal, assignmentsTotal, decisionsTotal, similarityErrors)

	return &Recorder{
		registry:         registry,
		runsTotal:        runsTotal,
		runDuration:      runDuration,
		chunksTotal:      chunksTotal,
		chunkAttempts:    chunkAttempts,
		candidatesTotal:  candidatesTotal,
		assignmentsTotal: assignmentsTotal,
		decisionsTotal:   decisionsTotal,
		similarityErrors: similarityErrors,
	}
}

// Registry returns the underlying registry.
func (m *Recorder) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Recorder) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finished run. Outcome is one of complete, partial, cancelled, or error.
func (m *Recorder) ObserveRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// ObserveChunk records one chunk's status and attempt count.
func (m *Recorder) ObserveChunk(status string, attempts int) {
	if m == nil {
		return
	}
	m.chunksTotal.WithLabelValues(status).Inc()
	if attempts > 0 {
		m.chunkAttempts.Observe(float64(attempts))
	}
}

// AddCandidate counts one candidate that survived the floor.
func (m *Recorder) AddCandidate(tier string) {
	if m == nil {
		return
	}
	m.candidatesTotal.WithLabelValues(tier).Inc()
}

// AddAssignment counts one proposed assignment.
func (m *Recorder) AddAssignment(tier string) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(tier).Inc()
}

// ObserveDecision counts an accept or reject call. Result is ok, conflict, not_found, or error.
func (m *Recorder) ObserveDecision(decision, result string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(decision, result).Inc()
}

// AddSimilarityError counts a failed similarity lookup.
func (m *Recorder) AddSimilarityError() {
	if m == nil {
		return
	}
	m.similarityErrors.Inc()
}
