package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for fan-out jobs.
type Metrics struct {
	Jobs          *prometheus.CounterVec
	Entries       *prometheus.CounterVec
	ChunkFailures *prometheus.CounterVec
	Targets       *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "jobs_total",
				Help:      "Fan-out jobs by kind and terminal state",
			},
			[]string{"kind", "state"},
		),
		Entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "entries_total",
				Help:      "Feed entries written or deleted by committed chunks",
			},
			[]string{"kind"},
		),
		ChunkFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "chunk_failures_total",
				Help:      "Chunks whose transaction failed",
			},
			[]string{"kind"},
		),
		Targets: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "feed",
				Name:      "job_targets",
				Help:      "Feed entries targeted per job",
				Buckets:   []float64{0, 1, 10, 25, 100, 250, 500, 1000},
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Jobs, m.Entries, m.ChunkFailures, m.Targets)
	}
	return m
}

func (m *Metrics) observe(job *Job) {
	if m == nil {
		return
	}
	kind := string(job.Kind)
	m.Jobs.WithLabelValues(kind, string(job.State)).Inc()
	m.Entries.WithLabelValues(kind).Add(float64(job.Entries))
	m.Targets.WithLabelValues(kind).Observe(float64(job.Targets))
	if job.State == StatePartiallyFailed && job.Chunks > 0 {
		m.ChunkFailures.WithLabelValues(kind).Inc()
	}
}
