package automation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as metric labels.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	runs            *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	fetchRejections *prometheus.CounterVec
	scheduled       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Job executions by action kind and outcome",
			},
			[]string{"action", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of job executions",
				Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),
		fetchRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_rejections_total",
				Help:      "Failed fetch_url requests by reason",
			},
			[]string{"reason"},
		),
		scheduled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduled_jobs",
				Help:      "Number of jobs with a registered trigger",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.runs, m.duration, m.fetchRejections, m.scheduled)
	}
	return m
}

func (m *Metrics) observeRun(action, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) fetchRejected(reason string) {
	if m == nil {
		return
	}
	m.fetchRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) setScheduled(n int) {
	if m == nil {
		return
	}
	m.scheduled.Set(float64(n))
}
