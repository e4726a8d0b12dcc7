package gateway

import "sync/atomic"

// Metrics tracks gateway-level counters using atomic operations for lock-free concurrency.
type Metrics struct {
	dataWrites    atomic.Int64
	triggeredRuns atomic.Int64
	jobsSubmitted atomic.Int64
	jobsRejected  atomic.Int64
	rateLimited   atomic.Int64
	errors        atomic.Int64
}

// RecordDataWrite records an accepted data point and the number of jobs it triggered.
func (m *Metrics) RecordDataWrite(triggered int) {
	m.dataWrites.Add(1)
	m.triggeredRuns.Add(int64(triggered))
}

// RecordJobs records the outcome of one job submission batch.
func (m *Metrics) RecordJobs(created, rejected int) {
	m.jobsSubmitted.Add(int64(created))
	m.jobsRejected.Add(int64(rejected))
}

// RecordRateLimited records a request refused by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Add(1)
}

// RecordError records a processing error.
func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		DataWrites:    m.dataWrites.Load(),
		TriggeredRuns: m.triggeredRuns.Load(),
		JobsSubmitted: m.jobsSubmitted.Load(),
		JobsRejected:  m.jobsRejected.Load(),
		RateLimited:   m.rateLimited.Load(),
		Errors:        m.errors.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	DataWrites    int64 `json:"data_writes"`
	TriggeredRuns int64 `json:"triggered_runs"`
	JobsSubmitted int64 `json:"jobs_submitted"`
	JobsRejected  int64 `json:"jobs_rejected"`
	RateLimited   int64 `json:"rate_limited"`
	Errors        int64 `json:"errors"`
}
