package gateway

import (
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Metrics       MetricsSnapshot `json:"metrics"`
	ScheduledJobs int             `json:"scheduled_jobs"`
	MaxJobsPerApp int             `json:"max_jobs_per_app"`
	Webhooks      int             `json:"webhook_sources"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Version:       g.version,
			UptimeSeconds: int64(time.Since(g.startedAt) / time.Second),
			Metrics:       g.metrics.Snapshot(),
			Webhooks:      g.dispatcher.Sources(),
		}
		if g.sched != nil {
			resp.ScheduledJobs = g.sched.ScheduledCount()
			resp.MaxJobsPerApp = g.sched.MaxJobsPerApp()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
