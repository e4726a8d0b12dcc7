package gateway

import "net/http"

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status        string `json:"status"` // "ok" or "degraded"
	ScheduledJobs int    `json:"scheduled_jobs"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when the automation engine is bound, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if g.sched == nil {
			resp.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.ScheduledJobs = g.sched.ScheduledCount()
		writeJSON(w, http.StatusOK, resp)
	}
}
