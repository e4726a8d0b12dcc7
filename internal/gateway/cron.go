package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/flemzord/appcraft/internal/cron"
)

const (
	defaultPreviewCount = 5
	maxPreviewCount     = 50
)

// SchedulePreview lists the upcoming runs of a cron expression.
type SchedulePreview struct {
	Expression string      `json:"expression"`
	Valid      bool        `json:"valid"`
	Error      string      `json:"error,omitempty"`
	Runs       []time.Time `json:"runs"`
}

// previewSchedule validates expr and computes up to count runs after now.
func previewSchedule(expr string, count int, now time.Time) SchedulePreview {
	switch {
	case count <= 0:
		count = defaultPreviewCount
	case count > maxPreviewCount:
		count = maxPreviewCount
	}

	p := SchedulePreview{Expression: expr, Runs: []time.Time{}}
	e, err := cron.Validate(expr)
	if err != nil {
		p.Error = err.Error()
		return p
	}
	p.Valid = true
	if runs := e.NextRuns(now.UTC(), count); runs != nil {
		p.Runs = runs
	}
	return p
}

// handleCronNext handles GET /api/cron/next?expr=...&count=N.
func (g *Gateway) handleCronNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expr := r.URL.Query().Get("expr")
		if expr == "" {
			writeError(w, http.StatusBadRequest, "missing expr")
			return
		}
		count := 0
		if raw := r.URL.Query().Get("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid count")
				return
			}
			count = n
		}

		p := previewSchedule(expr, count, g.now())
		code := http.StatusOK
		if !p.Valid {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, p)
	}
}
