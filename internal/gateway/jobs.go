package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/flemzord/appcraft/internal/automation"
	"github.com/flemzord/appcraft/internal/cron"
	"github.com/flemzord/appcraft/internal/store"
)

// maxJobsBody bounds a job submission body.
const maxJobsBody = 256 << 10

// Rejection is a definition refused by a submission.
type Rejection struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// SubmitResponse is the response of POST /api/apps/{appID}/jobs.
type SubmitResponse struct {
	Created  []store.Job `json:"created"`
	Rejected []Rejection `json:"rejected"`
	Dropped  []Rejection `json:"dropped"`
}

func rejections(in []*automation.ValidationError) []Rejection {
	out := make([]Rejection, 0, len(in))
	for _, ve := range in {
		out = append(out, Rejection{Index: ve.Index, Name: ve.Name, Error: ve.Err.Error()})
	}
	return out
}

// decodeDefinitions accepts either a bare array of definitions or an
// object of the form {"jobs": [...]}.
func decodeDefinitions(body []byte) ([]automation.Definition, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	var defs []automation.Definition
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, err
		}
		return defs, nil
	}

	var wrapped struct {
		Jobs []automation.Definition `json:"jobs"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Jobs, nil
}

// handleSubmitJobs handles POST /api/apps/{appID}/jobs.
func (g *Gateway) handleSubmitJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, err := idParam(r, "appID")
		if err != nil {
			g.failed(w, err)
			return
		}
		if g.sched == nil {
			writeError(w, http.StatusServiceUnavailable, "automation engine not available")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJobsBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		defs, err := decodeDefinitions(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job definitions: "+err.Error())
			return
		}
		if len(defs) == 0 {
			writeError(w, http.StatusBadRequest, "no job definitions")
			return
		}

		res, err := g.sched.AddJobs(r.Context(), appID, defs)
		if err != nil {
			g.failed(w, err)
			return
		}
		g.metrics.RecordJobs(len(res.Created), len(res.Rejected)+len(res.Dropped))

		resp := SubmitResponse{
			Created:  res.Created,
			Rejected: rejections(res.Rejected),
			Dropped:  rejections(res.Dropped),
		}
		if resp.Created == nil {
			resp.Created = []store.Job{}
		}

		code := http.StatusOK
		if len(res.Created) > 0 {
			code = http.StatusCreated
		}
		writeJSON(w, code, resp)
	}
}

// handleListJobs handles GET /api/apps/{appID}/jobs.
func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appID, err := idParam(r, "appID")
		if err != nil {
			g.failed(w, err)
			return
		}
		if g.sched == nil {
			writeError(w, http.StatusServiceUnavailable, "automation engine not available")
			return
		}

		jobs, err := g.sched.Jobs().ListJobsByApp(r.Context(), appID)
		if err != nil {
			g.failed(w, err)
			return
		}
		if jobs == nil {
			jobs = []store.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

// handleDeactivateJob handles POST /api/jobs/{jobID}/deactivate.
func (g *Gateway) handleDeactivateJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := idParam(r, "jobID")
		if err != nil {
			g.failed(w, err)
			return
		}
		if g.sched == nil {
			writeError(w, http.StatusServiceUnavailable, "automation engine not available")
			return
		}

		if err := g.sched.Deactivate(r.Context(), jobID); err != nil {
			g.failed(w, jobError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": jobID, "status": "deactivated"})
	}
}

// handleRunJob handles POST /api/jobs/{jobID}/run. A job that runs and
// fails is reported with status "failed"; a job that cannot run is an
// HTTP error.
func (g *Gateway) handleRunJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := idParam(r, "jobID")
		if err != nil {
			g.failed(w, err)
			return
		}
		if g.sched == nil {
			writeError(w, http.StatusServiceUnavailable, "automation engine not available")
			return
		}

		if err := g.sched.RunJob(r.Context(), jobID); err != nil {
			if mapped := jobError(err); mapped != err {
				g.failed(w, mapped)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": jobID, "status": "failed", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": jobID, "status": "ok"})
	}
}

// jobError maps scheduler errors onto HTTP statuses. Other errors are
// returned unchanged.
func jobError(err error) error {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		return errStatus(http.StatusNotFound, "job not found")
	case errors.Is(err, automation.ErrJobInactive):
		return errStatus(http.StatusConflict, "job is not active")
	case errors.Is(err, cron.ErrBusy):
		return errStatus(http.StatusConflict, "job is already running")
	default:
		return err
	}
}
