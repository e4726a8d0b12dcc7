package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/flemzord/appcraft/internal/automation"
	"github.com/flemzord/appcraft/internal/store"
)

func reminderDef(name string) map[string]any {
	return map[string]any{
		"name":          name,
		"schedule":      "30 7 * * *",
		"humanReadable": "every day at 07:30",
		"action":        "send_reminder",
		"config":        map[string]any{"text": "drink water"},
	}
}

func TestSubmitJobs_BareArray(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/api/apps/1/jobs", []any{reminderDef("water"), reminderDef("stretch")})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body)
	}

	resp := decode[SubmitResponse](t, rr)
	if len(resp.Created) != 2 {
		t.Fatalf("created = %d, want 2", len(resp.Created))
	}
	if resp.Created[0].Description != "every day at 07:30" {
		t.Errorf("description = %q", resp.Created[0].Description)
	}
	if !env.g.sched.Scheduled(resp.Created[0].ID) {
		t.Error("created job should be scheduled")
	}
	if got := env.g.metrics.Snapshot().JobsSubmitted; got != 2 {
		t.Errorf("JobsSubmitted = %d, want 2", got)
	}
}

func TestSubmitJobs_WrappedAndCapped(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	defs := make([]any, 0, 7)
	for i := range 7 {
		defs = append(defs, reminderDef(fmt.Sprintf("job-%d", i)))
	}

	rr := env.do(t, http.MethodPost, "/api/apps/2/jobs", map[string]any{"jobs": defs})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	resp := decode[SubmitResponse](t, rr)
	if len(resp.Created) != automation.DefaultMaxJobsPerApp {
		t.Errorf("created = %d, want %d", len(resp.Created), automation.DefaultMaxJobsPerApp)
	}
	if len(resp.Dropped) != 2 {
		t.Errorf("dropped = %d, want 2", len(resp.Dropped))
	}

	// The application is full: a later batch creates nothing.
	rr = env.do(t, http.MethodPost, "/api/apps/2/jobs", []any{reminderDef("late")})
	if rr.Code != http.StatusOK {
		t.Fatalf("full app status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp = decode[SubmitResponse](t, rr)
	if len(resp.Created) != 0 || len(resp.Dropped) != 1 {
		t.Errorf("created = %d, dropped = %d, want 0 and 1", len(resp.Created), len(resp.Dropped))
	}
}

func TestSubmitJobs_ReportsRejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tooFrequent := reminderDef("spam")
	tooFrequent["schedule"] = "* * * * *"
	unknown := reminderDef("mystery")
	unknown["action"] = "send_email"

	rr := env.do(t, http.MethodPost, "/api/apps/3/jobs", []any{tooFrequent, reminderDef("ok"), unknown})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	resp := decode[SubmitResponse](t, rr)
	if len(resp.Created) != 1 {
		t.Errorf("created = %d, want 1", len(resp.Created))
	}
	if len(resp.Rejected) != 2 {
		t.Fatalf("rejected = %d, want 2", len(resp.Rejected))
	}
	if resp.Rejected[0].Index != 0 || resp.Rejected[0].Name != "spam" {
		t.Errorf("rejected[0] = %+v", resp.Rejected[0])
	}
	if resp.Rejected[1].Index != 2 || resp.Rejected[1].Error == "" {
		t.Errorf("rejected[1] = %+v", resp.Rejected[1])
	}
}

func TestSubmitJobs_BadBodies(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "jobs please"},
		{"empty array", "[]"},
		{"object without jobs", `{"name":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := env.do(t, http.MethodPost, "/api/apps/1/jobs", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	if rr := env.do(t, http.MethodGet, "/api/apps/8/jobs", nil); rr.Body.String() != "[]\n" {
		t.Errorf("empty list body = %q, want []", rr.Body.String())
	}

	env.do(t, http.MethodPost, "/api/apps/8/jobs", []any{reminderDef("a"), reminderDef("b")})
	rr := env.do(t, http.MethodGet, "/api/apps/8/jobs", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	jobs := decode[[]store.Job](t, rr)
	if len(jobs) != 2 {
		t.Errorf("jobs = %d, want 2", len(jobs))
	}
}

func TestRunJob_Endpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	id := addJob(t, env, 4, automation.Definition{
		Name:     "nudge",
		Schedule: "0 9 * * *",
		Action:   "send_reminder",
		Config:   json.RawMessage(`{"text":"walk","outputKey":"nudge"}`),
	})

	rr := env.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%d/run", id), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if dp, err := env.store.Latest(context.Background(), 4, "nudge"); err != nil {
		t.Errorf("reminder not written: %v", err)
	} else if !json.Valid(dp.Value) {
		t.Errorf("reminder value = %s", dp.Value)
	}

	if rr := env.do(t, http.MethodPost, "/api/jobs/999/run", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if rr := env.do(t, http.MethodPost, "/api/jobs/abc/run", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestRunJob_FailedRunIsReported(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	// The default fetcher refuses private addresses.
	id := addJob(t, env, 6, automation.Definition{
		Name:     "internal",
		Schedule: "0 * * * *",
		Action:   "fetch_url",
		Config:   json.RawMessage(`{"url":"https://10.0.0.5/api","outputKey":"internal"}`),
	})

	rr := env.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%d/run", id), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "failed" {
		t.Errorf("status field = %v, want failed", body["status"])
	}
	if _, err := env.store.Latest(context.Background(), 6, "internal"); err == nil {
		t.Error("blocked fetch must not write data")
	}
}

func TestDeactivateJob_Endpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	id := addJob(t, env, 4, automation.Definition{
		Name:     "nudge",
		Schedule: "0 9 * * *",
		Action:   "send_reminder",
	})

	rr := env.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%d/deactivate", id), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if env.g.sched.Scheduled(id) {
		t.Error("deactivated job is still scheduled")
	}

	rr = env.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%d/run", id), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("run inactive = %d, want %d", rr.Code, http.StatusConflict)
	}
	if rr := env.do(t, http.MethodPost, "/api/jobs/404/deactivate", nil); rr.Code != http.StatusNotFound {
		t.Errorf("deactivate unknown = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
