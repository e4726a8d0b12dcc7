package gateway

import (
	"net/http"
	"testing"
	"time"
)

func TestPreviewSchedule(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) // Monday

	p := previewSchedule("30 8 * * 1-5", 3, now)
	if !p.Valid {
		t.Fatalf("expected valid, got error %q", p.Error)
	}
	want := []time.Time{
		time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 8, 30, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 8, 30, 0, 0, time.UTC),
	}
	if len(p.Runs) != len(want) {
		t.Fatalf("runs = %v, want %v", p.Runs, want)
	}
	for i := range want {
		if !p.Runs[i].Equal(want[i]) {
			t.Errorf("runs[%d] = %v, want %v", i, p.Runs[i], want[i])
		}
	}
}

func TestPreviewSchedule_CountBounds(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	tests := []struct {
		count int
		want  int
	}{
		{0, defaultPreviewCount},
		{-4, defaultPreviewCount},
		{2, 2},
		{500, maxPreviewCount},
	}
	for _, tt := range tests {
		if got := len(previewSchedule("*/5 * * * *", tt.count, now).Runs); got != tt.want {
			t.Errorf("count %d: runs = %d, want %d", tt.count, got, tt.want)
		}
	}
}

func TestPreviewSchedule_Invalid(t *testing.T) {
	t.Parallel()

	now := time.Now()
	for _, expr := range []string{"* * * * *", "0 8 * *", "61 * * * *", "*/2 * * * *"} {
		p := previewSchedule(expr, 1, now)
		if p.Valid || p.Error == "" {
			t.Errorf("%q: valid = %v, error = %q, want invalid with error", expr, p.Valid, p.Error)
		}
		if p.Runs == nil || len(p.Runs) != 0 {
			t.Errorf("%q: runs = %v, want empty", expr, p.Runs)
		}
	}
}

func TestCronNext_Endpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/cron/next?expr=0+6+*+*+*&count=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if p := decode[SchedulePreview](t, rr); !p.Valid || len(p.Runs) != 2 {
		t.Errorf("preview = %+v", p)
	}

	if rr := env.do(t, http.MethodGet, "/api/cron/next?expr=*+*+*+*+*", nil); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("too frequent = %d, want %d", rr.Code, http.StatusUnprocessableEntity)
	}
	if rr := env.do(t, http.MethodGet, "/api/cron/next", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("missing expr = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if rr := env.do(t, http.MethodGet, "/api/cron/next?expr=0+6+*+*+*&count=x", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad count = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
