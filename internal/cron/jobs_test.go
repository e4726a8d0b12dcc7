package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
)

type countingPruner struct {
	calls atomic.Int32
}

func (p *countingPruner) Prune() { p.calls.Add(1) }

func TestPruneJob_Defaults(t *testing.T) {
	t.Parallel()

	j := &PruneJob{}
	if j.Name() != "prune" {
		t.Errorf("name = %q, want %q", j.Name(), "prune")
	}
	if j.Schedule() != "*/10 * * * *" {
		t.Errorf("schedule = %q, want %q", j.Schedule(), "*/10 * * * *")
	}
	if !Valid(j.Schedule()) {
		t.Errorf("default schedule %q should be valid", j.Schedule())
	}
}

func TestPruneJob_Run(t *testing.T) {
	t.Parallel()

	p := &countingPruner{}
	j := &PruneJob{Target: p, JobName: "ratelimit_prune", Logger: slog.Default()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("prune calls = %d, want 1", p.calls.Load())
	}
}

func TestPruneJob_CancelledContext(t *testing.T) {
	t.Parallel()

	p := &countingPruner{}
	j := &PruneJob{Target: p}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := j.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.calls.Load() != 0 {
		t.Errorf("prune calls = %d, want 0", p.calls.Load())
	}
}

func TestScheduler_RegisterJob(t *testing.T) {
	t.Parallel()

	s := NewScheduler(slog.Default())
	if err := s.RegisterJob(&PruneJob{Target: &countingPruner{}}); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	if !s.Has("prune") {
		t.Error("job not registered")
	}

	err := s.RegisterJob(&PruneJob{Target: &countingPruner{}, JobName: "fast", ScheduleExpr: "* * * * *"})
	if !errors.Is(err, ErrTooFrequent) {
		t.Errorf("err = %v, want ErrTooFrequent", err)
	}
}
