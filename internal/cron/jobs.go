package cron

import (
	"context"
	"log/slog"
)

// Pruner drops expired state, e.g. empty rate-limiter buckets.
type Pruner interface {
	Prune()
}

// PruneJob periodically calls Prune on a Pruner.
type PruneJob struct {
	Target       Pruner
	JobName      string // empty = "prune"
	ScheduleExpr string // empty = default "*/10 * * * *"
	Logger       *slog.Logger
}

// Compile-time interface check.
var _ Job = (*PruneJob)(nil)

// Name implements Job.
func (j *PruneJob) Name() string {
	if j.JobName != "" {
		return j.JobName
	}
	return "prune"
}

// Schedule implements Job.
func (j *PruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// Run prunes the target unless ctx is already cancelled.
func (j *PruneJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.Target.Prune()
	if j.Logger != nil {
		j.Logger.Debug("cron: pruned", "job", j.Name())
	}
	return nil
}
