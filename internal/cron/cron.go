// Package cron evaluates 5-field cron expressions and drives named
// recurring tasks on top of robfig/cron with a per-task in-flight guard.
package cron

import "context"

// Job defines a periodic background task with a fixed schedule, used for
// housekeeping such as rate-limiter pruning.
type Job interface {
	// Name returns a unique identifier for this job (used for logging and dedup).
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "*/5 * * * *").
	Schedule() string

	// Run executes the job. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}

// TaskFunc is the body of a scheduled task.
type TaskFunc func(ctx context.Context) error
