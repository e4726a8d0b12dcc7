// Package automation owns the lifecycle of user jobs: validation and
// persistence of definitions, trigger registration, scheduled and
// data-triggered execution, and deactivation.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/appcraft/internal/action"
	"github.com/flemzord/appcraft/internal/cron"
	"github.com/flemzord/appcraft/internal/fetch"
	"github.com/flemzord/appcraft/internal/security"
	"github.com/flemzord/appcraft/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxJobsPerApp is the per-application job cap.
const DefaultMaxJobsPerApp = 5

// Scheduler errors.
var (
	ErrCapReached  = errors.New("automation: job cap reached")
	ErrJobInactive = errors.New("automation: job is not active")
)

// Definition is a job submitted for registration.
type Definition struct {
	Name          string          `json:"name"`
	Schedule      string          `json:"schedule"`
	HumanReadable string          `json:"humanReadable,omitempty"`
	Action        string          `json:"action"`
	Config        json.RawMessage `json:"config,omitempty"`
}

// ValidationError reports why a definition of a batch was rejected.
type ValidationError struct {
	Index int
	Name  string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("automation: definition %d (%q): %v", e.Index, e.Name, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AddResult summarizes one AddJobs batch.
type AddResult struct {
	Created  []store.Job
	Rejected []*ValidationError
	// Dropped holds valid definitions discarded by the job cap.
	Dropped []*ValidationError
}

// Options configures a Scheduler. Store is required.
type Options struct {
	Store         store.Store
	Fetcher       action.Fetcher
	Logger        *slog.Logger
	MaxJobsPerApp int

	// TriggerWait is advertised to data-write callers as the wait budget
	// for RunTriggeredJobs.
	TriggerWait time.Duration

	// Optional collaborators; nil disables each.
	Limiter *security.RateLimiter
	Audit   *security.AuditLogger
	Metrics *Metrics

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Scheduler maps job IDs to live triggers on a cron.Scheduler and runs
// jobs through an action.Executor.
type Scheduler struct {
	jobs    store.JobStore
	data    store.DataStore
	exec    *action.Executor
	clock   *cron.Scheduler
	limiter *security.RateLimiter
	audit   *security.AuditLogger
	metrics *Metrics
	logger  *slog.Logger
	maxJobs int
	wait    time.Duration
	now     func() time.Time

	mu        sync.Mutex
	appLocks  map[int64]*sync.Mutex
	scheduled map[int64]struct{}
}

// New creates a Scheduler. Call Start to begin firing triggers.
func New(opts Options) *Scheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxJobsPerApp <= 0 {
		opts.MaxJobsPerApp = DefaultMaxJobsPerApp
	}
	if opts.TriggerWait <= 0 {
		opts.TriggerWait = defaultTriggerWait
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fetcher == nil {
		opts.Fetcher = fetch.New(fetch.Config{})
	}

	s := &Scheduler{
		jobs:      opts.Store,
		data:      opts.Store,
		clock:     cron.NewScheduler(opts.Logger),
		limiter:   opts.Limiter,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		maxJobs:   opts.MaxJobsPerApp,
		wait:      opts.TriggerWait,
		now:       opts.Now,
		appLocks:  make(map[int64]*sync.Mutex),
		scheduled: make(map[int64]struct{}),
	}
	s.exec = action.NewExecutor(opts.Store, opts.Fetcher, opts.Logger,
		action.WithClock(opts.Now),
		action.WithFetchErrorHook(s.fetchFailed),
	)
	return s
}

// Data returns the data store jobs write to.
func (s *Scheduler) Data() store.DataStore { return s.data }

// Jobs returns the job store.
func (s *Scheduler) Jobs() store.JobStore { return s.jobs }

// Clock returns the underlying trigger scheduler, for registering
// housekeeping jobs.
func (s *Scheduler) Clock() *cron.Scheduler { return s.clock }

// MaxJobsPerApp returns the configured job cap.
func (s *Scheduler) MaxJobsPerApp() int { return s.maxJobs }

// TriggerWait returns the wait budget for data-triggered runs.
func (s *Scheduler) TriggerWait() time.Duration { return s.wait }

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time { return s.now() }

// Start begins firing triggers.
func (s *Scheduler) Start() { s.clock.Start() }

// Stop stops the triggers and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error { return s.clock.Stop(ctx) }

// Scheduled reports whether jobID has a live trigger.
func (s *Scheduler) Scheduled(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scheduled[jobID]
	return ok
}

// ScheduledCount returns the number of jobs with a live trigger.
func (s *Scheduler) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

// LoadAll registers a trigger for every active job in the store and
// returns how many are scheduled. Rows whose schedule no longer parses
// are logged and skipped.
func (s *Scheduler) LoadAll(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ListActiveJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("automation: listing active jobs: %w", err)
	}

	n := 0
	for _, job := range jobs {
		if err := s.schedule(job); err != nil {
			s.logger.Warn("automation: skipping job on load",
				"job_id", job.ID, "app_id", job.AppID, "error", err)
			continue
		}
		n++
	}
	s.logger.Info("automation: jobs loaded", "count", n)
	return n, nil
}

// AddJobs validates, persists and schedules defs for appID. Invalid
// definitions are rejected and valid ones beyond the application's job
// cap are dropped; neither aborts the batch. A store error stops the
// batch and is returned with the jobs created so far.
func (s *Scheduler) AddJobs(ctx context.Context, appID int64, defs []Definition) (AddResult, error) {
	lock := s.appLock(appID)
	lock.Lock()
	defer lock.Unlock()

	var res AddResult
	count, err := s.jobs.CountJobs(ctx, appID)
	if err != nil {
		return res, fmt.Errorf("automation: counting jobs of app %d: %w", appID, err)
	}
	remaining := s.maxJobs - count

	for i, def := range defs {
		if err := validateDefinition(def); err != nil {
			ve := &ValidationError{Index: i, Name: def.Name, Err: err}
			res.Rejected = append(res.Rejected, ve)
			s.logger.Warn("automation: rejected job definition",
				"app_id", appID, "index", i, "name", def.Name, "error", err)
			s.audit.Log(security.AuditEvent{
				Type: security.EventJobRejected, AppID: appID, JobName: def.Name, Detail: err.Error(),
			})
			continue
		}

		if remaining <= 0 {
			ve := &ValidationError{Index: i, Name: def.Name, Err: ErrCapReached}
			res.Dropped = append(res.Dropped, ve)
			s.logger.Warn("automation: job cap reached, dropping definition",
				"app_id", appID, "index", i, "name", def.Name, "max_jobs", s.maxJobs)
			s.audit.Log(security.AuditEvent{
				Type: security.EventJobRejected, AppID: appID, JobName: def.Name, Detail: ErrCapReached.Error(),
			})
			continue
		}

		job := store.Job{
			AppID:       appID,
			Name:        def.Name,
			Schedule:    strings.Join(strings.Fields(def.Schedule), " "),
			Description: def.HumanReadable,
			Action:      def.Action,
			Config:      def.Config,
			Active:      true,
		}
		if next, ok := cron.NextRun(job.Schedule, s.now()); ok {
			job.NextRun = &next
		}

		job, err := s.jobs.CreateJob(ctx, job)
		if err != nil {
			return res, fmt.Errorf("automation: creating job %q: %w", def.Name, err)
		}
		remaining--

		if err := s.schedule(job); err != nil {
			return res, fmt.Errorf("automation: scheduling job %d: %w", job.ID, err)
		}
		res.Created = append(res.Created, job)

		s.logger.Info("automation: job registered",
			"job_id", job.ID, "app_id", appID, "name", job.Name, "action", job.Action, "schedule", job.Schedule)
		s.audit.Log(security.AuditEvent{
			Type: security.EventJobRegistered, AppID: appID, JobID: job.ID, JobName: job.Name,
			Metadata: map[string]string{"action": job.Action, "schedule": job.Schedule},
		})
	}
	return res, nil
}

// ValidateDefinition checks the action kind, the schedule and the action
// configuration of def.
func ValidateDefinition(def Definition) error { return validateDefinition(def) }

func validateDefinition(def Definition) error {
	if !slices.Contains(action.Kinds, action.Kind(def.Action)) {
		return fmt.Errorf("%w: %q", action.ErrUnknownKind, def.Action)
	}
	if _, err := cron.Validate(def.Schedule); err != nil {
		return err
	}
	if _, err := action.Parse(def.Action, def.Config); err != nil {
		return err
	}
	return nil
}

// RunJob executes an active job immediately. It returns cron.ErrBusy if
// the job is already running.
func (s *Scheduler) RunJob(ctx context.Context, jobID int64) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Active {
		return fmt.Errorf("%w: %d", ErrJobInactive, jobID)
	}
	if !s.Scheduled(jobID) {
		if err := s.schedule(job); err != nil {
			return err
		}
	}
	return s.clock.TryRun(ctx, taskName(jobID))
}

// RunTriggeredJobs runs every active job of appID whose triggerKey is
// key, concurrently, and returns how many matched. The runs use a context
// detached from ctx, so when ctx ends first RunTriggeredJobs returns
// ctx.Err() while the runs continue in the background. Jobs already
// running are skipped.
func (s *Scheduler) RunTriggeredJobs(ctx context.Context, appID int64, key string) (int, error) {
	jobs, err := s.jobs.ListActiveJobsByApp(ctx, appID)
	if err != nil {
		return 0, fmt.Errorf("automation: listing jobs of app %d: %w", appID, err)
	}

	var matched []store.Job
	for _, job := range jobs {
		a, err := action.Decode(job.Action, job.Config)
		if err != nil || a.TriggerKey() == "" || a.TriggerKey() != key {
			continue
		}
		matched = append(matched, job)
	}
	if len(matched) == 0 {
		return 0, nil
	}

	if s.limiter != nil {
		if err := s.limiter.Allow(security.KindTriggeredRun, strconv.FormatInt(appID, 10)); err != nil {
			s.audit.Log(security.AuditEvent{
				Type: security.EventRateLimit, AppID: appID, Detail: "triggered runs for key " + key,
			})
			return 0, err
		}
	}

	runCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, job := range matched {
		g.Go(func() error {
			if !s.Scheduled(job.ID) {
				if err := s.schedule(job); err != nil {
					return err
				}
			}
			err := s.clock.TryRun(runCtx, taskName(job.ID))
			if errors.Is(err, cron.ErrBusy) {
				s.logger.Debug("automation: triggered job already running",
					"job_id", job.ID, "app_id", appID, "key", key)
				return nil
			}
			return err
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return len(matched), err
	case <-ctx.Done():
		s.logger.Info("automation: triggered jobs continue in background",
			"app_id", appID, "key", key, "jobs", len(matched))
		return len(matched), ctx.Err()
	}
}

// Deactivate persists active=false for jobID and removes its trigger. A
// deactivated job is never scheduled again.
func (s *Scheduler) Deactivate(ctx context.Context, jobID int64) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.jobs.SetActive(ctx, jobID, false); err != nil {
		return fmt.Errorf("automation: deactivating job %d: %w", jobID, err)
	}
	s.unschedule(jobID)

	s.logger.Info("automation: job deactivated", "job_id", jobID, "app_id", job.AppID)
	s.audit.Log(security.AuditEvent{
		Type: security.EventJobDeactivated, AppID: job.AppID, JobID: jobID, JobName: job.Name,
	})
	return nil
}

func taskName(jobID int64) string { return "job:" + strconv.FormatInt(jobID, 10) }

func (s *Scheduler) appLock(appID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.appLocks[appID]
	if !ok {
		l = &sync.Mutex{}
		s.appLocks[appID] = l
	}
	return l
}

// schedule registers the trigger of job. Scheduling an already scheduled
// job is a no-op.
func (s *Scheduler) schedule(job store.Job) error {
	expr, err := cron.Validate(job.Schedule)
	if err != nil {
		return err
	}

	id := job.ID
	err = s.clock.Add(taskName(id), expr, func(ctx context.Context) error {
		return s.run(ctx, id)
	})
	if errors.Is(err, cron.ErrDuplicate) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.scheduled[id] = struct{}{}
	n := len(s.scheduled)
	s.mu.Unlock()
	s.metrics.setScheduled(n)
	return nil
}

func (s *Scheduler) unschedule(jobID int64) {
	s.clock.Remove(taskName(jobID))

	s.mu.Lock()
	delete(s.scheduled, jobID)
	n := len(s.scheduled)
	s.mu.Unlock()
	s.metrics.setScheduled(n)
}

// run is the body of a job trigger. It reloads the job so a deactivation
// made elsewhere is honored, executes it, and records the last and next
// run times whatever the outcome.
func (s *Scheduler) run(ctx context.Context, jobID int64) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("automation: loading job %d: %w", jobID, err)
	}
	if !job.Active {
		s.unschedule(jobID)
		return nil
	}

	logger := s.logger.With("job_id", job.ID, "app_id", job.AppID, "action", job.Action, "run_id", uuid.NewString())
	start := s.now()
	out, runErr := s.exec.Execute(ctx, job)
	finished := s.now()

	outcome := OutcomeOK
	switch {
	case runErr != nil:
		outcome = OutcomeError
		logger.Warn("automation: job run failed", "error", runErr)
	case out.Skipped != "":
		outcome = OutcomeSkipped
		logger.Debug("automation: job run wrote nothing", "reason", out.Skipped)
	default:
		logger.Debug("automation: job run done", "written", len(out.Written))
	}
	s.metrics.observeRun(job.Action, outcome, finished.Sub(start))

	var next *time.Time
	if t, ok := cron.NextRun(job.Schedule, finished); ok {
		next = &t
	}
	if err := s.jobs.RecordRun(ctx, job.ID, finished, next); err != nil {
		logger.Error("automation: recording run", "error", err)
		return errors.Join(runErr, fmt.Errorf("automation: recording run of job %d: %w", job.ID, err))
	}
	return runErr
}

func (s *Scheduler) fetchFailed(job store.Job, err error) {
	s.metrics.fetchRejected(fetch.Reason(err))
	if fetch.IsPolicyRejection(err) {
		s.audit.Log(security.AuditEvent{
			Type: security.EventFetchBlocked, AppID: job.AppID, JobID: job.ID, JobName: job.Name, Detail: err.Error(),
		})
	}
}
