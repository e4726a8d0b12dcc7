package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler errors.
var (
	ErrDuplicate = errors.New("cron: duplicate task name")
	ErrNotFound  = errors.New("cron: task not found")
	ErrBusy      = errors.New("cron: task already running")
)

// Scheduler manages named recurring tasks. Tasks may be added and removed
// while the scheduler runs. Each task is protected by a mutex taken with
// TryLock, so a tick or manual run arriving while the task still runs is
// skipped instead of overlapping.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	tasks  map[string]*task
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

type task struct {
	name  string
	entry cron.EntryID
	run   TaskFunc
	lock  sync.Mutex
}

// NewScheduler creates a scheduler. All times are evaluated in UTC.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		tasks:  make(map[string]*task),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a task under name, firing according to schedule.
func (s *Scheduler) Add(name string, schedule cron.Schedule, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}

	t := &task{name: name, run: fn}
	t.entry = s.cron.Schedule(schedule, cron.FuncJob(func() {
		if err := s.execute(s.ctx, t); errors.Is(err, ErrBusy) {
			s.logger.Warn("cron: task still running, skipping tick", "task", name)
		}
	}))
	s.tasks[name] = t
	return nil
}

// RegisterJob adds a fixed-schedule Job. The schedule must pass Validate.
func (s *Scheduler) RegisterJob(j Job) error {
	expr, err := Validate(j.Schedule())
	if err != nil {
		return fmt.Errorf("cron: invalid schedule for job %q: %w", j.Name(), err)
	}
	return s.Add(j.Name(), expr, j.Run)
}

// Remove unregisters a task. A run already in progress completes.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	s.cron.Remove(t.entry)
	delete(s.tasks, name)
	return true
}

// Has reports whether a task is registered under name.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Next returns the next scheduled fire time of a task. The zero time means
// the scheduler is not started or the task has no upcoming run.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(t.entry).Next
}

// TryRun executes a registered task immediately, out of band of its
// schedule, on ctx. It returns ErrBusy without running when the task is
// already in flight and ErrNotFound when name is unknown; otherwise it
// returns the task's own error.
func (s *Scheduler) TryRun(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s.execute(ctx, t)
}

// execute runs t under its in-flight lock and recovers panics.
func (s *Scheduler) execute(ctx context.Context, t *task) (err error) {
	if !t.lock.TryLock() {
		return fmt.Errorf("%w: %q", ErrBusy, t.name)
	}
	defer t.lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cron: task panicked", "task", t.name, "panic", r)
			err = fmt.Errorf("cron: task %q panicked: %v", t.name, r)
		}
	}()

	s.logger.Debug("cron: task started", "task", t.name)
	if err := t.run(ctx); err != nil {
		s.logger.Error("cron: task failed", "task", t.name, "error", err)
		return err
	}
	s.logger.Debug("cron: task completed", "task", t.name)
	return nil
}

// Start begins firing registered tasks. It is safe to call once.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("cron: scheduler started", "tasks", s.Len())
}

// Stop halts the clock, cancels the context given to scheduled runs and
// waits for in-flight runs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	s.cancel()

	select {
	case <-done:
		s.logger.Info("cron: scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron: waiting for running tasks: %w", ctx.Err())
	}
}
