package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a thread-safe, in-memory Store. It backs tests and
// deployments that configure no storage module.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   []Job
	points []DataPoint
	nextID int64
	now    func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// SetClock overrides the time source used for CreatedAt.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

// CreateJob implements JobStore.
func (s *MemoryStore) CreateJob(_ context.Context, job Job) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.ID = s.id()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	s.jobs = append(s.jobs, cloneJob(job))
	return job, nil
}

// GetJob implements JobStore.
func (s *MemoryStore) GetJob(_ context.Context, id int64) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return cloneJob(s.jobs[i]), nil
}

// CountJobs implements JobStore.
func (s *MemoryStore) CountJobs(_ context.Context, appID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.jobs {
		if s.jobs[i].AppID == appID {
			n++
		}
	}
	return n, nil
}

// ListActiveJobs implements JobStore.
func (s *MemoryStore) ListActiveJobs(_ context.Context) ([]Job, error) {
	return s.filterJobs(func(j *Job) bool { return j.Active }), nil
}

// ListActiveJobsByApp implements JobStore.
func (s *MemoryStore) ListActiveJobsByApp(_ context.Context, appID int64) ([]Job, error) {
	return s.filterJobs(func(j *Job) bool { return j.Active && j.AppID == appID }), nil
}

// ListJobsByApp implements JobStore.
func (s *MemoryStore) ListJobsByApp(_ context.Context, appID int64) ([]Job, error) {
	return s.filterJobs(func(j *Job) bool { return j.AppID == appID }), nil
}

// RecordRun implements JobStore.
func (s *MemoryStore) RecordRun(_ context.Context, id int64, lastRun time.Time, nextRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	lr := lastRun.UTC()
	s.jobs[i].LastRun = &lr
	s.jobs[i].NextRun = nil
	if nextRun != nil {
		nr := nextRun.UTC()
		s.jobs[i].NextRun = &nr
	}
	return nil
}

// SetActive implements JobStore.
func (s *MemoryStore) SetActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	s.jobs[i].Active = active
	return nil
}

// Append implements DataStore.
func (s *MemoryStore) Append(_ context.Context, dp DataPoint) (DataPoint, error) {
	if !ValidKey(dp.Key) {
		return DataPoint{}, fmt.Errorf("%w: %q", ErrInvalidKey, dp.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dp.ID = s.id()
	if dp.CreatedAt.IsZero() {
		dp.CreatedAt = s.now().UTC()
	}
	dp.Value = slices.Clone(dp.Value)
	s.points = append(s.points, dp)
	return dp, nil
}

// Since implements DataStore.
func (s *MemoryStore) Since(_ context.Context, appID int64, key string, since time.Time) ([]DataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DataPoint
	for _, dp := range s.points {
		if dp.AppID == appID && dp.Key == key && !dp.CreatedAt.Before(since) {
			out = append(out, dp)
		}
	}
	slices.SortStableFunc(out, func(a, b DataPoint) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// Latest implements DataStore.
func (s *MemoryStore) Latest(_ context.Context, appID int64, key string) (DataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest DataPoint
		found  bool
	)
	for _, dp := range s.points {
		if dp.AppID == appID && dp.Key == key && (!found || !dp.CreatedAt.Before(latest.CreatedAt)) {
			latest, found = dp, true
		}
	}
	if !found {
		return DataPoint{}, fmt.Errorf("%w: %q", ErrNoData, key)
	}
	return latest, nil
}

func (s *MemoryStore) indexOf(id int64) int {
	return slices.IndexFunc(s.jobs, func(j Job) bool { return j.ID == id })
}

func (s *MemoryStore) filterJobs(keep func(*Job) bool) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Job
	for i := range s.jobs {
		if keep(&s.jobs[i]) {
			out = append(out, cloneJob(s.jobs[i]))
		}
	}
	return out
}

func cloneJob(j Job) Job {
	j.Config = slices.Clone(j.Config)
	if j.LastRun != nil {
		t := *j.LastRun
		j.LastRun = &t
	}
	if j.NextRun != nil {
		t := *j.NextRun
		j.NextRun = &t
	}
	return j
}
