// Package store defines the automation data model and persistence
// contracts shared by the scheduler, the gateway and the storage modules.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

// ServiceName is the core service under which storage modules register
// their Store implementation.
const ServiceName = "store"

// Store errors.
var (
	ErrJobNotFound = errors.New("store: job not found")
	ErrNoData      = errors.New("store: no data for key")
	ErrInvalidKey  = errors.New("store: invalid data key")
)

// KeyPattern restricts data point keys to short identifiers.
var KeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,99}$`)

// ValidKey reports whether k may be used as a data point key.
func ValidKey(k string) bool { return KeyPattern.MatchString(k) }

// Job is a persisted automation definition.
type Job struct {
	ID          int64           `json:"id"`
	AppID       int64           `json:"appId"`
	Name        string          `json:"name"`
	Schedule    string          `json:"schedule"`
	Description string          `json:"humanReadable,omitempty"`
	Action      string          `json:"action"`
	Config      json.RawMessage `json:"config,omitempty"`
	Active      bool            `json:"active"`
	LastRun     *time.Time      `json:"lastRun,omitempty"`
	NextRun     *time.Time      `json:"nextRun,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// DataPoint is one row of the append-only per-application key/value log.
type DataPoint struct {
	ID        int64           `json:"id"`
	AppID     int64           `json:"appId"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"createdAt"`
}

// JobStore persists job definitions. Jobs are never deleted; SetActive is
// the only terminal transition.
type JobStore interface {
	// CreateJob inserts job and returns it with ID and CreatedAt set.
	CreateJob(ctx context.Context, job Job) (Job, error)

	// GetJob returns ErrJobNotFound when id does not exist.
	GetJob(ctx context.Context, id int64) (Job, error)

	// CountJobs counts every job of the application, active or not.
	CountJobs(ctx context.Context, appID int64) (int, error)

	ListActiveJobs(ctx context.Context) ([]Job, error)
	ListActiveJobsByApp(ctx context.Context, appID int64) ([]Job, error)
	ListJobsByApp(ctx context.Context, appID int64) ([]Job, error)

	// RecordRun stores the last and next run times of a job.
	RecordRun(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error

	SetActive(ctx context.Context, id int64, active bool) error
}

// DataStore is the append-only data point log.
type DataStore interface {
	// Append stores dp, setting ID and, when zero, CreatedAt.
	Append(ctx context.Context, dp DataPoint) (DataPoint, error)

	// Since returns the points of (appID, key) created at or after since,
	// oldest first.
	Since(ctx context.Context, appID int64, key string, since time.Time) ([]DataPoint, error)

	// Latest returns the newest point of (appID, key) or ErrNoData.
	Latest(ctx context.Context, appID int64, key string) (DataPoint, error)
}

// Store combines job and data persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	JobStore
	DataStore
}
