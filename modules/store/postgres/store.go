package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/appcraft/internal/store"
)

// Store implements store.Store on PostgreSQL. Config and values are JSONB
// columns, so stored JSON is returned in normalized form.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface guard.
var _ store.Store = (*Store)(nil)

// NewStore wraps an open, migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const jobColumns = `id, app_id, name, schedule, description, action, config, active, last_run, next_run, created_at`

// CreateJob implements store.JobStore.
func (s *Store) CreateJob(ctx context.Context, job store.Job) (store.Job, error) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.CreatedAt = job.CreatedAt.UTC().Truncate(time.Microsecond)
	config := string(job.Config)
	if config == "" {
		config = "{}"
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO jobs (app_id, name, schedule, description, action, config, active, last_run, next_run, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		job.AppID, job.Name, job.Schedule, job.Description, job.Action, config,
		job.Active, nullableTime(job.LastRun), nullableTime(job.NextRun), job.CreatedAt,
	).Scan(&job.ID)
	if err != nil {
		return store.Job{}, fmt.Errorf("postgres: insert job: %w", err)
	}
	job.Config = json.RawMessage(config)
	return job, nil
}

// GetJob implements store.JobStore.
func (s *Store) GetJob(ctx context.Context, id int64) (store.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Job{}, fmt.Errorf("%w: %d", store.ErrJobNotFound, id)
	}
	return job, err
}

// CountJobs implements store.JobStore.
func (s *Store) CountJobs(ctx context.Context, appID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE app_id = $1`, appID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count jobs: %w", err)
	}
	return n, nil
}

// ListActiveJobs implements store.JobStore.
func (s *Store) ListActiveJobs(ctx context.Context) ([]store.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE active ORDER BY id`)
}

// ListActiveJobsByApp implements store.JobStore.
func (s *Store) ListActiveJobsByApp(ctx context.Context, appID int64) ([]store.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE app_id = $1 AND active ORDER BY id`, appID)
}

// ListJobsByApp implements store.JobStore.
func (s *Store) ListJobsByApp(ctx context.Context, appID int64) ([]store.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE app_id = $1 ORDER BY id`, appID)
}

// RecordRun implements store.JobStore.
func (s *Store) RecordRun(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_run = $1, next_run = $2 WHERE id = $3`,
		lastRun.UTC(), nullableTime(nextRun), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: record run: %w", err)
	}
	return requireRow(res, id)
}

// SetActive implements store.JobStore.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("postgres: set active: %w", err)
	}
	return requireRow(res, id)
}

// Append implements store.DataStore.
func (s *Store) Append(ctx context.Context, dp store.DataPoint) (store.DataPoint, error) {
	if !store.ValidKey(dp.Key) {
		return store.DataPoint{}, fmt.Errorf("%w: %q", store.ErrInvalidKey, dp.Key)
	}
	if dp.CreatedAt.IsZero() {
		dp.CreatedAt = s.now()
	}
	dp.CreatedAt = dp.CreatedAt.UTC().Truncate(time.Microsecond)

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO data_points (app_id, key, value, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		dp.AppID, dp.Key, string(dp.Value), dp.CreatedAt,
	).Scan(&dp.ID)
	if err != nil {
		return store.DataPoint{}, fmt.Errorf("postgres: insert data point: %w", err)
	}
	return dp, nil
}

// Since implements store.DataStore.
func (s *Store) Since(ctx context.Context, appID int64, key string, since time.Time) ([]store.DataPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, app_id, key, value, created_at FROM data_points
		 WHERE app_id = $1 AND key = $2 AND created_at >= $3
		 ORDER BY created_at, id`,
		appID, key, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: query data points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.DataPoint
	for rows.Next() {
		dp, err := scanDataPoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dp)
	}
	return out, rows.Err()
}

// Latest implements store.DataStore.
func (s *Store) Latest(ctx context.Context, appID int64, key string) (store.DataPoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, app_id, key, value, created_at FROM data_points
		 WHERE app_id = $1 AND key = $2
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		appID, key,
	)
	dp, err := scanDataPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.DataPoint{}, fmt.Errorf("%w: %q", store.ErrNoData, key)
	}
	return dp, err
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (store.Job, error) {
	var (
		job     store.Job
		config  []byte
		lastRun sql.NullTime
		nextRun sql.NullTime
	)
	err := sc.Scan(&job.ID, &job.AppID, &job.Name, &job.Schedule, &job.Description, &job.Action,
		&config, &job.Active, &lastRun, &nextRun, &job.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Job{}, err
		}
		return store.Job{}, fmt.Errorf("postgres: scan job: %w", err)
	}
	job.Config = json.RawMessage(config)
	job.LastRun = fromNullTime(lastRun)
	job.NextRun = fromNullTime(nextRun)
	job.CreatedAt = job.CreatedAt.UTC()
	return job, nil
}

func scanDataPoint(sc scanner) (store.DataPoint, error) {
	var (
		dp    store.DataPoint
		value []byte
	)
	if err := sc.Scan(&dp.ID, &dp.AppID, &dp.Key, &value, &dp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.DataPoint{}, err
		}
		return store.DataPoint{}, fmt.Errorf("postgres: scan data point: %w", err)
	}
	dp.Value = json.RawMessage(value)
	dp.CreatedAt = dp.CreatedAt.UTC()
	return dp, nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", store.ErrJobNotFound, id)
	}
	return nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
