package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/appcraft/internal/store"
)

// Store implements store.Store on a SQLite database. Times are stored as
// UTC Unix nanoseconds.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface guard.
var _ store.Store = (*Store)(nil)

const jobColumns = `id, app_id, name, schedule, description, action, config, active, last_run, next_run, created_at`

// CreateJob implements store.JobStore.
func (s *Store) CreateJob(ctx context.Context, job store.Job) (store.Job, error) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now().UTC()
	}
	config := string(job.Config)
	if config == "" {
		config = "{}"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (app_id, name, schedule, description, action, config, active, last_run, next_run, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.AppID, job.Name, job.Schedule, job.Description, job.Action, config,
		job.Active, nullableNanos(job.LastRun), nullableNanos(job.NextRun), job.CreatedAt.UnixNano(),
	)
	if err != nil {
		return store.Job{}, fmt.Errorf("sqlite: insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return store.Job{}, fmt.Errorf("sqlite: job id: %w", err)
	}
	job.ID = id
	job.Config = json.RawMessage(config)
	return job, nil
}

// GetJob implements store.JobStore.
func (s *Store) GetJob(ctx context.Context, id int64) (store.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Job{}, fmt.Errorf("%w: %d", store.ErrJobNotFound, id)
	}
	return job, err
}

// CountJobs implements store.JobStore.
func (s *Store) CountJobs(ctx context.Context, appID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE app_id = ?`, appID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count jobs: %w", err)
	}
	return n, nil
}

// ListActiveJobs implements store.JobStore.
func (s *Store) ListActiveJobs(ctx context.Context) ([]store.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE active = 1 ORDER BY id`)
}

// ListActiveJobsByApp implements store.JobStore.
func (s *Store) ListActiveJobsByApp(ctx context.Context, appID int64) ([]store.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE app_id = ? AND active = 1 ORDER BY id`, appID)
}

// ListJobsByApp implements store.JobStore.
func (s *Store) ListJobsByApp(ctx context.Context, appID int64) ([]store.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE app_id = ? ORDER BY id`, appID)
}

// RecordRun implements store.JobStore.
func (s *Store) RecordRun(ctx context.Context, id int64, lastRun time.Time, nextRun *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_run = ?, next_run = ? WHERE id = ?`,
		lastRun.UnixNano(), nullableNanos(nextRun), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record run: %w", err)
	}
	return requireRow(res, id)
}

// SetActive implements store.JobStore.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("sqlite: set active: %w", err)
	}
	return requireRow(res, id)
}

// Append implements store.DataStore.
func (s *Store) Append(ctx context.Context, dp store.DataPoint) (store.DataPoint, error) {
	if !store.ValidKey(dp.Key) {
		return store.DataPoint{}, fmt.Errorf("%w: %q", store.ErrInvalidKey, dp.Key)
	}
	if dp.CreatedAt.IsZero() {
		dp.CreatedAt = s.now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO data_points (app_id, key, value, created_at) VALUES (?, ?, ?, ?)`,
		dp.AppID, dp.Key, string(dp.Value), dp.CreatedAt.UnixNano(),
	)
	if err != nil {
		return store.DataPoint{}, fmt.Errorf("sqlite: insert data point: %w", err)
	}
	if dp.ID, err = res.LastInsertId(); err != nil {
		return store.DataPoint{}, fmt.Errorf("sqlite: data point id: %w", err)
	}
	return dp, nil
}

// Since implements store.DataStore.
func (s *Store) Since(ctx context.Context, appID int64, key string, since time.Time) ([]store.DataPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, app_id, key, value, created_at FROM data_points
		 WHERE app_id = ? AND key = ? AND created_at >= ?
		 ORDER BY created_at, id`,
		appID, key, since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query data points: %w", err)
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
		 WHERE app_id = ? AND key = ?
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
		return nil, fmt.Errorf("sqlite: query jobs: %w", err)
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
		job       store.Job
		config    string
		lastRun   sql.NullInt64
		nextRun   sql.NullInt64
		createdAt int64
	)
	err := sc.Scan(&job.ID, &job.AppID, &job.Name, &job.Schedule, &job.Description, &job.Action,
		&config, &job.Active, &lastRun, &nextRun, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Job{}, err
		}
		return store.Job{}, fmt.Errorf("sqlite: scan job: %w", err)
	}
	job.Config = json.RawMessage(config)
	job.LastRun = timeFromNullable(lastRun)
	job.NextRun = timeFromNullable(nextRun)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	return job, nil
}

func scanDataPoint(sc scanner) (store.DataPoint, error) {
	var (
		dp        store.DataPoint
		value     string
		createdAt int64
	)
	if err := sc.Scan(&dp.ID, &dp.AppID, &dp.Key, &value, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.DataPoint{}, err
		}
		return store.DataPoint{}, fmt.Errorf("sqlite: scan data point: %w", err)
	}
	dp.Value = json.RawMessage(value)
	dp.CreatedAt = time.Unix(0, createdAt).UTC()
	return dp, nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", store.ErrJobNotFound, id)
	}
	return nil
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timeFromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
