// Package storetest provides a conformance suite run against every
// store.Store implementation.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/appcraft/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises the job and data contracts of store.Store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("CreateAndGetJob", func(t *testing.T) { testCreateAndGetJob(t, newStore(t)) })
	t.Run("GetJobNotFound", func(t *testing.T) { testGetJobNotFound(t, newStore(t)) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, newStore(t)) })
	t.Run("RecordRun", func(t *testing.T) { testRecordRun(t, newStore(t)) })
	t.Run("SetActive", func(t *testing.T) { testSetActive(t, newStore(t)) })
	t.Run("AppendAndSince", func(t *testing.T) { testAppendAndSince(t, newStore(t)) })
	t.Run("Latest", func(t *testing.T) { testLatest(t, newStore(t)) })
	t.Run("AppendInvalidKey", func(t *testing.T) { testAppendInvalidKey(t, newStore(t)) })
}

// NewJob returns a valid active job for appID.
func NewJob(appID int64, name string) store.Job {
	return store.Job{
		AppID:       appID,
		Name:        name,
		Schedule:    "*/5 * * * *",
		Description: "every five minutes",
		Action:      "send_reminder",
		Config:      json.RawMessage(`{"text":"drink water"}`),
		Active:      true,
	}
}

func testCreateAndGetJob(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.CreateJob(ctx, NewJob(1, "water"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(1), got.AppID)
	assert.Equal(t, "water", got.Name)
	assert.Equal(t, "*/5 * * * *", got.Schedule)
	assert.Equal(t, "send_reminder", got.Action)
	assert.JSONEq(t, `{"text":"drink water"}`, string(got.Config))
	assert.True(t, got.Active)
	assert.Nil(t, got.LastRun)
	assert.Nil(t, got.NextRun)
}

func testGetJobNotFound(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), 424242)
	assert.True(t, errors.Is(err, store.ErrJobNotFound), "err = %v", err)

	err = s.SetActive(context.Background(), 424242, false)
	assert.True(t, errors.Is(err, store.ErrJobNotFound), "err = %v", err)

	err = s.RecordRun(context.Background(), 424242, time.Now(), nil)
	assert.True(t, errors.Is(err, store.ErrJobNotFound), "err = %v", err)
}

func testListAndCount(t *testing.T, s store.Store) {
	ctx := context.Background()

	a1, err := s.CreateJob(ctx, NewJob(1, "a1"))
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, NewJob(1, "a2"))
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, NewJob(2, "b1"))
	require.NoError(t, err)
	require.NoError(t, s.SetActive(ctx, a1.ID, false))

	n, err := s.CountJobs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "inactive jobs still count")

	all, err := s.ListJobsByApp(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListActiveJobsByApp(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a2", active[0].Name)

	everywhere, err := s.ListActiveJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, everywhere, 2)
}

func testRecordRun(t *testing.T, s store.Store) {
	ctx := context.Background()

	job, err := s.CreateJob(ctx, NewJob(1, "run"))
	require.NoError(t, err)

	last := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	next := last.Add(5 * time.Minute)
	require.NoError(t, s.RecordRun(ctx, job.ID, last, &next))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.LastRun.Equal(last))
	assert.True(t, got.NextRun.Equal(next))

	require.NoError(t, s.RecordRun(ctx, job.ID, next, nil))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.LastRun.Equal(next))
	assert.Nil(t, got.NextRun)
}

func testSetActive(t *testing.T, s store.Store) {
	ctx := context.Background()

	job, err := s.CreateJob(ctx, NewJob(3, "toggle"))
	require.NoError(t, err)
	require.NoError(t, s.SetActive(ctx, job.ID, false))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func testAppendAndSince(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, v := range []string{`70`, `{"value":72}`, `74`} {
		_, err := s.Append(ctx, store.DataPoint{
			AppID:     42,
			Key:       "weight",
			Value:     json.RawMessage(v),
			CreatedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, store.DataPoint{AppID: 43, Key: "weight", Value: json.RawMessage(`1`), CreatedAt: base})
	require.NoError(t, err)

	got, err := s.Since(ctx, 42, "weight", base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"value":72}`, string(got[0].Value))
	assert.JSONEq(t, `74`, string(got[1].Value))
	assert.NotZero(t, got[0].ID)

	stamped, err := s.Append(ctx, store.DataPoint{AppID: 42, Key: "note", Value: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	assert.False(t, stamped.CreatedAt.IsZero())
}

func testLatest(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Latest(ctx, 7, "mood")
	assert.True(t, errors.Is(err, store.ErrNoData), "err = %v", err)

	_, err = s.Append(ctx, store.DataPoint{AppID: 7, Key: "mood", Value: json.RawMessage(`"ok"`), CreatedAt: base})
	require.NoError(t, err)
	_, err = s.Append(ctx, store.DataPoint{AppID: 7, Key: "mood", Value: json.RawMessage(`"great"`), CreatedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	got, err := s.Latest(ctx, 7, "mood")
	require.NoError(t, err)
	assert.JSONEq(t, `"great"`, string(got.Value))
}

func testAppendInvalidKey(t *testing.T, s store.Store) {
	for _, key := range []string{"", "1abc", "has space", "semi;colon"} {
		_, err := s.Append(context.Background(), store.DataPoint{AppID: 1, Key: key, Value: json.RawMessage(`1`)})
		assert.True(t, errors.Is(err, store.ErrInvalidKey), "key %q: err = %v", key, err)
	}
}
