package sqlite

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/appcraft/internal/core"
	"github.com/flemzord/appcraft/internal/store"
	"github.com/flemzord/appcraft/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, db, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return st
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, openTestStore)
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	_, db, err := Open(context.Background(), path, Config{})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	st, db, err := Open(ctx, path, Config{})
	require.NoError(t, err)
	job, err := st.CreateJob(ctx, storetest.NewJob(1, "kept"))
	require.NoError(t, err)
	_, err = st.Append(ctx, store.DataPoint{AppID: 1, Key: "weight", Value: json.RawMessage(`71.5`)})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	st, db, err = Open(ctx, path, Config{})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	active, err := st.ListActiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, job.ID, active[0].ID)

	dp, err := st.Latest(ctx, 1, "weight")
	require.NoError(t, err)
	assert.JSONEq(t, `71.5`, string(dp.Value))
	assert.WithinDuration(t, time.Now(), dp.CreatedAt, time.Minute)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	_, db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"), Config{})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, migrate(ctx, db))

	var rows int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM schema_version").Scan(&rows))
	assert.Equal(t, schemaVersion(), rows)
}

func TestModule_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	appCtx := core.NewAppContext(slog.Default(), dir)

	mod, err := appCtx.LoadModule("store.sqlite")
	require.NoError(t, err)
	m := mod.(*Module)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	assert.Equal(t, filepath.Join(dir, defaultDBFile), m.config.Path)
	assert.True(t, m.config.walEnabled())

	svc, ok := core.ServiceAs[store.Store](appCtx, store.ServiceName)
	require.True(t, ok)
	assert.Same(t, m.Store(), svc)

	var mode string
	require.NoError(t, m.db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestConfig_Validate(t *testing.T) {
	c := Config{BusyTimeout: -1}
	assert.Error(t, c.validate())

	c = Config{}
	c.defaults()
	assert.NoError(t, c.validate())
	assert.Equal(t, defaultBusyTimeout, c.BusyTimeout)
}
