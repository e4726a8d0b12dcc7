package automation

import (
	"context"
	"testing"
	"time"

	"github.com/flemzord/appcraft/internal/core"
	"github.com/flemzord/appcraft/internal/security"
	"github.com/flemzord/appcraft/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func moduleConfig(t *testing.T, src string) map[string]yaml.Node {
	t.Helper()
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &node))
	return map[string]yaml.Node{"automation.engine": *node.Content[0]}
}

func TestModule_ConfigureDefaults(t *testing.T) {
	t.Parallel()

	m := &Module{}
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("fetch:\n  timeout: 3s\n"), &node))
	require.NoError(t, m.Configure(node.Content[0]))

	assert.Equal(t, DefaultMaxJobsPerApp, m.config.MaxJobsPerApp)
	assert.Equal(t, 5*time.Second, m.config.TriggerWait)
	assert.Equal(t, 3*time.Second, m.config.Fetch.Timeout)
}

func TestModule_ValidateRejectsNegatives(t *testing.T) {
	t.Parallel()

	m := &Module{config: Config{MaxJobsPerApp: -1}}
	require.Error(t, m.Validate())

	m = &Module{config: Config{TriggerWait: -time.Second}}
	require.Error(t, m.Validate())
}

func TestModule_ProvisionFallsBackToMemory(t *testing.T) {
	t.Parallel()

	appCtx := core.NewAppContext(nil, t.TempDir()).
		WithModuleConfigs(moduleConfig(t, "max_jobs_per_app: 3\ntrigger_wait: 1s\n"))
	mod, err := appCtx.LoadModule("automation.engine")
	require.NoError(t, err)

	sched, ok := core.ServiceAs[*Scheduler](appCtx, ServiceName)
	require.True(t, ok)
	assert.Same(t, mod.(*Module).Scheduler(), sched)
	assert.Equal(t, 3, sched.MaxJobsPerApp())
	assert.Equal(t, time.Second, sched.TriggerWait())

	_, ok = core.ServiceAs[*store.Feed](appCtx, FeedServiceName)
	assert.True(t, ok)
	_, ok = core.ServiceAs[*prometheus.Registry](appCtx, RegistryServiceName)
	assert.True(t, ok)
}

func TestModule_UsesRegisteredServices(t *testing.T) {
	t.Parallel()

	ms := store.NewMemoryStore()
	appCtx := core.NewAppContext(nil, t.TempDir())
	appCtx.RegisterService(store.ServiceName, store.Store(ms))
	appCtx.RegisterService(security.RateLimiterServiceName, security.NewRateLimiter(security.RateLimitConfig{}))

	job, err := ms.CreateJob(context.Background(), store.Job{
		AppID: 1, Name: "stored", Schedule: "0 8 * * *", Action: "send_reminder", Active: true,
	})
	require.NoError(t, err)

	mod, err := appCtx.LoadModule("automation.engine")
	require.NoError(t, err)
	m := mod.(*Module)

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	assert.True(t, m.Scheduler().Scheduled(job.ID))
	assert.True(t, m.Scheduler().Clock().Has("ratelimit-prune"))

	// Writes through the scheduler's data store reach the feed.
	feed, _ := core.ServiceAs[*store.Feed](appCtx, FeedServiceName)
	sub := feed.Subscribe(1)
	defer sub.Close()
	_, err = m.Scheduler().Data().Append(context.Background(), store.DataPoint{AppID: 1, Key: "k", Value: []byte(`1`)})
	require.NoError(t, err)
	select {
	case dp := <-sub.C:
		assert.Equal(t, "k", dp.Key)
	case <-time.After(time.Second):
		t.Fatal("no feed event")
	}

	got, err := ms.Latest(context.Background(), 1, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(got.Value))
}
