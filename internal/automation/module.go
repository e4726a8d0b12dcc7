package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/appcraft/internal/core"
	"github.com/flemzord/appcraft/internal/cron"
	"github.com/flemzord/appcraft/internal/fetch"
	"github.com/flemzord/appcraft/internal/security"
	"github.com/flemzord/appcraft/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/yaml.v3"
)

// Core service names published by the module.
const (
	ServiceName         = "automation"
	FeedServiceName     = "automation.feed"
	RegistryServiceName = "metrics.registry"
)

const metricsNamespace = "appcraft"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the automation.engine core module. It uses the Store
// registered by a store.* module, or an in-memory store when none is
// configured.
type Module struct {
	config    Config
	logger    *slog.Logger
	scheduler *Scheduler
	feed      *store.Feed
	limiter   *security.RateLimiter
	registry  *prometheus.Registry
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "automation.engine",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("automation: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	st, ok := core.ServiceAs[store.Store](ctx, store.ServiceName)
	if !ok {
		m.logger.Warn("automation: no store module configured, jobs and data are kept in memory")
		st = store.NewMemoryStore()
	}

	m.feed = store.NewFeed(m.config.FeedBuffer)
	st = store.Notify(st, m.feed)

	m.registry, ok = core.ServiceAs[*prometheus.Registry](ctx, RegistryServiceName)
	if !ok {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		ctx.RegisterService(RegistryServiceName, m.registry)
	}

	fetchOpts := []fetch.Option{}
	if filter, ok := core.ServiceAs[*security.URLFilter](ctx, security.URLFilterServiceName); ok {
		fetchOpts = append(fetchOpts, fetch.WithURLFilter(filter))
	}
	audit, _ := core.ServiceAs[*security.AuditLogger](ctx, security.AuditServiceName)
	m.limiter, _ = core.ServiceAs[*security.RateLimiter](ctx, security.RateLimiterServiceName)

	m.scheduler = New(Options{
		Store:         st,
		Fetcher:       fetch.New(m.config.Fetch, fetchOpts...),
		Logger:        m.logger,
		MaxJobsPerApp: m.config.MaxJobsPerApp,
		TriggerWait:   m.config.TriggerWait,
		Limiter:       m.limiter,
		Audit:         audit,
		Metrics:       NewMetrics(metricsNamespace, m.registry),
	})

	ctx.RegisterService(ServiceName, m.scheduler)
	ctx.RegisterService(FeedServiceName, m.feed)

	m.logger.Info("automation engine provisioned",
		"max_jobs_per_app", m.config.MaxJobsPerApp,
		"trigger_wait", m.config.TriggerWait,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Start implements core.Starter. It loads persisted jobs and starts the
// trigger clock.
func (m *Module) Start() error {
	if _, err := m.scheduler.LoadAll(context.Background()); err != nil {
		return err
	}
	if m.limiter != nil {
		prune := &cron.PruneJob{Target: m.limiter, JobName: "ratelimit-prune", Logger: m.logger}
		if err := m.scheduler.Clock().RegisterJob(prune); err != nil && !errors.Is(err, cron.ErrDuplicate) {
			return err
		}
	}
	m.scheduler.Start()
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.scheduler == nil {
		return nil
	}
	m.logger.Info("automation engine stopping")
	return m.scheduler.Stop(ctx)
}

// Scheduler returns the job scheduler.
func (m *Module) Scheduler() *Scheduler { return m.scheduler }
