// Package gateway provides the HTTP surface of appcraft: job submission,
// data writes that fire triggered jobs, webhooks, a live data feed, an MCP
// tool endpoint and the health, status and metrics endpoints. It binds to
// loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/appcraft/internal/automation"
	"github.com/flemzord/appcraft/internal/core"
	"github.com/flemzord/appcraft/internal/security"
	"github.com/flemzord/appcraft/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// Service names published by the process for the gateway.
const (
	ConfigPathServiceName = "config.path"
	VersionServiceName    = "app.version"
)

// dataWebhookSource is the webhook source accepting data writes.
const dataWebhookSource = "data"

func init() {
	core.RegisterModule(&Gateway{})
}

// Gateway is the HTTP gateway module. It is a leaf module: nothing
// imports it.
type Gateway struct {
	config     Config
	configPath string
	version    string
	appCtx     *core.AppContext
	logger     *slog.Logger
	server     *http.Server
	metrics    *Metrics
	dispatcher *WebhookDispatcher
	startedAt  time.Time
	done       chan struct{}

	// Resolved lazily at Start() via service registry.
	sched    *automation.Scheduler
	feed     *store.Feed
	registry *prometheus.Registry
	audit    *security.AuditLogger
	limiter  *security.RateLimiter
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = &Metrics{}
	g.dispatcher = NewWebhookDispatcher(g.logger)
	g.done = make(chan struct{})

	ctx.RegisterService("gateway.metrics", g.metrics)
	ctx.RegisterService("gateway.webhook_dispatcher", g.dispatcher)

	// The data source is always served; its secret is optional.
	g.dispatcher.Register(dataWebhookSource, dataWebhook{g: g}, g.config.Webhooks[dataWebhookSource].Secret)
	for source := range g.config.Webhooks {
		if source != dataWebhookSource {
			g.logger.Warn("webhook source has no handler", "source", source)
		}
	}

	g.configPath, _ = core.ServiceAs[string](ctx, ConfigPathServiceName)
	g.version, _ = core.ServiceAs[string](ctx, VersionServiceName)
	if g.version == "" {
		g.version = "dev"
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	return g.config.validate()
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	g.resolveServices()
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// resolveServices binds optional services. Missing ones degrade the
// endpoints that need them.
func (g *Gateway) resolveServices() {
	if g.appCtx == nil {
		return
	}
	if g.sched == nil {
		g.sched, _ = core.ServiceAs[*automation.Scheduler](g.appCtx, automation.ServiceName)
	}
	if g.feed == nil {
		g.feed, _ = core.ServiceAs[*store.Feed](g.appCtx, automation.FeedServiceName)
	}
	if g.registry == nil {
		g.registry, _ = core.ServiceAs[*prometheus.Registry](g.appCtx, automation.RegistryServiceName)
	}
	if g.audit == nil {
		g.audit, _ = core.ServiceAs[*security.AuditLogger](g.appCtx, security.AuditServiceName)
	}
	if g.limiter == nil {
		g.limiter, _ = core.ServiceAs[*security.RateLimiter](g.appCtx, security.RateLimiterServiceName)
	}
	if g.sched == nil {
		g.logger.Warn("gateway: automation engine not configured, job and data endpoints are unavailable")
	}
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	close(g.done)

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

func (g *Gateway) now() time.Time {
	if g.sched != nil {
		return g.sched.Now()
	}
	return time.Now()
}
