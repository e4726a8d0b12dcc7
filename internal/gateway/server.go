package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	if g.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}

	// Webhooks carry their own HMAC auth per source.
	r.Post("/webhooks/{source}", g.dispatcher.ServeHTTP)

	// Application API. Guarded when auth is configured, open on the
	// loopback default otherwise.
	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.audit))
		}
		r.Get("/api/cron/next", g.handleCronNext())
		r.Get("/api/apps/{appID}/jobs", g.handleListJobs())
		r.Post("/api/apps/{appID}/jobs", g.handleSubmitJobs())
		r.Get("/api/apps/{appID}/data/{key}", g.handleReadData())
		r.Post("/api/apps/{appID}/data/{key}", g.handleWriteData())
		r.Post("/api/jobs/{jobID}/run", g.handleRunJob())
		r.Post("/api/jobs/{jobID}/deactivate", g.handleDeactivateJob())
		r.Get("/ws/apps/{appID}/feed", g.handleFeed())
	})

	// Admin endpoints. Not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.audit))
			r.Get("/status", g.handleStatus())
			r.Get("/api/modules", g.handleGetAllModules())
			r.Get("/api/config", g.handleGetConfig())
			r.Post("/api/config/check", g.handleCheckConfig())
			if g.config.MCP.Enabled {
				r.Handle("/mcp", g.newMCPHandler(g.version))
			}
		})
	}

	return r
}
