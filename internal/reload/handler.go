package reload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flemzord/appcraft/internal/config"
	"github.com/flemzord/appcraft/internal/security"
	"gopkg.in/yaml.v3"
)

// Options wires the live settings a Handler may change.
type Options struct {
	Limiter  *security.RateLimiter
	LevelVar *slog.LevelVar
	Logger   *slog.Logger
}

// Result describes what one reload did.
type Result struct {
	// Applied names the settings changed in place, e.g. "rate_limits".
	Applied []string
	// RestartRequired is set when sections that only take effect at
	// startup (modules, url_filter, audit_log, logging.format) differ from
	// the running configuration.
	RestartRequired bool
}

// Handler applies reloadable settings from a fresh configuration: rate
// limits and log level. Other changes are detected and reported.
type Handler struct {
	opts Options

	mu         sync.Mutex
	restartKey string
}

// NewHandler creates a Handler whose baseline is the running config.
func NewHandler(running *config.Config, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{opts: opts, restartKey: startupDigest(running)}
}

// Reload loads and validates path, then applies it. An invalid file
// leaves the running settings untouched.
func (h *Handler) Reload(path string) (Result, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return Result{}, fmt.Errorf("reload: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return Result{}, fmt.Errorf("reload: %w", err)
	}
	return h.Apply(cfg), nil
}

// Apply updates the live settings from an already validated config.
func (h *Handler) Apply(cfg *config.Config) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	var res Result

	if h.opts.Limiter != nil {
		var limits security.RateLimitConfig
		if cfg.Security != nil {
			limits = cfg.Security.RateLimits
		}
		before := h.opts.Limiter.Limits()
		h.opts.Limiter.SetLimits(limits)
		if after := h.opts.Limiter.Limits(); after != before {
			res.Applied = append(res.Applied, "rate_limits")
			h.opts.Logger.Info("rate limits updated",
				"data_writes_per_min", after.DataWritesPerMin,
				"triggered_runs_per_min", after.TriggeredRunsPerMin,
			)
		}
	}

	if h.opts.LevelVar != nil {
		level := security.ParseLevel(cfg.Logging.Level)
		if level != h.opts.LevelVar.Level() {
			h.opts.LevelVar.Set(level)
			res.Applied = append(res.Applied, "logging.level")
			h.opts.Logger.Info("log level updated", "level", level.String())
		}
	}

	if key := startupDigest(cfg); key != h.restartKey {
		res.RestartRequired = true
		h.opts.Logger.Warn("configuration changes require a restart to take effect")
	}

	return res
}

// startupDigest hashes the sections read only at startup.
func startupDigest(cfg *config.Config) string {
	view := struct {
		Modules   map[string]yaml.Node     `yaml:"modules"`
		URLFilter security.URLFilterConfig `yaml:"url_filter"`
		AuditLog  string                   `yaml:"audit_log"`
		Format    string                   `yaml:"format"`
	}{Modules: cfg.Modules, Format: cfg.Logging.Format}
	if cfg.Security != nil {
		view.URLFilter = cfg.Security.URLFilter
		view.AuditLog = cfg.Security.AuditLog
	}

	data, err := yaml.Marshal(view)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
