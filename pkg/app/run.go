// Package app provides the shared entry point of the appcraft binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flemzord/appcraft/internal/config"
	"github.com/flemzord/appcraft/internal/core"
	"github.com/flemzord/appcraft/internal/gateway"
	"github.com/flemzord/appcraft/internal/reload"
	"github.com/flemzord/appcraft/internal/security"

	// Modules register themselves with the core registry on import.
	_ "github.com/flemzord/appcraft/internal/automation"
	_ "github.com/flemzord/appcraft/internal/telemetry"
	_ "github.com/flemzord/appcraft/modules/store/postgres"
	_ "github.com/flemzord/appcraft/modules/store/sqlite"
)

const appName = "appcraft"

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogOutput receives process logs. Defaults to os.Stderr.
	LogOutput io.Writer

	// WatchInterval is how often the config file is polled for changes.
	// Zero uses the watcher default; negative disables polling.
	WatchInterval time.Duration
}

// Runtime is a started application. Stop releases everything Start acquired.
type Runtime struct {
	app        *core.App
	logger     *slog.Logger
	auditFile  *os.File
	configPath string
	reloader   *reload.Handler
}

// Logger returns the process logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Modules returns the IDs of the running modules in start order.
func (r *Runtime) Modules() []core.ModuleID { return r.app.Modules() }

// Reload re-reads the config file and applies the settings that can change
// without a restart.
func (r *Runtime) Reload() (reload.Result, error) {
	return r.reloader.Reload(r.configPath)
}

// Stop stops all modules in reverse order and closes the audit log.
func (r *Runtime) Stop() {
	r.app.Stop()
	if r.auditFile != nil {
		if err := r.auditFile.Close(); err != nil {
			r.logger.Warn("closing audit log", "error", err)
		}
	}
	r.logger.Info("shutdown complete")
}

// Start loads and validates the configuration, builds the shared security
// services, then provisions and starts every configured module.
func Start(params RunParams) (*Runtime, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	out := params.LogOutput
	if out == nil {
		out = os.Stderr
	}
	redactor := security.NewRedactor()
	levelVar := new(slog.LevelVar)
	logger := security.NewLogger(out, security.LogOptions{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		LevelVar: levelVar,
	}, redactor)

	auditCfg := security.AuditLoggerConfig{Redactor: redactor}
	var auditFile *os.File
	if cfg.Security != nil && cfg.Security.AuditLog != "" {
		auditFile, err = openAuditLog(cfg.Security.AuditLog)
		if err != nil {
			return nil, err
		}
		auditCfg.Writer = auditFile
	}
	auditLogger := security.NewAuditLogger(auditCfg)

	var limits security.RateLimitConfig
	if cfg.Security != nil {
		limits = cfg.Security.RateLimits
	}
	rateLimiter := security.NewRateLimiter(limits)

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	appCtx := core.NewAppContext(logger, dataDir).WithModuleConfigs(cfg.Modules)

	appCtx.RegisterService(security.AuditServiceName, auditLogger)
	appCtx.RegisterService(security.RateLimiterServiceName, rateLimiter)
	appCtx.RegisterService(gateway.ConfigPathServiceName, cfgPath)
	appCtx.RegisterService(gateway.VersionServiceName, versionOrDev(params.Version))

	if cfg.Security != nil {
		if filter := security.NewURLFilter(cfg.Security.URLFilter); filter.IsConfigured() {
			appCtx.RegisterService(security.URLFilterServiceName, filter)
		}
	}

	closeAudit := func() {
		if auditFile != nil {
			_ = auditFile.Close()
		}
	}

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		closeAudit()
		return nil, err
	}
	if err := application.Start(); err != nil {
		closeAudit()
		return nil, err
	}

	logger.Info("appcraft started",
		"version", versionOrDev(params.Version),
		"commit", params.Commit,
		"config", cfgPath,
		"modules", len(ids),
	)

	return &Runtime{
		app:        application,
		logger:     logger,
		auditFile:  auditFile,
		configPath: cfgPath,
		reloader: reload.NewHandler(cfg, reload.Options{
			Limiter:  rateLimiter,
			LevelVar: levelVar,
			Logger:   logger,
		}),
	}, nil
}

// Run starts the application and blocks until SIGINT or SIGTERM. SIGHUP
// and edits of the config file trigger Reload.
func Run(params RunParams) error {
	rt, err := Start(params)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var changes <-chan reload.Event
	if params.WatchInterval >= 0 {
		watcher := reload.NewWatcher(reload.WatcherConfig{
			ConfigPath:   rt.configPath,
			PollInterval: params.WatchInterval,
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		watcher.Start(ctx)
		defer watcher.Stop()
		changes = watcher.Events()
	}

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				rt.logger.Info("SIGHUP received, reloading configuration")
				rt.reloadAndLog()
				continue
			}
			rt.logger.Info("shutdown signal received", "signal", sig.String())
			rt.Stop()
			return nil
		case evt := <-changes:
			rt.logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			rt.reloadAndLog()
		}
	}
}

func (r *Runtime) reloadAndLog() {
	res, err := r.Reload()
	if err != nil {
		r.logger.Error("reload failed", "error", err)
		return
	}
	r.logger.Info("configuration reloaded",
		"applied", res.Applied,
		"restart_required", res.RestartRequired,
	)
}

func openAuditLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	return f, nil
}

func versionOrDev(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}

// ErrNoConfig is returned by ResolveConfigPath when no candidate exists.
var ErrNoConfig = errors.New("no configuration file found")

// ConfigCandidates returns the locations searched for a config file, in order:
// $XDG_CONFIG_HOME/appcraft/appcraft.yaml, ~/.config/appcraft/appcraft.yaml,
// then ./appcraft.yaml.
func ConfigCandidates() []string {
	var candidates []string
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, appName, appName+".yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", appName, appName+".yaml"))
	}
	return append(candidates, appName+".yaml")
}

// ResolveConfigPath returns the first existing file of ConfigCandidates.
func ResolveConfigPath() (string, error) {
	candidates := ConfigCandidates()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/appcraft if set, otherwise ~/.local/share/appcraft.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", appName)
}
