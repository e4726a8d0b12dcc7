package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/appcraft/internal/core"
)

// Validate checks the structural validity of a Config: version, known
// module IDs, exactly one storage backend, and the security and logging
// sections. All problems are reported together.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	stores := 0
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
		if core.ModuleID(id).Namespace() == "store" {
			stores++
		}
	}
	if stores > 1 {
		errs = append(errs, fmt.Errorf("config: %d store modules configured, at most one allowed", stores))
	}

	errs = append(errs, validateSecurity(cfg.Security)...)
	errs = append(errs, validateLogging(cfg.Logging)...)

	return errors.Join(errs...)
}

func validateSecurity(sec *SecurityConfig) []error {
	if sec == nil {
		return nil
	}
	var errs []error

	if sec.RateLimits.DataWritesPerMin < 0 {
		errs = append(errs, fmt.Errorf("config: security.rate_limits.data_writes_per_min must be non-negative, got %d", sec.RateLimits.DataWritesPerMin))
	}
	if sec.RateLimits.TriggeredRunsPerMin < 0 {
		errs = append(errs, fmt.Errorf("config: security.rate_limits.triggered_runs_per_min must be non-negative, got %d", sec.RateLimits.TriggeredRunsPerMin))
	}

	for i, d := range sec.URLFilter.AllowDomains {
		if strings.TrimSpace(d) == "" || strings.Contains(d, "/") {
			errs = append(errs, fmt.Errorf("config: security.url_filter.allow_domains[%d]: invalid domain %q", i, d))
		}
	}
	for i, d := range sec.URLFilter.DenyDomains {
		if strings.TrimSpace(d) == "" || strings.Contains(d, "/") {
			errs = append(errs, fmt.Errorf("config: security.url_filter.deny_domains[%d]: invalid domain %q", i, d))
		}
	}

	return errs
}

func validateLogging(l LoggingConfig) []error {
	var errs []error
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: logging.level %q (expected debug, info, warn, error)", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: logging.format %q (expected text, json)", l.Format))
	}
	return errs
}
