// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for appcraft.
package config

import (
	"github.com/flemzord/appcraft/internal/security"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "store.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`

	// Security holds outbound-fetch, rate-limit and audit settings.
	Security *SecurityConfig `yaml:"security,omitempty"`

	// Logging selects level and handler format.
	Logging LoggingConfig `yaml:"logging"`
}

// SecurityConfig holds security-related settings shared across modules.
type SecurityConfig struct {
	URLFilter  security.URLFilterConfig `yaml:"url_filter"`
	RateLimits security.RateLimitConfig `yaml:"rate_limits"`

	// AuditLog is a JSONL file receiving audit events. Empty disables the file.
	AuditLog string `yaml:"audit_log"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
