package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flemzord/appcraft/internal/config"
	"gopkg.in/yaml.v3"
)

// Storage backends offered by the starter config.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// StarterOptions are the answers of `appcraft config init`.
type StarterOptions struct {
	Storage     string // StorageSQLite or StoragePostgres
	PostgresDSN string
	Bind        string
	// TokenEnv names the environment variable holding the API bearer
	// token. Empty leaves the gateway unauthenticated.
	TokenEnv     string
	EnableMCP    bool
	OTLPEndpoint string
	LogFormat    string
	AllowDomains []string
}

// ErrConfigExists is returned by WriteStarterConfig when the target exists
// and overwrite was not requested.
var ErrConfigExists = errors.New("config file already exists")

type starterFile struct {
	Version  string                 `yaml:"version"`
	Logging  config.LoggingConfig   `yaml:"logging"`
	Security *config.SecurityConfig `yaml:"security"`
	Modules  map[string]any         `yaml:"modules"`
}

// StarterConfig renders a version "1" configuration from opts.
func StarterConfig(opts StarterOptions) ([]byte, error) {
	modules := map[string]any{
		"automation.engine": map[string]any{
			"max_jobs_per_app": 5,
			"trigger_wait":     "5s",
		},
	}

	switch opts.Storage {
	case "", StorageSQLite:
		modules["store.sqlite"] = map[string]any{"wal": true}
	case StoragePostgres:
		if opts.PostgresDSN == "" {
			return nil, errors.New("starter: postgres storage requires a DSN")
		}
		modules["store.postgres"] = map[string]any{"dsn": opts.PostgresDSN}
	default:
		return nil, fmt.Errorf("starter: unknown storage %q", opts.Storage)
	}

	bind := opts.Bind
	if bind == "" {
		bind = "127.0.0.1:8080"
	}
	gw := map[string]any{"bind": bind}
	if opts.TokenEnv != "" {
		gw["auth"] = map[string]any{"bearer_token": "${" + opts.TokenEnv + "}"}
		if opts.EnableMCP {
			gw["mcp"] = map[string]any{"enabled": true}
		}
	} else if opts.EnableMCP {
		return nil, errors.New("starter: mcp requires an auth token")
	}
	modules["gateway.http"] = gw

	if opts.OTLPEndpoint != "" {
		modules["telemetry.otlp"] = map[string]any{
			"endpoint": opts.OTLPEndpoint,
			"insecure": true,
		}
	}

	f := starterFile{
		Version: "1",
		Logging: config.LoggingConfig{Level: "info", Format: opts.LogFormat},
		Modules: modules,
	}
	if f.Logging.Format == "" {
		f.Logging.Format = "text"
	}
	f.Security = &config.SecurityConfig{}
	f.Security.RateLimits.DataWritesPerMin = 120
	f.Security.RateLimits.TriggeredRunsPerMin = 60
	f.Security.URLFilter.AllowDomains = opts.AllowDomains

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("starter: encoding: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("starter: encoding: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteStarterConfig renders opts to path, creating parent directories.
func WriteStarterConfig(path string, opts StarterOptions, overwrite bool) error {
	data, err := StarterConfig(opts)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("starter: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
