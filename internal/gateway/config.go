package gateway

import (
	"errors"
	"net"
	"time"

	"github.com/flemzord/appcraft/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string                      `yaml:"bind"`
	Auth            AuthConfig                  `yaml:"auth"`
	Webhooks        map[string]WebhookSourceCfg `yaml:"webhooks"`
	ReadTimeout     time.Duration               `yaml:"read_timeout"`
	WriteTimeout    time.Duration               `yaml:"write_timeout"`
	ShutdownTimeout time.Duration               `yaml:"shutdown_timeout"`

	// MaxPayloadBytes bounds the JSON value of one data write.
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
	MaxJSONDepth    int `yaml:"max_json_depth"`

	// MCP mounts the tool endpoint at /mcp behind the admin auth.
	MCP MCPConfig `yaml:"mcp"`
}

// MCPConfig toggles the MCP tool endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = security.DefaultMaxPayloadSize
	}
	if c.MaxJSONDepth <= 0 {
		c.MaxJSONDepth = security.DefaultMaxJSONDepth
	}
}

func (c *Config) validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + c.Bind)
	}
	if c.MCP.Enabled && !c.Auth.IsConfigured() {
		return errors.New("gateway: mcp requires auth to be configured")
	}
	return nil
}

// AuthConfig configures authentication for the API and admin endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// WebhookSourceCfg holds per-source webhook configuration.
type WebhookSourceCfg struct {
	Secret string `yaml:"secret"`
}
