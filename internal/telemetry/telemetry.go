// Package telemetry implements the telemetry.otlp module, which installs
// an OpenTelemetry tracer provider exporting over OTLP/HTTP. Without it
// the spans opened by the engine go to the no-op global provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/flemzord/appcraft/internal/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"
)

// ServiceName is the core service holding the *sdktrace.TracerProvider.
const ServiceName = "telemetry.tracer_provider"

const (
	defaultServiceName = "appcraft"
	defaultTimeout     = 10 * time.Second
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Config holds the telemetry.otlp module configuration.
type Config struct {
	// Endpoint is the collector host:port, e.g. "localhost:4318".
	Endpoint string `yaml:"endpoint"`

	// URLPath overrides the default "/v1/traces".
	URLPath string `yaml:"url_path"`

	// Insecure sends spans over plain HTTP.
	Insecure bool `yaml:"insecure"`

	// Headers are added to every export request.
	Headers map[string]string `yaml:"headers"`

	// ServiceName is reported as service.name. Defaults to "appcraft".
	ServiceName string `yaml:"service_name"`

	// SampleRatio is the fraction of root traces kept. Defaults to 1.
	SampleRatio *float64 `yaml:"sample_ratio"`

	// Timeout bounds each export. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.SampleRatio == nil {
		r := 1.0
		c.SampleRatio = &r
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}

func (c *Config) validate() error {
	if c.Endpoint == "" {
		return errors.New("telemetry: endpoint is required")
	}
	if r := *c.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1], got %g", r)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("telemetry: timeout must be non-negative, got %s", c.Timeout)
	}
	return nil
}

// Module installs the global tracer provider.
type Module struct {
	config   Config
	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "telemetry.otlp",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("telemetry: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The exporter connects lazily, so
// an unreachable collector does not fail startup.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if err := m.config.validate(); err != nil {
		return err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(m.config.Endpoint),
		otlptracehttp.WithTimeout(m.config.Timeout),
	}
	if m.config.URLPath != "" {
		opts = append(opts, otlptracehttp.WithURLPath(m.config.URLPath))
	}
	if m.config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(m.config.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(maps.Clone(m.config.Headers)))
	}

	exporter, err := otlptracehttp.New(context.TODO(), opts...)
	if err != nil {
		return fmt.Errorf("telemetry: creating exporter: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(*m.config.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", m.config.ServiceName),
		)),
	)
	otel.SetTracerProvider(m.provider)
	ctx.RegisterService(ServiceName, m.provider)

	m.logger.Info("otlp tracing enabled",
		"endpoint", m.config.Endpoint,
		"sample_ratio", *m.config.SampleRatio,
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Stop implements core.Stopper. Pending spans are flushed until ctx ends.
func (m *Module) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}
