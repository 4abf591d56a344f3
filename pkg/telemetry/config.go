package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the telemetry setup of one process.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog root logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output string `validate:"required"`

	EnableCaller bool
}

// TracingConfig configures deploy and phase spans.
type TracingConfig struct {
	Enabled  bool
	Exporter string `validate:"oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string

	SamplingRate  float64 `validate:"gte=0,lte=1"`
	ExportTimeout time.Duration

	// Insecure disables TLS towards the collector.
	Insecure bool
}

// MetricsConfig configures the prometheus registry.
type MetricsConfig struct {
	Enabled   bool
	Namespace string `validate:"required"`

	// DurationBuckets are the deploy latency buckets in seconds.
	DurationBuckets []float64 `validate:"dive,gt=0"`
}

// EventsConfig configures lifecycle event delivery.
type EventsConfig struct {
	Enabled    bool
	BufferSize int `validate:"gte=0"`

	// EnableAsync delivers events from a background goroutine. When false,
	// Publish delivers before returning.
	EnableAsync bool
}

// DefaultConfig returns the configuration the CLI starts from.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "froyo-deploy",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "froyo",
			// Deploys take seconds to tens of minutes.
			DurationBuckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		},
		Events: EventsConfig{
			Enabled:     true,
			BufferSize:  256,
			EnableAsync: true,
		},
	}
}

// Validate checks the struct tags plus the rules that span fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return errors.New("invalid telemetry config: otlp exporter requires an endpoint")
	}
	if c.Events.Enabled && c.Events.EnableAsync && c.Events.BufferSize == 0 {
		return errors.New("invalid telemetry config: async events need a buffer")
	}
	return nil
}
