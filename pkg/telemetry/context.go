package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return NewTelemetryWithLogger(cfg, logger)
}

// NewTelemetryWithLogger is NewTelemetry for callers that already configured
// a logger.
func NewTelemetryWithLogger(cfg *Config, logger *Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Nop returns a telemetry bundle that logs nothing, exports nothing and
// delivers events synchronously.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.EnableAsync = false
	tel, _ := NewTelemetryWithLogger(cfg, Wrap(zerolog.Nop()))
	return tel
}

// Shutdown drains events and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// Operation is a traced, timed unit of pipeline work.
type Operation struct {
	Ctx   context.Context
	Span  trace.Span
	phase string
	start time.Time
	tel   *Telemetry
}

// StartPhase begins a pipeline phase span.
func (t *Telemetry) StartPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) *Operation {
	spanCtx, span := t.Tracer.StartPhaseSpan(ctx, phase, attrs...)
	return &Operation{Ctx: spanCtx, Span: span, phase: phase, start: time.Now(), tel: t}
}

// End closes the span and records the phase duration.
func (o *Operation) End(err error) {
	status := "ok"
	if err != nil {
		status = "error"
		RecordError(o.Span, err)
	} else {
		RecordSuccess(o.Span)
	}
	o.Span.End()
	o.tel.Metrics.RecordPhase(o.phase, status, time.Since(o.start))
}

// EngineCall runs fn inside an engine span and records its metrics.
func (t *Telemetry) EngineCall(ctx context.Context, operation, stackID string, fn func(context.Context) error) error {
	spanCtx, span := t.Tracer.StartEngineSpan(ctx, operation, stackID)
	defer span.End()

	start := time.Now()
	err := fn(spanCtx)
	t.Metrics.RecordEngineCall(operation, time.Since(start), err)
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}
