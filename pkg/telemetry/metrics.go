package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for deploys. A disabled Metrics is a
// no-op on every method.
type Metrics struct {
	config MetricsConfig

	deploysStarted   *prometheus.CounterVec
	deploysCompleted *prometheus.CounterVec
	deployDuration   *prometheus.HistogramVec
	teardowns        *prometheus.CounterVec

	phaseDuration *prometheus.HistogramVec

	engineCalls    *prometheus.CounterVec
	engineErrors   *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	leaseConflicts prometheus.Counter
	activeDeploys  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		deploysStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "deploys_started_total",
			Help:      "Total number of deploy attempts started",
		}, []string{"provider"}),
		deploysCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "deploys_completed_total",
			Help:      "Total number of deploy attempts finished",
		}, []string{"provider", "status"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "deploy_duration_seconds",
			Help:      "Deploy attempt duration in seconds",
			Buckets:   buckets,
		}, []string{"provider", "status"}),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "teardowns_total",
			Help:      "Total number of teardowns",
		}, []string{"status"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "phase_duration_seconds",
			Help:      "Duration of a single deploy phase in seconds",
			Buckets:   buckets,
		}, []string{"phase", "status"}),
		engineCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "engine_calls_total",
			Help:      "Total number of provisioning engine calls",
		}, []string{"operation"}),
		engineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "engine_errors_total",
			Help:      "Total number of failed provisioning engine calls",
		}, []string{"operation"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "engine_call_duration_seconds",
			Help:      "Provisioning engine call duration in seconds",
			Buckets:   buckets,
		}, []string{"operation"}),
		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_by_class_total",
			Help:      "Errors grouped by class",
		}, []string{"class"}),
		errorsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_by_code_total",
			Help:      "Errors grouped by code",
		}, []string{"code"}),
		leaseConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "lease_conflicts_total",
			Help:      "Deploys refused because another operation held the stack",
		}),
		activeDeploys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_deploys",
			Help:      "Number of deploys and teardowns in flight",
		}),
	}

	m.registry.MustRegister(
		m.deploysStarted, m.deploysCompleted, m.deployDuration, m.teardowns,
		m.phaseDuration,
		m.engineCalls, m.engineErrors, m.engineDuration,
		m.errorsByClass, m.errorsByCode,
		m.leaseConflicts, m.activeDeploys,
	)
	return m, nil
}

// RecordDeployStarted increments the started counter and the in-flight gauge.
func (m *Metrics) RecordDeployStarted(provider string) {
	if !m.config.Enabled {
		return
	}
	m.deploysStarted.WithLabelValues(provider).Inc()
	m.activeDeploys.Inc()
}

// RecordDeployCompleted records the outcome of a deploy attempt.
func (m *Metrics) RecordDeployCompleted(provider, status string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	m.deploysCompleted.WithLabelValues(provider, status).Inc()
	m.deployDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	m.activeDeploys.Dec()
}

// RecordTeardown records a teardown outcome.
func (m *Metrics) RecordTeardown(status string) {
	if !m.config.Enabled {
		return
	}
	m.teardowns.WithLabelValues(status).Inc()
}

// RecordPhase records the duration of a pipeline phase.
func (m *Metrics) RecordPhase(phase, status string, duration time.Duration) {
	if !m.config.Enabled {
		return
	}
	m.phaseDuration.WithLabelValues(phase, status).Observe(duration.Seconds())
}

// RecordEngineCall records a provisioning engine call.
func (m *Metrics) RecordEngineCall(operation string, duration time.Duration, err error) {
	if !m.config.Enabled {
		return
	}
	m.engineCalls.WithLabelValues(operation).Inc()
	m.engineDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.engineErrors.WithLabelValues(operation).Inc()
	}
}

// RecordError records an error by class and code.
func (m *Metrics) RecordError(class, code string) {
	if !m.config.Enabled {
		return
	}
	if class == "" {
		class = "unknown"
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// RecordLeaseConflict counts a refused concurrent operation.
func (m *Metrics) RecordLeaseConflict() {
	if !m.config.Enabled {
		return
	}
	m.leaseConflicts.Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
