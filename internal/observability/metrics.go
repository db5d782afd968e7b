// Package observability wires the prometheus metrics and the default tracer
// used throughout ragnos-vault.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Metrics holds the registered collectors for registry routing, provider
// health, envelope encryption, and the audit sink.
type Metrics struct {
	ProviderStatus      *prometheus.GaugeVec
	HealthCheckDuration *prometheus.HistogramVec
	BreakerTransitions  *prometheus.CounterVec
	RoutingDecisions    *prometheus.CounterVec
	OperationCounter    *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	EncryptionDuration  *prometheus.HistogramVec
	KeyRotations        *prometheus.CounterVec
	AuditDropped        prometheus.Counter
}

// NewMetrics registers all collectors with reg. Pass a fresh
// prometheus.NewRegistry in tests to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProviderStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ragnos_provider_status",
				Help: "Provider instance status (0 initializing, 1 healthy, 2 degraded, 3 unhealthy)",
			},
			[]string{"provider"},
		),
		HealthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragnos_health_check_duration_seconds",
				Help:    "Duration of provider health probes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"provider"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragnos_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions per provider instance",
			},
			[]string{"provider", "transition"},
		),
		RoutingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragnos_routing_decisions_total",
				Help: "Tenant routing decisions by selected provider",
			},
			[]string{"tenant", "provider"},
		),
		OperationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragnos_provider_operations_total",
				Help: "Capability operations invoked against providers",
			},
			[]string{"operation"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragnos_provider_operation_duration_seconds",
				Help:    "Duration of capability operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		EncryptionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragnos_encryption_duration_seconds",
				Help:    "Duration of envelope encryption operations in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),
		KeyRotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragnos_key_rotations_total",
				Help: "Workspace DEK rotations",
			},
			[]string{"status"},
		),
		AuditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ragnos_audit_events_dropped_total",
				Help: "Audit events dropped because the sink buffer was full",
			},
		),
	}

	reg.MustRegister(
		m.ProviderStatus,
		m.HealthCheckDuration,
		m.BreakerTransitions,
		m.RoutingDecisions,
		m.OperationCounter,
		m.OperationDuration,
		m.EncryptionDuration,
		m.KeyRotations,
		m.AuditDropped,
	)
	return m
}

// Recorder adapts Metrics to the per-call hook carried by a provider
// context.
type Recorder struct {
	metrics *Metrics
}

// NewRecorder builds the context-level metrics hook.
func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{metrics: m}
}

// IncCounter increments the operation counter. The first label is the
// operation name; extra labels are ignored by this backend.
func (r *Recorder) IncCounter(name string, labels ...string) {
	r.metrics.OperationCounter.WithLabelValues(name).Inc()
}

// ObserveDuration records an operation latency.
func (r *Recorder) ObserveDuration(name string, d time.Duration, labels ...string) {
	r.metrics.OperationDuration.WithLabelValues(name).Observe(d.Seconds())
}

// StatusValue maps a provider health state string onto the gauge encoding.
func StatusValue(state string) float64 {
	switch state {
	case "initializing":
		return 0
	case "healthy":
		return 1
	case "degraded":
		return 2
	default:
		return 3
	}
}

// DefaultTracer returns the tracer used when no tracing backend is
// configured.
func DefaultTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("ragnos-vault")
}
