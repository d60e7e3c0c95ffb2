package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the runtime. It also satisfies
// the event bus Observer interface, so the bus reports publish/drop/resolve
// outcomes directly into these counters.
type Metrics struct {
	config MetricsConfig

	// Event bus metrics
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	eventsResolved  *prometheus.CounterVec
	deliveryErrors  prometheus.Counter
	queueDepth      prometheus.Gauge

	// Subsystem lifecycle metrics
	subsystemsByState *prometheus.GaugeVec
	healthChecks      *prometheus.CounterVec
	recoveryAttempts  *prometheus.CounterVec
	initializations   *prometheus.CounterVec
	initDuration      *prometheus.HistogramVec

	// Boot metrics
	bootSessions        *prometheus.CounterVec
	bootSessionDuration *prometheus.HistogramVec
	approvals           *prometheus.CounterVec
	emergencyMode       prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events accepted by the bus",
			},
			[]string{"category", "priority"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped before delivery",
			},
			[]string{"reason"},
		),
		eventsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_resolved_total",
				Help:      "Total number of events by resolution outcome",
			},
			[]string{"outcome"},
		),
		deliveryErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_delivery_errors_total",
				Help:      "Total number of subscriber delivery failures",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_queue_depth",
				Help:      "Current depth of the event priority queue",
			},
		),

		subsystemsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subsystems_by_state",
				Help:      "Current number of subsystems in each lifecycle state",
			},
			[]string{"state"},
		),
		healthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Total number of health checks by outcome",
			},
			[]string{"outcome"},
		),
		recoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_attempts_total",
				Help:      "Total number of recovery attempts by outcome",
			},
			[]string{"outcome"},
		),
		initializations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subsystem_initializations_total",
				Help:      "Total number of subsystem initializations by outcome",
			},
			[]string{"outcome"},
		),
		initDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "subsystem_init_duration_seconds",
				Help:      "Duration of subsystem initialization in seconds",
				Buckets:   buckets,
			},
			[]string{"priority"},
		),

		bootSessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "boot_sessions_total",
				Help:      "Total number of boot sessions by status",
			},
			[]string{"status", "profile"},
		),
		bootSessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "boot_session_duration_seconds",
				Help:      "Duration of boot sessions in seconds",
				Buckets:   buckets,
			},
			[]string{"profile"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approvals_total",
				Help:      "Total number of approval decisions",
			},
			[]string{"decision"},
		),
		emergencyMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "emergency_mode",
				Help:      "Whether emergency mode is active (1=active, 0=inactive)",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.eventsPublished,
		m.eventsDropped,
		m.eventsResolved,
		m.deliveryErrors,
		m.queueDepth,
		m.subsystemsByState,
		m.healthChecks,
		m.recoveryAttempts,
		m.initializations,
		m.initDuration,
		m.bootSessions,
		m.bootSessionDuration,
		m.approvals,
		m.emergencyMode,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Event bus observer methods.

// EventPublished records an event accepted by the bus.
func (m *Metrics) EventPublished(category, priority string) {
	if m.eventsPublished == nil {
		return
	}
	m.eventsPublished.WithLabelValues(category, priority).Inc()
}

// EventDropped records an event dropped before delivery.
func (m *Metrics) EventDropped(reason string) {
	if m.eventsDropped == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// EventResolved records an event's resolution outcome (delivered, vetoed,
// unapproved).
func (m *Metrics) EventResolved(outcome string) {
	if m.eventsResolved == nil {
		return
	}
	m.eventsResolved.WithLabelValues(outcome).Inc()
}

// DeliveryError records a subscriber delivery failure.
func (m *Metrics) DeliveryError() {
	if m.deliveryErrors == nil {
		return
	}
	m.deliveryErrors.Inc()
}

// SetQueueDepth sets the current event queue depth.
func (m *Metrics) SetQueueDepth(depth float64) {
	if m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(depth)
}

// Lifecycle metrics.

// SetSubsystemStateCount sets the number of subsystems in a state.
func (m *Metrics) SetSubsystemStateCount(state string, count float64) {
	if m.subsystemsByState == nil {
		return
	}
	m.subsystemsByState.WithLabelValues(state).Set(count)
}

// RecordHealthCheck records a health check outcome (healthy, unhealthy).
func (m *Metrics) RecordHealthCheck(outcome string) {
	if m.healthChecks == nil {
		return
	}
	m.healthChecks.WithLabelValues(outcome).Inc()
}

// RecordRecoveryAttempt records a recovery attempt outcome.
func (m *Metrics) RecordRecoveryAttempt(outcome string) {
	if m.recoveryAttempts == nil {
		return
	}
	m.recoveryAttempts.WithLabelValues(outcome).Inc()
}

// RecordInitialization records a subsystem initialization with its duration.
func (m *Metrics) RecordInitialization(outcome, priority string, duration time.Duration) {
	if m.initializations == nil {
		return
	}
	m.initializations.WithLabelValues(outcome).Inc()
	m.initDuration.WithLabelValues(priority).Observe(duration.Seconds())
}

// Boot metrics.

// RecordBootSession records a completed boot session.
func (m *Metrics) RecordBootSession(status, profile string, duration time.Duration) {
	if m.bootSessions == nil {
		return
	}
	m.bootSessions.WithLabelValues(status, profile).Inc()
	m.bootSessionDuration.WithLabelValues(profile).Observe(duration.Seconds())
}

// RecordApproval records an approval decision (approved, denied).
func (m *Metrics) RecordApproval(decision string) {
	if m.approvals == nil {
		return
	}
	m.approvals.WithLabelValues(decision).Inc()
}

// SetEmergencyMode sets the emergency mode gauge.
func (m *Metrics) SetEmergencyMode(active bool) {
	if m.emergencyMode == nil {
		return
	}
	value := 0.0
	if active {
		value = 1.0
	}
	m.emergencyMode.Set(value)
}

// Error metrics.

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
