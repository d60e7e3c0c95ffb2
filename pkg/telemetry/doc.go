// Package telemetry provides observability instrumentation for bastion.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring boot sessions, subsystem lifecycles, and event bus activity.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "bastion"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithSessionID("session-123").WithSubsystemID("ethics_governance")
//	logger.Info("Initializing subsystem")
//	logger.WithError(err).Error("Initialization failed")
//
// # Distributed Tracing
//
// Tracing provides visibility into boot and delivery flow:
//
//	ctx, span := tel.Tracer.StartBootSessionSpan(ctx, sessionID, profile)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), stdout (development), none (testing).
//
// # Metrics
//
// Prometheus metrics track system behavior:
//
//	tel.Metrics.RecordBootSession("completed", "NORMAL", duration)
//	tel.Metrics.RecordInitialization("success", "CRITICAL", duration)
//	tel.Metrics.RecordHealthCheck("healthy")
//	tel.Metrics.RecordApproval("approved")
//
// Metrics is also a bus observer: pass it to the event bus so publishes,
// drops, and resolution outcomes are counted automatically.
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics).
package telemetry
