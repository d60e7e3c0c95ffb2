package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracing.Exporter = "none"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	defer tel.Shutdown(context.Background())

	if tel.Logger == nil || tel.Tracer == nil || tel.Metrics == nil {
		t.Error("expected all telemetry components to be initialized")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	cfg.Logging.Level = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestMetricsObserver(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true

	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.EventPublished("SYSTEM_HEALTH", "CRITICAL")
	m.EventDropped("queue_full")
	m.EventResolved("vetoed")
	m.DeliveryError()
	m.SetQueueDepth(3)
	m.RecordHealthCheck("healthy")
	m.RecordRecoveryAttempt("success")
	m.RecordInitialization("success", "HIGH", 50*time.Millisecond)
	m.RecordBootSession("completed", "NORMAL", time.Second)
	m.RecordApproval("approved")
	m.SetEmergencyMode(true)
	m.RecordError("transient", "TIMEOUT")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"bastion_events_published_total",
		"bastion_events_dropped_total",
		"bastion_events_resolved_total",
		"bastion_boot_sessions_total",
		"bastion_emergency_mode 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	// All recorders must be safe no-ops when disabled.
	m.EventPublished("SYSTEM_HEALTH", "LOW")
	m.EventDropped("shutdown")
	m.EventResolved("delivered")
	m.DeliveryError()
	m.RecordBootSession("failed", "EMERGENCY", time.Second)
	m.SetEmergencyMode(false)
}

func TestLoggerFields(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	sub := logger.WithSubsystemID("ethics_governance").WithSessionID("s1").WithProfile("NORMAL")
	if sub == nil {
		t.Fatal("expected derived logger")
	}

	ctx := sub.WithContext(context.Background())
	if FromContext(ctx) == nil {
		t.Error("expected logger from context")
	}
}

func TestTracerSpanClosures(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "bastion", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}
	defer tracer.Shutdown(context.Background())

	ctx, endSession := tracer.BootSessionSpan(context.Background(), "session-1", "normal")
	if ctx == nil {
		t.Fatal("expected a context from BootSessionSpan")
	}
	_, endInit := tracer.SubsystemSpan(ctx, "supply_chain", "initialize")
	endInit(nil)
	endSession("completed", nil)

	finish := tracer.EventSpan("ev-1", "supply_update")
	finish("delivered")
}
