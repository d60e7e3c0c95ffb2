// Package orchestrator is the composition root: it wires the lifecycle
// registry, event bus, governance graph, and boot controller into one
// coordinated runtime, drives boot sessions from a named profile, and runs
// the periodic health monitor.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bastion-runtime/bastion/pkg/boot"
	"github.com/bastion-runtime/bastion/pkg/config"
	"github.com/bastion-runtime/bastion/pkg/eventbus"
	"github.com/bastion-runtime/bastion/pkg/governance"
	"github.com/bastion-runtime/bastion/pkg/runtime"
	"github.com/bastion-runtime/bastion/pkg/stores"
)

// MetricsRecorder receives lifecycle and boot metrics. telemetry.Metrics
// satisfies it; tests use a local mock or the no-op default.
type MetricsRecorder interface {
	RecordHealthCheck(outcome string)
	RecordRecoveryAttempt(outcome string)
	RecordInitialization(outcome, priority string, duration time.Duration)
	RecordBootSession(status, profile string, duration time.Duration)
	SetSubsystemStateCount(state string, count float64)
	SetEmergencyMode(active bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordHealthCheck(string)                           {}
func (nopMetrics) RecordRecoveryAttempt(string)                       {}
func (nopMetrics) RecordInitialization(string, string, time.Duration) {}
func (nopMetrics) RecordBootSession(string, string, time.Duration)    {}
func (nopMetrics) SetSubsystemStateCount(string, float64)             {}
func (nopMetrics) SetEmergencyMode(bool)                              {}

// SpanRecorder opens trace spans around boot sessions and subsystem
// lifecycle operations. telemetry.Tracer satisfies it; the default is a
// no-op.
type SpanRecorder interface {
	BootSessionSpan(ctx context.Context, sessionID, profile string) (context.Context, func(status string, err error))
	SubsystemSpan(ctx context.Context, subsystemID, operation string) (context.Context, func(err error))
}

type nopTracer struct{}

func (nopTracer) BootSessionSpan(ctx context.Context, _, _ string) (context.Context, func(string, error)) {
	return ctx, func(string, error) {}
}

func (nopTracer) SubsystemSpan(ctx context.Context, _, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// SubsystemFactory resolves a manifest descriptor to a live subsystem
// instance during discovery.
type SubsystemFactory func(desc runtime.Descriptor) (runtime.Subsystem, error)

// Orchestrator coordinates subsystem boot, supervision, and shutdown.
type Orchestrator struct {
	registry   *runtime.Registry
	bus        *eventbus.Bus
	governance *governance.Graph
	controller *boot.Controller
	store      stores.Store
	metrics    MetricsRecorder
	tracer     SpanRecorder
	logger     zerolog.Logger

	healthInterval time.Duration

	mu            sync.Mutex
	bootOrder     []string
	lastReport    *BootReport
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	healthPasses  int
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithStore enables boot session and snapshot persistence.
func WithStore(store stores.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithMetrics wires a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer wires a span recorder for boot and lifecycle tracing.
func WithTracer(tr SpanRecorder) Option {
	return func(o *Orchestrator) { o.tracer = tr }
}

// WithHealthCheckInterval sets the health monitor period.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.healthInterval = d
		}
	}
}

// New wires the orchestrator from its collaborators. The governance graph
// feeds the controller's consultation lookups and the bus feeds lifecycle
// events back into the publishing side.
func New(logger zerolog.Logger, registry *runtime.Registry, bus *eventbus.Bus, graph *governance.Graph, controller *boot.Controller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		bus:            bus,
		governance:     graph,
		controller:     controller,
		metrics:        nopMetrics{},
		tracer:         nopTracer{},
		logger:         logger.With().Str("component", "orchestrator").Logger(),
		healthInterval: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Registry returns the lifecycle registry.
func (o *Orchestrator) Registry() *runtime.Registry { return o.registry }

// Bus returns the event bus.
func (o *Orchestrator) Bus() *eventbus.Bus { return o.bus }

// Governance returns the authority graph.
func (o *Orchestrator) Governance() *governance.Graph { return o.governance }

// Controller returns the boot controller.
func (o *Orchestrator) Controller() *boot.Controller { return o.controller }

// RegisterSubsystem registers a programmatically constructed subsystem.
func (o *Orchestrator) RegisterSubsystem(desc runtime.Descriptor, instance runtime.Subsystem) error {
	return o.registry.Register(desc, instance)
}

// Discover registers every subsystem declared in the manifest, resolving
// instances through the factory. A factory error for any spec aborts
// discovery; previously registered specs stay registered.
func (o *Orchestrator) Discover(manifest *config.Manifest, factory SubsystemFactory) error {
	if factory == nil {
		return fmt.Errorf("subsystem factory is required for manifest discovery")
	}

	for _, desc := range manifest.Descriptors() {
		instance, err := factory(desc)
		if err != nil {
			return fmt.Errorf("failed to construct subsystem %s: %w", desc.ID, err)
		}
		if err := o.registry.Register(desc, instance); err != nil {
			return err
		}
		o.logger.Debug().
			Str("subsystem_id", desc.ID).
			Str("priority", desc.Priority.String()).
			Msg("discovered subsystem")
	}

	o.logger.Info().
		Int("subsystems", len(manifest.Subsystems)).
		Str("source", manifest.SourceFile).
		Msg("manifest discovery complete")

	return nil
}

// Start runs a boot session under the named profile: it computes the
// dependency order, gates each subsystem through the boot controller, applies
// profile priority overrides, and initializes what passes. A critical
// subsystem failing to initialize aborts the session; any other failure is
// recorded and the session continues.
func (o *Orchestrator) Start(ctx context.Context, profile boot.Profile) (*BootReport, error) {
	if err := o.controller.SetProfile(profile); err != nil {
		return nil, err
	}
	cfg, _ := o.controller.ProfileConfigFor(profile)

	report := &BootReport{
		SessionID: uuid.NewString(),
		Profile:   profile,
		StartedAt: time.Now().UTC(),
		Skipped:   make(map[string]string),
		Failed:    make(map[string]string),
	}

	o.logger.Info().
		Str("session_id", report.SessionID).
		Str("profile", string(profile)).
		Msg("boot session starting")

	if o.store != nil {
		session := &stores.BootSession{
			ID:        report.SessionID,
			Profile:   string(profile),
			Status:    stores.SessionStatusRunning,
			StartedAt: report.StartedAt,
		}
		if err := o.store.CreateBootSession(ctx, session); err != nil {
			o.logger.Error().Err(err).Msg("failed to persist boot session")
		}
	}

	// The profile's init budget bounds the whole session.
	bootCtx := ctx
	if cfg != nil && cfg.MaxInitTime > 0 {
		var cancel context.CancelFunc
		bootCtx, cancel = context.WithTimeout(ctx, cfg.MaxInitTime)
		defer cancel()
	}

	var sessionErr error
	bootCtx, endSession := o.tracer.BootSessionSpan(bootCtx, report.SessionID, string(profile))
	defer func() { endSession(report.Status, sessionErr) }()

	o.bus.Start()

	order, orderErr := o.registry.InitializationOrder()
	report.Order = order
	if orderErr != nil {
		report.Error = orderErr.Error()
		o.finishSession(ctx, report, stores.SessionStatusFailed)
		sessionErr = orderErr
		return report, orderErr
	}

	for _, id := range order {
		if err := bootCtx.Err(); err != nil {
			report.Error = fmt.Sprintf("boot budget exhausted: %v", err)
			o.finishSession(ctx, report, stores.SessionStatusAborted)
			sessionErr = runtime.NewTransientError("boot budget exhausted", err).WithCode("SUBSYSTEM_INIT_FAILED")
			return report, sessionErr
		}

		view, err := o.registry.Get(id)
		if err != nil {
			continue
		}

		metadata := map[string]interface{}{
			"priority":     view.Descriptor.Priority.String(),
			"must_consult": o.governance.MustConsultDomains(id),
		}

		ok, reason := o.controller.ShouldInitialize(bootCtx, id, metadata)
		if !ok {
			report.Skipped[id] = reason
			o.logger.Info().
				Str("subsystem_id", id).
				Str("reason", reason).
				Msg("subsystem skipped")
			continue
		}

		if name, overridden := o.controller.PriorityOverride(id); overridden {
			if err := o.registry.OverridePriority(id, runtime.ParsePriority(name)); err != nil {
				o.logger.Warn().Err(err).Str("subsystem_id", id).Msg("priority override failed")
			}
			view, _ = o.registry.Get(id)
		}

		started := time.Now()
		initCtx, endInit := o.tracer.SubsystemSpan(bootCtx, id, "initialize")
		err = o.registry.Initialize(initCtx, id)
		endInit(err)
		if err != nil {
			o.metrics.RecordInitialization("failure", view.Descriptor.Priority.String(), time.Since(started))
			report.Failed[id] = err.Error()

			if view.Descriptor.Priority == runtime.PriorityCritical {
				report.Error = fmt.Sprintf("critical subsystem %s failed: %v", id, err)
				o.finishSession(ctx, report, stores.SessionStatusAborted)
				sessionErr = err
				return report, err
			}
			continue
		}
		o.metrics.RecordInitialization("success", view.Descriptor.Priority.String(), time.Since(started))
		report.Initialized = append(report.Initialized, id)
	}

	o.mu.Lock()
	o.bootOrder = append([]string(nil), report.Initialized...)
	o.mu.Unlock()

	if cfg == nil || cfg.EnableHealthMonitoring {
		o.startHealthMonitor()
	}

	o.finishSession(ctx, report, stores.SessionStatusCompleted)

	o.logger.Info().
		Str("session_id", report.SessionID).
		Int("initialized", len(report.Initialized)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Msg("boot session complete")

	return report, nil
}

// finishSession closes out the report, persists the session outcome and a
// registry snapshot, and records the boot metric.
func (o *Orchestrator) finishSession(ctx context.Context, report *BootReport, status stores.SessionStatus) {
	report.CompletedAt = time.Now().UTC()
	report.Status = string(status)

	o.mu.Lock()
	o.lastReport = report
	o.mu.Unlock()

	o.metrics.RecordBootSession(string(status), string(report.Profile), report.CompletedAt.Sub(report.StartedAt))
	o.updateStateCounts()
	o.controller.SaveSnapshot("boot:" + report.SessionID)

	if o.store == nil {
		return
	}

	var errMsg *string
	if report.Error != "" {
		errMsg = &report.Error
	}
	if err := o.store.CompleteBootSession(ctx, report.SessionID, status, len(report.Initialized), len(report.Skipped), errMsg); err != nil {
		o.logger.Error().Err(err).Msg("failed to complete boot session record")
	}
	o.persistSnapshot(ctx, "boot:"+report.SessionID)
}

// persistSnapshot writes the current registry view to the store.
func (o *Orchestrator) persistSnapshot(ctx context.Context, label string) {
	if o.store == nil {
		return
	}

	state, err := json.Marshal(o.registry.Snapshot())
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to encode registry snapshot")
		return
	}

	snap := &stores.RegistrySnapshot{
		Label:   label,
		TakenAt: time.Now().UTC(),
		State:   string(state),
	}
	if err := o.store.SaveRegistrySnapshot(ctx, snap); err != nil {
		o.logger.Error().Err(err).Str("label", label).Msg("failed to persist registry snapshot")
	}
}

// startHealthMonitor launches the periodic health loop. Idempotent: a
// running monitor is left alone.
func (o *Orchestrator) startHealthMonitor() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.monitorCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.monitorCancel = cancel
	o.monitorDone = make(chan struct{})

	go o.healthLoop(ctx)

	o.logger.Info().
		Dur("interval", o.healthInterval).
		Msg("health monitor started")
}

// healthLoop probes every non-terminal subsystem each tick, attempts
// recovery for failed ones, and refreshes the state gauges.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	defer close(o.monitorDone)

	ticker := time.NewTicker(o.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runHealthPass(ctx)
		}
	}
}

// runHealthPass executes one sweep of the health monitor.
func (o *Orchestrator) runHealthPass(ctx context.Context) {
	for id, view := range o.registry.Snapshot() {
		switch view.State {
		case runtime.StateActive, runtime.StateDegraded:
			result := o.registry.HealthCheck(ctx, id)
			if result.Healthy {
				o.metrics.RecordHealthCheck("healthy")
				if result.State == runtime.StateDegraded {
					if err := o.registry.Restore(id, "health check passing"); err != nil {
						o.logger.Warn().Err(err).Str("subsystem_id", id).Msg("restore failed")
					}
				}
			} else {
				o.metrics.RecordHealthCheck("unhealthy")
				// The registry marks the record Failed once the failure run
				// hits the threshold; short of that an active subsystem is
				// only degraded so dependents keep a usable view.
				if result.State == runtime.StateActive {
					if err := o.registry.Degrade(id, result.Error); err != nil {
						o.logger.Warn().Err(err).Str("subsystem_id", id).Msg("degrade failed")
					}
				}
			}

		case runtime.StateFailed:
			outcome := "success"
			if err := o.registry.AttemptRecovery(ctx, id); err != nil {
				outcome = "failure"
				o.logger.Warn().Err(err).Str("subsystem_id", id).Msg("recovery attempt failed")
			}
			o.metrics.RecordRecoveryAttempt(outcome)
		}
	}

	o.updateStateCounts()
	o.metrics.SetEmergencyMode(o.controller.EmergencyMode())

	// Snapshots are inspection data, not live state, so a coarse cadence
	// (every tenth pass) is enough.
	o.mu.Lock()
	o.healthPasses++
	passes := o.healthPasses
	o.mu.Unlock()
	if passes%10 == 0 {
		o.persistSnapshot(ctx, "periodic")
	}
}

// updateStateCounts refreshes the subsystems-by-state gauges.
func (o *Orchestrator) updateStateCounts() {
	for state, count := range o.registry.StateCounts() {
		o.metrics.SetSubsystemStateCount(string(state), float64(count))
	}
}

// Shutdown stops the health monitor, terminates initialized subsystems in
// reverse boot order, snapshots the registry, and stops the bus.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	cancel := o.monitorCancel
	done := o.monitorDone
	order := append([]string(nil), o.bootOrder...)
	o.monitorCancel = nil
	o.monitorDone = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if err := o.registry.Terminate(ctx, id); err != nil {
			o.logger.Error().Err(err).Str("subsystem_id", id).Msg("shutdown failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	o.controller.SaveSnapshot("shutdown")
	o.persistSnapshot(ctx, "shutdown")
	o.updateStateCounts()
	o.bus.Stop()

	o.logger.Info().Int("terminated", len(order)).Msg("orchestrator shut down")
	return firstErr
}

// Status returns the current composite view of the runtime.
func (o *Orchestrator) Status() StatusReport {
	o.mu.Lock()
	last := o.lastReport
	o.mu.Unlock()

	return StatusReport{
		Profile:       o.controller.CurrentProfile(),
		EmergencyMode: o.controller.EmergencyMode(),
		Subsystems:    o.registry.Snapshot(),
		StateCounts:   o.registry.StateCounts(),
		BusStats:      o.bus.Stats(),
		BootStats:     o.controller.Stats(),
		LastBoot:      last,
	}
}
