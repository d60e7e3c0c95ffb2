package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that forces
	// a subsystem into the failed state.
	DefaultFailureThreshold = 3

	// DefaultHealthCheckTimeout bounds a single health probe.
	DefaultHealthCheckTimeout = 5 * time.Second
)

// record is the registry's internal per-subsystem state. All fields are
// guarded by the registry mutex.
type record struct {
	descriptor      Descriptor
	instance        Subsystem
	state           State
	failureCount    int
	lastHealthCheck time.Time
	initializedAt   time.Time
	lastError       string
	recoverable     bool // instance implements Recoverer, checked at registration
}

// Registry holds subsystem descriptors, the dependency graph, a per-subsystem
// lifecycle state machine, and a capability index. It is safe for concurrent
// use; every state transition is atomic under the registry lock.
type Registry struct {
	mu sync.RWMutex

	records      map[string]*record
	dependents   map[string]map[string]struct{} // id -> ids that depend on it
	capabilities map[string]map[string]struct{} // capability -> active provider ids
	strategies   map[string]RecoveryStrategy

	failureThreshold   int
	healthCheckTimeout time.Duration

	sink   EventSink
	logger zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFailureThreshold overrides the consecutive-failure threshold.
func WithFailureThreshold(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.failureThreshold = n
		}
	}
}

// WithHealthCheckTimeout overrides the per-probe timeout.
func WithHealthCheckTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.healthCheckTimeout = d
		}
	}
}

// WithEventSink wires an event sink for system-health events.
func WithEventSink(sink EventSink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		records:            make(map[string]*record),
		dependents:         make(map[string]map[string]struct{}),
		capabilities:       make(map[string]map[string]struct{}),
		strategies:         make(map[string]RecoveryStrategy),
		failureThreshold:   DefaultFailureThreshold,
		healthCheckTimeout: DefaultHealthCheckTimeout,
		sink:               NopSink{},
		logger:             logger.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts or replaces a subsystem record and rebuilds its dependency
// edges and capability entries. Re-registration replaces the existing record
// with a warning. It has no side effects on other subsystems.
func (r *Registry) Register(desc Descriptor, instance Subsystem) error {
	if desc.ID == "" {
		return NewPermanentError("descriptor has empty id", nil).WithCode(ErrCodeUnknownSubsystem)
	}
	if instance == nil {
		return NewPermanentError("nil subsystem instance", nil).WithSubsystem(desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.records[desc.ID]; exists {
		r.logger.Warn().Str("subsystem_id", desc.ID).Msg("subsystem already registered, replacing")
		r.removeEdgesLocked(desc.ID, old)
		r.dropCapabilitiesLocked(desc.ID, old)
	}

	_, recoverable := instance.(Recoverer)

	rec := &record{
		descriptor:  desc,
		instance:    instance,
		state:       StateUninitialized,
		recoverable: recoverable,
	}
	r.records[desc.ID] = rec

	for _, dep := range desc.Dependencies {
		if r.dependents[dep] == nil {
			r.dependents[dep] = make(map[string]struct{})
		}
		r.dependents[dep][desc.ID] = struct{}{}
	}

	r.logger.Info().
		Str("subsystem_id", desc.ID).
		Str("name", desc.Name).
		Str("version", desc.Version).
		Str("priority", desc.Priority.String()).
		Int("dependencies", len(desc.Dependencies)).
		Msg("subsystem registered")

	return nil
}

// Unregister removes a subsystem record and all derived index entries.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return unknownSubsystem(id)
	}

	r.removeEdgesLocked(id, rec)
	r.dropCapabilitiesLocked(id, rec)
	delete(r.records, id)
	delete(r.strategies, id)

	r.logger.Info().Str("subsystem_id", id).Msg("subsystem unregistered")
	return nil
}

// RegisterRecoveryStrategy installs a custom recovery routine for a
// subsystem, overriding both the Recoverer hook and the default
// stop/reinitialize cycle.
func (r *Registry) RegisterRecoveryStrategy(id string, strategy RecoveryStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[id] = strategy
}

// Get returns a snapshot view of a subsystem record.
func (r *Registry) Get(id string) (RecordView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return RecordView{}, unknownSubsystem(id)
	}
	return rec.view(), nil
}

// Instance returns the owning instance handle for a subsystem.
func (r *Registry) Instance(id string) (Subsystem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, unknownSubsystem(id)
	}
	return rec.instance, nil
}

// GetByCapability returns the ids of currently active subsystems providing
// the named capability, sorted for determinism.
func (r *Registry) GetByCapability(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.capabilities[capability]
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sortStrings(ids)
	return ids
}

// IDs returns every registered subsystem id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sortStrings(ids)
	return ids
}

// OverridePriority replaces a record's priority tier, typically from a boot
// profile override. The change affects ordering and approval decisions made
// after the call.
func (r *Registry) OverridePriority(id string, p Priority) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return unknownSubsystem(id)
	}
	if rec.descriptor.Priority != p {
		r.logger.Info().
			Str("subsystem_id", id).
			Str("from", rec.descriptor.Priority.String()).
			Str("to", p.String()).
			Msg("priority override applied")
		rec.descriptor.Priority = p
	}
	return nil
}

// Initialize transitions a subsystem through Initializing to Active. It
// fails with DEPENDENCY_MISSING if a declared dependency is not registered
// and with DEPENDENCY_NOT_READY if a dependency is neither active nor
// degraded. Initialization exceptions are recorded and surfaced as a failed
// result; they are not retried automatically.
func (r *Registry) Initialize(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return unknownSubsystem(id)
	}

	for _, dep := range rec.descriptor.Dependencies {
		depRec, exists := r.records[dep]
		if !exists {
			r.mu.Unlock()
			return NewPermanentError(fmt.Sprintf("dependency %s not registered", dep), nil).
				WithCode(ErrCodeDependencyMissing).WithSubsystem(id)
		}
		if depRec.state != StateActive && depRec.state != StateDegraded {
			r.mu.Unlock()
			return NewConflictError(fmt.Sprintf("dependency %s is %s", dep, depRec.state), nil).
				WithCode(ErrCodeDependencyNotReady).WithSubsystem(id)
		}
	}

	if err := r.transitionLocked(rec, StateInitializing, "initialize"); err != nil {
		r.mu.Unlock()
		return err
	}
	instance := rec.instance
	r.mu.Unlock()

	// The instance call runs outside the lock so slow initializers do not
	// block concurrent registry reads.
	initErr := instance.Initialize(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if initErr != nil {
		rec.lastError = initErr.Error()
		_ = r.transitionLocked(rec, StateFailed, "initialize")
		r.logger.Error().Err(initErr).Str("subsystem_id", id).Msg("subsystem initialization failed")
		return NewPermanentError("subsystem initialization failed", initErr).
			WithCode(ErrCodeInitFailed).WithSubsystem(id)
	}

	rec.failureCount = 0
	rec.lastError = ""
	rec.initializedAt = time.Now()
	if err := r.transitionLocked(rec, StateActive, "initialize"); err != nil {
		return err
	}

	r.logger.Info().Str("subsystem_id", id).Msg("subsystem initialized")
	return nil
}

// HealthCheck probes a subsystem under a bounded timeout. A probe error or
// timeout is treated as a failed check and never propagated: the failure
// counter increments and, at the threshold, the record is forced to Failed
// and a system-health event is emitted. A successful check decrements the
// counter (floor zero) and completes an in-flight recovery.
func (r *Registry) HealthCheck(ctx context.Context, id string) HealthCheckResult {
	r.mu.RLock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.RUnlock()
		return HealthCheckResult{
			SubsystemID: id,
			Healthy:     false,
			Timestamp:   time.Now(),
			Error:       "subsystem not found",
		}
	}
	instance := rec.instance
	state := rec.state
	r.mu.RUnlock()

	if state.IsTerminal() || state == StateUninitialized || state == StateInitializing {
		return HealthCheckResult{SubsystemID: id, Healthy: false, Timestamp: time.Now(), State: state,
			Error: fmt.Sprintf("subsystem is %s", state)}
	}

	start := time.Now()
	probeErr := r.probe(ctx, instance)
	latency := time.Since(start)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec.lastHealthCheck = time.Now()

	if probeErr != nil {
		rec.failureCount++
		rec.lastError = probeErr.Error()

		if rec.failureCount >= r.failureThreshold &&
			(rec.state == StateActive || rec.state == StateDegraded) {
			_ = r.transitionLocked(rec, StateFailed, "health_check")
			r.logger.Error().
				Str("subsystem_id", id).
				Int("failure_count", rec.failureCount).
				Msg("failure threshold reached, subsystem marked failed")
			r.sink.PublishSystemHealth(id, "failed", "consecutive health check failures", map[string]interface{}{
				"failure_count": rec.failureCount,
				"threshold":     r.failureThreshold,
			})
		}

		return HealthCheckResult{
			SubsystemID: id,
			Healthy:     false,
			Timestamp:   rec.lastHealthCheck,
			Latency:     latency,
			State:       rec.state,
			FailureRun:  rec.failureCount,
			Error:       probeErr.Error(),
		}
	}

	if rec.failureCount > 0 {
		rec.failureCount--
	}
	if rec.state == StateRecovering {
		rec.failureCount = 0
		rec.lastError = ""
		_ = r.transitionLocked(rec, StateActive, "health_check")
		r.sink.PublishSystemHealth(id, "recovered", "health restored after recovery", nil)
	}

	return HealthCheckResult{
		SubsystemID: id,
		Healthy:     true,
		Timestamp:   rec.lastHealthCheck,
		Latency:     latency,
		State:       rec.state,
		FailureRun:  rec.failureCount,
	}
}

// probe invokes the health hook under the registry's probe timeout. A probe
// that panics counts as a failed check.
func (r *Registry) probe(ctx context.Context, instance Subsystem) (err error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.healthCheckTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("health probe panic: %v", rec)
			}
		}()
		done <- instance.HealthCheck(probeCtx)
	}()

	select {
	case err = <-done:
		return err
	case <-probeCtx.Done():
		return NewTransientError("health probe timed out", probeCtx.Err()).
			WithCode(ErrCodeHealthCheckFailed)
	}
}

// AttemptRecovery drives a failed subsystem through Recovering back to
// Active. At most one recovery runs per subsystem at a time: a record
// already in Recovering short-circuits a second attempt. The custom
// strategy, the instance's Recover hook, and the default stop/reinitialize
// cycle are tried in that order of precedence.
func (r *Registry) AttemptRecovery(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return unknownSubsystem(id)
	}
	if rec.state == StateRecovering {
		r.mu.Unlock()
		return NewConflictError("recovery already in progress", nil).
			WithCode(ErrCodeRecoveryInProgress).WithSubsystem(id)
	}
	if err := r.transitionLocked(rec, StateRecovering, "recover"); err != nil {
		r.mu.Unlock()
		return err
	}
	instance := rec.instance
	strategy := r.strategies[id]
	recoverable := rec.recoverable
	r.mu.Unlock()

	r.logger.Info().Str("subsystem_id", id).Msg("attempting recovery")

	recoverErr := r.runRecovery(ctx, instance, strategy, recoverable)

	r.mu.Lock()
	defer r.mu.Unlock()

	if recoverErr != nil {
		rec.lastError = recoverErr.Error()
		_ = r.transitionLocked(rec, StateFailed, "recover")
		r.sink.PublishSystemHealth(id, "recovery_failed", recoverErr.Error(), nil)
		return NewPermanentError("recovery failed", recoverErr).
			WithCode(ErrCodeRecoveryFailed).WithSubsystem(id)
	}

	rec.failureCount = 0
	rec.lastError = ""
	if err := r.transitionLocked(rec, StateActive, "recover"); err != nil {
		return err
	}
	r.sink.PublishSystemHealth(id, "recovered", "recovery succeeded", nil)
	r.logger.Info().Str("subsystem_id", id).Msg("subsystem recovered")
	return nil
}

func (r *Registry) runRecovery(ctx context.Context, instance Subsystem, strategy RecoveryStrategy, recoverable bool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("recovery panic: %v", rec)
		}
	}()

	switch {
	case strategy != nil:
		return strategy(ctx, instance)
	case recoverable:
		return instance.(Recoverer).Recover(ctx)
	default:
		if err := instance.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown during recovery: %w", err)
		}
		return instance.Initialize(ctx)
	}
}

// Degrade transitions an active subsystem to Degraded and emits a
// system-health event with the reason.
func (r *Registry) Degrade(id, reason string) error {
	return r.operatorTransition(id, StateDegraded, "degrade", reason, nil)
}

// Restore transitions a degraded subsystem back to Active.
func (r *Registry) Restore(id, reason string) error {
	return r.operatorTransition(id, StateActive, "restore", reason, nil)
}

// Isolate stops a subsystem's instance without removing its record. The
// record lands in Failed, from which Restart or AttemptRecovery can bring
// it back; unlike Terminated, isolation is not final.
func (r *Registry) Isolate(ctx context.Context, id, reason string) error {
	r.mu.RLock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.RUnlock()
		return unknownSubsystem(id)
	}
	instance := rec.instance
	r.mu.RUnlock()

	if err := instance.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Str("subsystem_id", id).Msg("shutdown during isolation reported an error")
	}
	return r.operatorTransition(id, StateFailed, "isolate", reason, nil)
}

// Restart cycles a subsystem through shutdown and a fresh initialization.
func (r *Registry) Restart(ctx context.Context, id, reason string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return unknownSubsystem(id)
	}
	instance := rec.instance
	// Restart rewinds the record to uninitialized so Initialize drives the
	// normal state machine path.
	r.dropCapabilitiesLocked(id, rec)
	rec.state = StateUninitialized
	rec.failureCount = 0
	r.mu.Unlock()

	if err := instance.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Str("subsystem_id", id).Msg("shutdown during restart reported an error")
	}

	r.sink.PublishSystemHealth(id, "restart", reason, nil)
	return r.Initialize(ctx, id)
}

// Terminate moves a subsystem to its terminal state and stops the instance.
// The record remains for inspection until unregistered.
func (r *Registry) Terminate(ctx context.Context, id string) error {
	r.mu.RLock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.RUnlock()
		return unknownSubsystem(id)
	}
	instance := rec.instance
	state := rec.state
	r.mu.RUnlock()

	if state.IsTerminal() {
		return nil
	}

	if err := instance.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Str("subsystem_id", id).Msg("shutdown reported an error")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(rec, StateTerminated, "terminate")
}

// Snapshot returns a copy of every record for inspection or persistence.
func (r *Registry) Snapshot() map[string]RecordView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]RecordView, len(r.records))
	for id, rec := range r.records {
		out[id] = rec.view()
	}
	return out
}

// StateCounts returns the number of records in each lifecycle state.
func (r *Registry) StateCounts() map[State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[State]int)
	for _, rec := range r.records {
		counts[rec.state]++
	}
	return counts
}

// operatorTransition applies an explicit operator-invoked transition and
// emits the corresponding system-health event.
func (r *Registry) operatorTransition(id string, to State, action, reason string, payload map[string]interface{}) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return unknownSubsystem(id)
	}
	if err := r.transitionLocked(rec, to, action); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("subsystem_id", id).
		Str("action", action).
		Str("reason", reason).
		Msg("operator transition applied")
	r.sink.PublishSystemHealth(id, action, reason, payload)
	return nil
}

// transitionLocked applies a state transition, enforcing the lifecycle state
// machine and keeping the capability index consistent with Active
// membership. Callers hold the registry lock.
func (r *Registry) transitionLocked(rec *record, to State, action string) error {
	from := rec.state
	if from == to {
		return nil
	}
	if !canTransition(from, to) {
		return NewConflictError(
			fmt.Sprintf("illegal transition %s -> %s during %s", from, to, action), nil).
			WithCode(ErrCodeInvalidTransition).WithSubsystem(rec.descriptor.ID)
	}

	rec.state = to

	if from == StateActive && to != StateActive {
		r.dropCapabilitiesLocked(rec.descriptor.ID, rec)
	}
	if to == StateActive {
		r.addCapabilitiesLocked(rec.descriptor.ID, rec)
	}

	r.logger.Debug().
		Str("subsystem_id", rec.descriptor.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("action", action).
		Msg("state transition")
	return nil
}

func (r *Registry) addCapabilitiesLocked(id string, rec *record) {
	for _, cap := range rec.descriptor.Capabilities {
		if r.capabilities[cap] == nil {
			r.capabilities[cap] = make(map[string]struct{})
		}
		r.capabilities[cap][id] = struct{}{}
	}
}

func (r *Registry) dropCapabilitiesLocked(id string, rec *record) {
	for _, cap := range rec.descriptor.Capabilities {
		if providers, ok := r.capabilities[cap]; ok {
			delete(providers, id)
			if len(providers) == 0 {
				delete(r.capabilities, cap)
			}
		}
	}
}

func (r *Registry) removeEdgesLocked(id string, rec *record) {
	for _, dep := range rec.descriptor.Dependencies {
		if deps, ok := r.dependents[dep]; ok {
			delete(deps, id)
			if len(deps) == 0 {
				delete(r.dependents, dep)
			}
		}
	}
}

func (rec *record) view() RecordView {
	desc := rec.descriptor
	desc.Dependencies = append([]string(nil), rec.descriptor.Dependencies...)
	desc.Capabilities = append([]string(nil), rec.descriptor.Capabilities...)
	return RecordView{
		Descriptor:      desc,
		State:           rec.state,
		FailureCount:    rec.failureCount,
		LastHealthCheck: rec.lastHealthCheck,
		InitializedAt:   rec.initializedAt,
		LastError:       rec.lastError,
	}
}

func unknownSubsystem(id string) *RuntimeError {
	return NewPermanentError("subsystem not registered", nil).
		WithCode(ErrCodeUnknownSubsystem).WithSubsystem(id)
}
