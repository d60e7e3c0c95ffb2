package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSubsystem is a scriptable lifecycle instance for registry tests.
type fakeSubsystem struct {
	mu            sync.Mutex
	initErr       error
	healthErr     error
	shutdownErr   error
	initCalls     int
	shutdownCalls int
	healthCalls   int
	caps          []string
}

func (f *fakeSubsystem) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeSubsystem) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownCalls++
	return f.shutdownErr
}

func (f *fakeSubsystem) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	return f.healthErr
}

func (f *fakeSubsystem) Status() map[string]interface{} { return nil }

func (f *fakeSubsystem) Capabilities() []string { return f.caps }

func (f *fakeSubsystem) setHealthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

func (f *fakeSubsystem) counts() (init, shutdown int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.shutdownCalls
}

// recoverableSubsystem additionally implements the Recover hook.
type recoverableSubsystem struct {
	fakeSubsystem
	recoverErr   error
	recoverCalls int
}

func (r *recoverableSubsystem) Recover(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoverCalls++
	return r.recoverErr
}

// sinkRecorder captures system-health events emitted by the registry.
type sinkRecorder struct {
	mu     sync.Mutex
	events []string // "id/action"
}

func (s *sinkRecorder) PublishSystemHealth(id, action, _ string, _ map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, id+"/"+action)
}

func (s *sinkRecorder) has(entry string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == entry {
			return true
		}
	}
	return false
}

func newTestRegistry(opts ...Option) *Registry {
	return NewRegistry(zerolog.Nop(), opts...)
}

func mustRegister(t *testing.T, r *Registry, id string, priority Priority, deps []string, instance Subsystem) {
	t.Helper()
	if instance == nil {
		instance = &fakeSubsystem{}
	}
	err := r.Register(Descriptor{ID: id, Priority: priority, Dependencies: deps}, instance)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", id, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := newTestRegistry()

	if err := r.Register(Descriptor{}, &fakeSubsystem{}); err == nil {
		t.Error("expected error for empty id")
	}
	if err := r.Register(Descriptor{ID: "x"}, nil); err == nil {
		t.Error("expected error for nil instance")
	}
}

func TestReRegisterReplaces(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, nil)
	mustRegister(t, r, "supply_chain", PriorityHigh, nil, nil)

	view, err := r.Get("supply_chain")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if view.Descriptor.Priority != PriorityHigh {
		t.Errorf("expected replaced descriptor, got %s", view.Descriptor.Priority)
	}
	if view.State != StateUninitialized {
		t.Errorf("replaced record should reset state, got %s", view.State)
	}
}

func TestReRegisterDropsCapabilityIndex(t *testing.T) {
	r := newTestRegistry()
	desc := Descriptor{ID: "analytics", Priority: PriorityMedium, Capabilities: []string{"reporting"}}
	if err := r.Register(desc, &fakeSubsystem{caps: []string{"reporting"}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Initialize(context.Background(), "analytics"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := r.GetByCapability("reporting"); len(got) != 1 {
		t.Fatalf("GetByCapability = %v, want [analytics]", got)
	}

	if err := r.Register(desc, &fakeSubsystem{caps: []string{"reporting"}}); err != nil {
		t.Fatalf("re-Register failed: %v", err)
	}

	if got := r.GetByCapability("reporting"); len(got) != 0 {
		t.Errorf("capability index lists uninitialized subsystem after re-register: %v", got)
	}
}

func TestInitializeLifecycle(t *testing.T) {
	r := newTestRegistry()
	sub := &fakeSubsystem{caps: []string{"logistics"}}
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, sub)

	if err := r.Initialize(context.Background(), "supply_chain"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	view, _ := r.Get("supply_chain")
	if view.State != StateActive {
		t.Errorf("state = %s, want active", view.State)
	}
	if view.InitializedAt.IsZero() {
		t.Error("expected initialized_at to be set")
	}
	if got := r.GetByCapability("logistics"); len(got) != 1 || got[0] != "supply_chain" {
		t.Errorf("capability index = %v", got)
	}
}

func TestInitializeDependencyMissing(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "command_assistant", PriorityMedium, []string{"ethics_governance"}, nil)

	err := r.Initialize(context.Background(), "command_assistant")
	if !HasCode(err, ErrCodeDependencyMissing) {
		t.Errorf("expected DEPENDENCY_MISSING, got %v", err)
	}
}

func TestInitializeDependencyNotReady(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "ethics_governance", PriorityCritical, nil, nil)
	mustRegister(t, r, "command_assistant", PriorityMedium, []string{"ethics_governance"}, nil)

	err := r.Initialize(context.Background(), "command_assistant")
	if !HasCode(err, ErrCodeDependencyNotReady) {
		t.Errorf("expected DEPENDENCY_NOT_READY, got %v", err)
	}

	// A degraded dependency is ready enough.
	if err := r.Initialize(context.Background(), "ethics_governance"); err != nil {
		t.Fatalf("Initialize dependency failed: %v", err)
	}
	if err := r.Degrade("ethics_governance", "load shedding"); err != nil {
		t.Fatalf("Degrade failed: %v", err)
	}
	if err := r.Initialize(context.Background(), "command_assistant"); err != nil {
		t.Errorf("Initialize with degraded dependency failed: %v", err)
	}
}

func TestInitializeFailureMarksFailed(t *testing.T) {
	r := newTestRegistry()
	sub := &fakeSubsystem{initErr: errors.New("no database")}
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, sub)

	err := r.Initialize(context.Background(), "supply_chain")
	if !HasCode(err, ErrCodeInitFailed) {
		t.Errorf("expected SUBSYSTEM_INIT_FAILED, got %v", err)
	}

	view, _ := r.Get("supply_chain")
	if view.State != StateFailed {
		t.Errorf("state = %s, want failed", view.State)
	}
	if view.LastError == "" {
		t.Error("expected last_error to be recorded")
	}
}

func TestHealthCheckFailureThreshold(t *testing.T) {
	sink := &sinkRecorder{}
	r := newTestRegistry(WithEventSink(sink))
	sub := &fakeSubsystem{}
	mustRegister(t, r, "tactical_edge_ai", PriorityHigh, nil, sub)

	if err := r.Initialize(context.Background(), "tactical_edge_ai"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	sub.setHealthErr(errors.New("sensor offline"))

	for i := 1; i <= DefaultFailureThreshold; i++ {
		result := r.HealthCheck(context.Background(), "tactical_edge_ai")
		if result.Healthy {
			t.Fatalf("check %d reported healthy", i)
		}
		if result.FailureRun != i {
			t.Errorf("check %d failure run = %d", i, result.FailureRun)
		}
	}

	view, _ := r.Get("tactical_edge_ai")
	if view.State != StateFailed {
		t.Errorf("state after threshold = %s, want failed", view.State)
	}
	if !sink.has("tactical_edge_ai/failed") {
		t.Error("expected failed system-health event")
	}
}

func TestHealthCheckSuccessDecrementsFailures(t *testing.T) {
	r := newTestRegistry()
	sub := &fakeSubsystem{}
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, sub)
	r.Initialize(context.Background(), "supply_chain")

	sub.setHealthErr(errors.New("flaky"))
	r.HealthCheck(context.Background(), "supply_chain")
	r.HealthCheck(context.Background(), "supply_chain")

	sub.setHealthErr(nil)
	result := r.HealthCheck(context.Background(), "supply_chain")
	if !result.Healthy || result.FailureRun != 1 {
		t.Errorf("expected healthy with failure run 1, got %+v", result)
	}

	view, _ := r.Get("supply_chain")
	if view.State != StateActive {
		t.Errorf("state = %s, want active", view.State)
	}
}

func TestHealthCheckTimeout(t *testing.T) {
	r := newTestRegistry(WithHealthCheckTimeout(20 * time.Millisecond))
	sub := &slowProbeSubsystem{delay: 500 * time.Millisecond}
	mustRegister(t, r, "slowpoke", PriorityLow, nil, sub)
	r.Initialize(context.Background(), "slowpoke")

	result := r.HealthCheck(context.Background(), "slowpoke")
	if result.Healthy {
		t.Error("expected timed-out probe to be unhealthy")
	}
}

// slowProbeSubsystem blocks its health probe past the registry timeout.
type slowProbeSubsystem struct {
	fakeSubsystem
	delay time.Duration
}

func (s *slowProbeSubsystem) HealthCheck(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRecoveryDefaultCycle(t *testing.T) {
	sink := &sinkRecorder{}
	r := newTestRegistry(WithEventSink(sink))
	sub := &fakeSubsystem{initErr: errors.New("cold start")}
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, sub)

	// First initialization fails, landing the record in Failed.
	r.Initialize(context.Background(), "supply_chain")

	// Clear the fault; the default recovery cycle is stop + reinitialize.
	sub.mu.Lock()
	sub.initErr = nil
	sub.mu.Unlock()

	if err := r.AttemptRecovery(context.Background(), "supply_chain"); err != nil {
		t.Fatalf("AttemptRecovery failed: %v", err)
	}

	view, _ := r.Get("supply_chain")
	if view.State != StateActive {
		t.Errorf("state = %s, want active", view.State)
	}
	if view.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0", view.FailureCount)
	}
	if _, shutdowns := sub.counts(); shutdowns != 1 {
		t.Errorf("expected default recovery to stop the instance once, got %d", shutdowns)
	}
	if !sink.has("supply_chain/recovered") {
		t.Error("expected recovered system-health event")
	}
}

func TestHealthCheckCompletesInFlightRecovery(t *testing.T) {
	r := newTestRegistry()
	sub := &fakeSubsystem{initErr: errors.New("boom")}
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, sub)
	r.Initialize(context.Background(), "supply_chain")

	sub.mu.Lock()
	sub.initErr = nil
	sub.mu.Unlock()

	// Park the recovery so the record stays in Recovering while a health
	// check observes it.
	release := make(chan struct{})
	r.RegisterRecoveryStrategy("supply_chain", func(ctx context.Context, _ Subsystem) error {
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- r.AttemptRecovery(context.Background(), "supply_chain") }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		view, _ := r.Get("supply_chain")
		if view.State == StateRecovering {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record never entered recovering")
		}
		time.Sleep(time.Millisecond)
	}

	result := r.HealthCheck(context.Background(), "supply_chain")
	if !result.Healthy {
		t.Fatalf("expected healthy check, got %+v", result)
	}
	if result.State != StateActive {
		t.Errorf("state = %s, want active", result.State)
	}
	if result.FailureRun != 0 {
		t.Errorf("failure run = %d, want 0", result.FailureRun)
	}

	// The parked attempt finds the record already active when it resumes;
	// its outcome is irrelevant here.
	close(release)
	<-done
}

func TestRecoveryPrefersRecoverHook(t *testing.T) {
	r := newTestRegistry()
	sub := &recoverableSubsystem{}
	sub.initErr = errors.New("bad boot")
	mustRegister(t, r, "biomedical_defense", PriorityHigh, nil, sub)
	r.Initialize(context.Background(), "biomedical_defense")

	sub.mu.Lock()
	sub.initErr = nil
	sub.mu.Unlock()

	if err := r.AttemptRecovery(context.Background(), "biomedical_defense"); err != nil {
		t.Fatalf("AttemptRecovery failed: %v", err)
	}
	if sub.recoverCalls != 1 {
		t.Errorf("recover calls = %d, want 1", sub.recoverCalls)
	}
	if _, shutdowns := sub.counts(); shutdowns != 0 {
		t.Error("Recover hook should bypass the stop/reinitialize cycle")
	}
}

func TestRecoveryStrategyTakesPrecedence(t *testing.T) {
	r := newTestRegistry()
	sub := &recoverableSubsystem{}
	sub.initErr = errors.New("bad boot")
	mustRegister(t, r, "situational_awareness", PriorityHigh, nil, sub)

	strategyCalled := false
	r.RegisterRecoveryStrategy("situational_awareness", func(ctx context.Context, instance Subsystem) error {
		strategyCalled = true
		return nil
	})

	r.Initialize(context.Background(), "situational_awareness")
	if err := r.AttemptRecovery(context.Background(), "situational_awareness"); err != nil {
		t.Fatalf("AttemptRecovery failed: %v", err)
	}
	if !strategyCalled {
		t.Error("custom strategy was not invoked")
	}
	if sub.recoverCalls != 0 {
		t.Error("Recover hook must not run when a custom strategy exists")
	}
}

func TestRecoveryFailureStaysFailed(t *testing.T) {
	sink := &sinkRecorder{}
	r := newTestRegistry(WithEventSink(sink))
	sub := &fakeSubsystem{initErr: errors.New("persistent fault")}
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, sub)
	r.Initialize(context.Background(), "supply_chain")

	err := r.AttemptRecovery(context.Background(), "supply_chain")
	if !HasCode(err, ErrCodeRecoveryFailed) {
		t.Errorf("expected RECOVERY_FAILED, got %v", err)
	}

	view, _ := r.Get("supply_chain")
	if view.State != StateFailed {
		t.Errorf("state = %s, want failed", view.State)
	}
	if !sink.has("supply_chain/recovery_failed") {
		t.Error("expected recovery_failed system-health event")
	}
}

func TestRecoveryRequiresFailedState(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, nil)
	r.Initialize(context.Background(), "supply_chain")

	err := r.AttemptRecovery(context.Background(), "supply_chain")
	if !HasCode(err, ErrCodeInvalidTransition) {
		t.Errorf("expected INVALID_TRANSITION for active subsystem, got %v", err)
	}
}

func TestDegradeRestore(t *testing.T) {
	r := newTestRegistry()
	sub := &fakeSubsystem{caps: []string{"analytics"}}
	mustRegister(t, r, "situational_awareness", PriorityHigh, nil, sub)
	r.Initialize(context.Background(), "situational_awareness")

	if err := r.Degrade("situational_awareness", "sensor loss"); err != nil {
		t.Fatalf("Degrade failed: %v", err)
	}
	// Capability providers must be active.
	if got := r.GetByCapability("analytics"); len(got) != 0 {
		t.Errorf("degraded subsystem still indexed: %v", got)
	}

	if err := r.Restore("situational_awareness", "sensor back"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := r.GetByCapability("analytics"); len(got) != 1 {
		t.Errorf("restored subsystem not indexed: %v", got)
	}
}

func TestIsolateThenRestart(t *testing.T) {
	r := newTestRegistry()
	sub := &fakeSubsystem{}
	mustRegister(t, r, "tactical_edge_ai", PriorityHigh, nil, sub)
	r.Initialize(context.Background(), "tactical_edge_ai")

	if err := r.Isolate(context.Background(), "tactical_edge_ai", "containment"); err != nil {
		t.Fatalf("Isolate failed: %v", err)
	}
	view, _ := r.Get("tactical_edge_ai")
	if view.State != StateFailed {
		t.Errorf("isolated state = %s, want failed", view.State)
	}

	if err := r.Restart(context.Background(), "tactical_edge_ai", "cleared"); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	view, _ = r.Get("tactical_edge_ai")
	if view.State != StateActive {
		t.Errorf("restarted state = %s, want active", view.State)
	}
}

func TestTerminateIsFinal(t *testing.T) {
	r := newTestRegistry()
	sub := &fakeSubsystem{}
	mustRegister(t, r, "supply_chain", PriorityMedium, nil, sub)
	r.Initialize(context.Background(), "supply_chain")

	if err := r.Terminate(context.Background(), "supply_chain"); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	// Second terminate is a no-op, not an error.
	if err := r.Terminate(context.Background(), "supply_chain"); err != nil {
		t.Errorf("repeat Terminate failed: %v", err)
	}
	if _, shutdowns := sub.counts(); shutdowns != 1 {
		t.Errorf("shutdown calls = %d, want 1", shutdowns)
	}

	// No transition leaves the terminal state.
	if err := r.Degrade("supply_chain", "too late"); !HasCode(err, ErrCodeInvalidTransition) {
		t.Errorf("expected INVALID_TRANSITION from terminated, got %v", err)
	}
}

func TestUnknownSubsystemErrors(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if err := r.Initialize(ctx, "ghost"); !HasCode(err, ErrCodeUnknownSubsystem) {
		t.Errorf("Initialize: expected UNKNOWN_SUBSYSTEM, got %v", err)
	}
	if err := r.Unregister("ghost"); !HasCode(err, ErrCodeUnknownSubsystem) {
		t.Errorf("Unregister: expected UNKNOWN_SUBSYSTEM, got %v", err)
	}
	if result := r.HealthCheck(ctx, "ghost"); result.Healthy {
		t.Error("HealthCheck on unknown id must be unhealthy")
	}
	if _, err := r.Get("ghost"); !HasCode(err, ErrCodeUnknownSubsystem) {
		t.Errorf("Get: expected UNKNOWN_SUBSYSTEM, got %v", err)
	}
}

func TestStateCountsAndSnapshot(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "a_one", PriorityMedium, nil, nil)
	mustRegister(t, r, "b_two", PriorityMedium, nil, nil)
	r.Initialize(context.Background(), "a_one")

	counts := r.StateCounts()
	if counts[StateActive] != 1 || counts[StateUninitialized] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	// Views are copies: mutating one must not touch the registry.
	view := snap["a_one"]
	view.Descriptor.Dependencies = append(view.Descriptor.Dependencies, "mutated")
	fresh, _ := r.Get("a_one")
	for _, dep := range fresh.Descriptor.Dependencies {
		if dep == "mutated" {
			t.Fatal("snapshot mutation leaked into the registry")
		}
	}
}

func TestConcurrentHealthChecks(t *testing.T) {
	r := newTestRegistry()
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("sub_%d", i)
		mustRegister(t, r, id, PriorityMedium, nil, &fakeSubsystem{})
		r.Initialize(context.Background(), id)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sub_%d", i)
			for j := 0; j < 20; j++ {
				r.HealthCheck(context.Background(), id)
			}
		}(i)
	}
	wg.Wait()

	if counts := r.StateCounts(); counts[StateActive] != 8 {
		t.Errorf("expected all subsystems active, got %v", counts)
	}
}
