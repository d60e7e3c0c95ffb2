package boot

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bastion-runtime/bastion/pkg/eventbus"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) PublishEvent(ev eventbus.Event) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return ev.ID
}

func (p *capturingPublisher) byCategory(cat eventbus.Category) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []eventbus.Event
	for _, ev := range p.events {
		if ev.Category == cat {
			out = append(out, ev)
		}
	}
	return out
}

type denyPolicy struct{}

func (denyPolicy) Approve(context.Context, ApprovalRequest) (ApprovalDecision, error) {
	return ApprovalDecision{Approved: false, Reasoning: "denied by policy"}, nil
}

func newTestController(t *testing.T, opts ...ControllerOption) *Controller {
	t.Helper()
	return NewController(zerolog.Nop(), opts...)
}

func TestSetProfileUnknown(t *testing.T) {
	c := newTestController(t)
	if err := c.SetProfile("no_such_profile"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
	if c.CurrentProfile() != "" {
		t.Errorf("profile should remain unset, got %q", c.CurrentProfile())
	}
}

func TestWhitelistGate(t *testing.T) {
	c := newTestController(t, WithProfile(&ProfileConfig{
		Profile:   "pair_only",
		Whitelist: []string{"a", "b"},
	}))
	if err := c.SetProfile("pair_only"); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}

	ctx := context.Background()
	if ok, _ := c.ShouldInitialize(ctx, "a", nil); !ok {
		t.Error("whitelisted subsystem must be allowed")
	}
	ok, reason := c.ShouldInitialize(ctx, "c", nil)
	if ok {
		t.Error("non-whitelisted subsystem must be denied")
	}
	if !strings.Contains(reason, "whitelist") {
		t.Errorf("reason = %q, want mention of whitelist", reason)
	}
}

func TestReloadProfilesKeepsSelection(t *testing.T) {
	c := newTestController(t)
	if err := c.SetProfile(ProfileNormal); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}

	reloaded := DefaultProfiles()
	reloaded[ProfileNormal].Blacklist = []string{"training_simulation"}
	c.ReloadProfiles(reloaded)

	if c.CurrentProfile() != ProfileNormal {
		t.Errorf("profile = %q, want normal", c.CurrentProfile())
	}
	// The active gate must reflect the reloaded policy.
	if ok, _ := c.ShouldInitialize(context.Background(), "training_simulation", nil); ok {
		t.Error("reloaded blacklist must deny the subsystem")
	}
}

func TestBlacklistGate(t *testing.T) {
	c := newTestController(t)
	if err := c.SetProfile(ProfileAirGapped); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	c.MarkCheckpointPassed()

	ok, reason := c.ShouldInitialize(context.Background(), "cloud_sync", nil)
	if ok {
		t.Error("blacklisted subsystem must be denied")
	}
	if !strings.Contains(reason, "blacklist") {
		t.Errorf("reason = %q, want mention of blacklist", reason)
	}
}

func TestEmergencyModeOverridesProfile(t *testing.T) {
	c := newTestController(t)
	if err := c.SetProfile(ProfileNormal); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	c.ActivateEmergencyMode("test")

	ctx := context.Background()
	if ok, _ := c.ShouldInitialize(ctx, "ethics_governance", nil); !ok {
		t.Error("emergency-critical subsystem must be allowed")
	}
	ok, reason := c.ShouldInitialize(ctx, "tactical_edge_ai", nil)
	if ok {
		t.Error("non-critical subsystem must be denied in emergency mode")
	}
	if !strings.Contains(reason, "emergency") {
		t.Errorf("reason = %q, want mention of emergency", reason)
	}

	c.DeactivateEmergencyMode()
	if ok, _ := c.ShouldInitialize(ctx, "tactical_edge_ai", nil); !ok {
		t.Error("subsystem must be allowed after emergency mode ends")
	}
}

func TestEmergencyModeWithoutProfile(t *testing.T) {
	c := newTestController(t)
	c.ActivateEmergencyMode("test")
	if ok, _ := c.ShouldInitialize(context.Background(), "anything", nil); ok {
		t.Error("emergency gate must apply even with no profile selected")
	}
}

func TestEmergencyModeDoubleActivation(t *testing.T) {
	pub := &capturingPublisher{}
	c := newTestController(t, WithEventPublisher(pub))

	c.ActivateEmergencyMode("first")
	c.ActivateEmergencyMode("second")

	if got := c.Stats().EmergencyActivations; got != 1 {
		t.Errorf("activations = %d, want 1 (second call is a no-op)", got)
	}
	if got := len(pub.byCategory(eventbus.CategorySystemHealth)); got != 1 {
		t.Errorf("system health events = %d, want 1", got)
	}
}

func TestCheckpointGate(t *testing.T) {
	pub := &capturingPublisher{}
	c := newTestController(t, WithEventPublisher(pub))
	if err := c.SetProfile(ProfileEthicsFirst); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}

	ctx := context.Background()
	meta := map[string]interface{}{"priority": "HIGH"}

	// Exempt subsystems start before the checkpoint.
	if ok, _ := c.ShouldInitialize(ctx, "ethics_governance", meta); !ok {
		t.Error("exempt subsystem must start before the checkpoint")
	}

	ok, reason := c.ShouldInitialize(ctx, "tactical_edge_ai", meta)
	if ok {
		t.Error("gated subsystem must wait for the checkpoint")
	}
	if !strings.Contains(reason, "checkpoint") {
		t.Errorf("reason = %q, want mention of checkpoint", reason)
	}

	c.MarkCheckpointPassed()
	if !c.CheckpointPassed() {
		t.Fatal("checkpoint latch not set")
	}

	if ok, reason := c.ShouldInitialize(ctx, "tactical_edge_ai", meta); !ok {
		t.Errorf("subsystem must start after the checkpoint, denied: %s", reason)
	}

	// Approval was cached once.
	stats := c.Stats()
	if stats.ApprovalsRequired != 1 || stats.ApprovalsGranted != 1 {
		t.Errorf("approvals required/granted = %d/%d, want 1/1",
			stats.ApprovalsRequired, stats.ApprovalsGranted)
	}
	if ok, _ := c.ShouldInitialize(ctx, "tactical_edge_ai", meta); !ok {
		t.Error("cached approval must allow repeat check")
	}
	if got := c.Stats().ApprovalsRequired; got != 1 {
		t.Errorf("approvals required = %d after repeat, want 1 (cached)", got)
	}

	// A governance decision event was published.
	if got := len(pub.byCategory(eventbus.CategoryGovernanceDecision)); got < 2 {
		t.Errorf("governance decision events = %d, want checkpoint + approval", got)
	}
}

func TestCheckpointOneWayLatch(t *testing.T) {
	pub := &capturingPublisher{}
	c := newTestController(t, WithEventPublisher(pub))

	c.MarkCheckpointPassed()
	c.MarkCheckpointPassed()

	if got := len(pub.byCategory(eventbus.CategoryGovernanceDecision)); got != 1 {
		t.Errorf("checkpoint events = %d, want 1", got)
	}
}

func TestApprovalDenied(t *testing.T) {
	c := newTestController(t, WithApprovalPolicy(denyPolicy{}))
	if err := c.SetProfile(ProfileEthicsFirst); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	c.MarkCheckpointPassed()

	ok, reason := c.ShouldInitialize(context.Background(), "tactical_edge_ai", nil)
	if ok {
		t.Error("denied approval must block initialization")
	}
	if !strings.Contains(reason, "approval") {
		t.Errorf("reason = %q, want mention of approval", reason)
	}
	stats := c.Stats()
	if stats.ApprovalsGranted != 0 {
		t.Errorf("approvals granted = %d, want 0", stats.ApprovalsGranted)
	}
}

func TestPriorityApprovalPolicy(t *testing.T) {
	p := PriorityApprovalPolicy{}
	for _, prio := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"} {
		dec, err := p.Approve(context.Background(), ApprovalRequest{SubsystemID: "x", Priority: prio})
		if err != nil {
			t.Fatalf("Approve(%s): %v", prio, err)
		}
		if !dec.Approved {
			t.Errorf("priority %s should be approved by the default policy", prio)
		}
	}
}

func TestPriorityOverride(t *testing.T) {
	c := newTestController(t)
	if err := c.SetProfile(ProfileAdversarial); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	if p, ok := c.PriorityOverride("situational_awareness"); !ok || p != "HIGH" {
		t.Errorf("override = %q/%v, want HIGH/true", p, ok)
	}
	if _, ok := c.PriorityOverride("unrelated"); ok {
		t.Error("unexpected override for unrelated subsystem")
	}
}

func TestSnapshotAndAudit(t *testing.T) {
	c := newTestController(t)
	if err := c.SetProfile(ProfileNormal); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	c.SaveSnapshot("pre_boot")

	snap, ok := c.Snapshot("pre_boot")
	if !ok {
		t.Fatal("snapshot not stored")
	}
	if snap["boot_profile"] != string(ProfileNormal) {
		t.Errorf("snapshot profile = %v", snap["boot_profile"])
	}

	log := c.AuditLog()
	if len(log) != 2 {
		t.Fatalf("audit log length = %d, want 2 (profile change + snapshot)", len(log))
	}
	if log[0].EventType != AuditProfileChanged || log[1].EventType != AuditStateSnapshot {
		t.Errorf("audit sequence = %s, %s", log[0].EventType, log[1].EventType)
	}
	if log[1].StateSnapshot == nil {
		t.Error("snapshot audit event must carry the state snapshot")
	}
}

func TestReplayDeterminism(t *testing.T) {
	c := newTestController(t)
	_ = c.SetProfile(ProfileEthicsFirst)
	c.ActivateEmergencyMode("drill")
	c.DeactivateEmergencyMode()
	c.MarkCheckpointPassed()
	_, _ = c.ShouldInitialize(context.Background(), "tactical_edge_ai",
		map[string]interface{}{"priority": "HIGH"})
	c.SaveSnapshot("end")

	log := c.AuditLog()

	first := Replay(log, ReplayFilters{})
	second := Replay(log, ReplayFilters{})
	if !reflect.DeepEqual(first.Summary, second.Summary) {
		t.Errorf("replay summaries differ: %+v vs %+v", first.Summary, second.Summary)
	}

	want := ReplaySummary{
		TotalEvents:          len(log),
		FilteredEvents:       len(log),
		ProfileChanges:       1,
		EmergencyActivations: 1,
		Approvals:            1,
		Snapshots:            1,
	}
	if first.Summary != want {
		t.Errorf("summary = %+v, want %+v", first.Summary, want)
	}
	if len(first.Timeline) != len(log) {
		t.Errorf("timeline length = %d, want %d", len(first.Timeline), len(log))
	}
}

func TestReplayFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []AuditEvent{
		{EventID: "1", Timestamp: base, EventType: AuditProfileChanged, Action: "set_profile"},
		{EventID: "2", Timestamp: base.Add(time.Minute), EventType: AuditEmergencyMode, Action: "activate"},
		{EventID: "3", Timestamp: base.Add(2 * time.Minute), EventType: AuditEmergencyMode, Action: "deactivate"},
		{EventID: "4", Timestamp: base.Add(3 * time.Minute), EventType: AuditApproval, Action: "request_approval"},
	}

	res := Replay(events, ReplayFilters{EventTypes: []string{AuditEmergencyMode}})
	if res.Summary.FilteredEvents != 2 {
		t.Errorf("filtered = %d, want 2", res.Summary.FilteredEvents)
	}
	if res.Summary.EmergencyActivations != 1 {
		t.Errorf("activations = %d, want 1 (deactivate does not count)", res.Summary.EmergencyActivations)
	}

	res = Replay(events, ReplayFilters{StartTime: base.Add(90 * time.Second)})
	if res.Summary.FilteredEvents != 2 {
		t.Errorf("time-filtered = %d, want 2", res.Summary.FilteredEvents)
	}

	res = Replay(events, ReplayFilters{EndTime: base.Add(30 * time.Second)})
	if res.Summary.FilteredEvents != 1 {
		t.Errorf("end-time-filtered = %d, want 1", res.Summary.FilteredEvents)
	}
}

func TestDefaultProfilesValid(t *testing.T) {
	for name, cfg := range DefaultProfiles() {
		if err := cfg.Validate(); err != nil {
			t.Errorf("profile %s invalid: %v", name, err)
		}
	}
}
