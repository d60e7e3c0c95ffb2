package boot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bastion-runtime/bastion/pkg/eventbus"
)

// EventPublisher is the slice of the event bus the controller needs to
// broadcast gating decisions.
type EventPublisher interface {
	PublishEvent(ev eventbus.Event) string
}

type nopPublisher struct{}

func (nopPublisher) PublishEvent(eventbus.Event) string { return "" }

// ConsultationSource answers which domains a subsystem must consult before
// acting. The governance graph satisfies this.
type ConsultationSource interface {
	MustConsultDomains(domain string) []string
}

type nopConsultation struct{}

func (nopConsultation) MustConsultDomains(string) []string { return nil }

// ApprovalRequest carries everything an approval policy may inspect.
type ApprovalRequest struct {
	SubsystemID string
	Priority    string
	MustConsult []string
	Metadata    map[string]interface{}
}

// ApprovalDecision is the outcome of an approval policy evaluation.
type ApprovalDecision struct {
	Approved  bool
	Reasoning string
}

// ApprovalPolicy decides whether a subsystem may start under an approval
// regime. Implementations must be side-effect free; the controller owns
// caching, events, and audit.
type ApprovalPolicy interface {
	Approve(ctx context.Context, req ApprovalRequest) (ApprovalDecision, error)
}

// PriorityApprovalPolicy is the built-in policy: CRITICAL and HIGH priority
// subsystems are auto-approved; everything else is default-approved.
type PriorityApprovalPolicy struct{}

func (PriorityApprovalPolicy) Approve(_ context.Context, req ApprovalRequest) (ApprovalDecision, error) {
	if req.Priority == "CRITICAL" || req.Priority == "HIGH" {
		return ApprovalDecision{
			Approved:  true,
			Reasoning: fmt.Sprintf("auto-approved: %s priority subsystem", req.Priority),
		}, nil
	}
	return ApprovalDecision{
		Approved:  true,
		Reasoning: "auto-approved: standard subsystem initialization",
	}, nil
}

// Stats summarizes controller activity.
type Stats struct {
	CurrentProfile       Profile `json:"current_profile"`
	EmergencyMode        bool    `json:"emergency_mode"`
	CheckpointPassed     bool    `json:"checkpoint_passed"`
	ApprovalsRequired    int     `json:"approvals_required"`
	ApprovalsGranted     int     `json:"approvals_granted"`
	EmergencyActivations int     `json:"emergency_activations"`
	TotalAuditEvents     int     `json:"total_audit_events"`
}

// Controller gates subsystem startup behind the active boot profile,
// emergency mode, and the governance checkpoint. All controller actions are
// appended to an in-memory audit log and to the configured sink.
type Controller struct {
	mu sync.Mutex

	profiles    map[Profile]*ProfileConfig
	current     *ProfileConfig
	currentName Profile

	emergencyActive bool
	emergencyAt     time.Time
	checkpointDone  bool
	approvals       map[string]bool
	snapshots       map[string]map[string]interface{}

	auditLog []AuditEvent
	stats    Stats

	bus          EventPublisher
	governance   ConsultationSource
	policy       ApprovalPolicy
	sink         AuditSink
	logger       zerolog.Logger
	sourceDomain string
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithEventPublisher wires the bus the controller broadcasts decisions on.
func WithEventPublisher(pub EventPublisher) ControllerOption {
	return func(c *Controller) { c.bus = pub }
}

// WithConsultationSource wires the governance graph.
func WithConsultationSource(src ConsultationSource) ControllerOption {
	return func(c *Controller) { c.governance = src }
}

// WithApprovalPolicy replaces the built-in priority policy.
func WithApprovalPolicy(p ApprovalPolicy) ControllerOption {
	return func(c *Controller) { c.policy = p }
}

// WithAuditSink wires persistent audit storage.
func WithAuditSink(sink AuditSink) ControllerOption {
	return func(c *Controller) { c.sink = sink }
}

// WithProfile registers or replaces a named profile.
func WithProfile(cfg *ProfileConfig) ControllerOption {
	return func(c *Controller) { c.profiles[cfg.Profile] = cfg }
}

// NewController creates a controller with the built-in profiles loaded and
// no profile selected.
func NewController(logger zerolog.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		profiles:     DefaultProfiles(),
		approvals:    make(map[string]bool),
		snapshots:    make(map[string]map[string]interface{}),
		bus:          nopPublisher{},
		governance:   nopConsultation{},
		policy:       PriorityApprovalPolicy{},
		sink:         NopAuditSink{},
		logger:       logger.With().Str("component", "boot").Logger(),
		sourceDomain: "boot_controller",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetProfile selects the active profile for subsequent gate checks.
func (c *Controller) SetProfile(profile Profile) error {
	c.mu.Lock()
	cfg, ok := c.profiles[profile]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown boot profile %q", profile)
	}
	c.current = cfg
	c.currentName = profile
	c.mu.Unlock()

	c.audit(AuditEvent{
		EventType: AuditProfileChanged,
		Action:    "set_profile",
		Context:   map[string]interface{}{"profile": string(profile)},
		Result:    "success",
	})

	c.logger.Info().
		Str("profile", string(profile)).
		Str("description", cfg.Description).
		Msg("boot profile set")
	return nil
}

// CurrentProfile returns the active profile name, or empty when unset.
func (c *Controller) CurrentProfile() Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentName
}

// ProfileConfigFor returns a registered profile config.
func (c *Controller) ProfileConfigFor(profile Profile) (*ProfileConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.profiles[profile]
	return cfg, ok
}

// Profiles returns the registered profile names, sorted.
func (c *Controller) Profiles() []Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Profile, 0, len(c.profiles))
	for p := range c.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReloadProfiles replaces the registered profile set, keeping the active
// selection when its name survives the reload. Gate checks pick up the new
// policy on their next call.
func (c *Controller) ReloadProfiles(profiles map[Profile]*ProfileConfig) {
	c.mu.Lock()
	c.profiles = profiles
	if cfg, ok := profiles[c.currentName]; ok {
		c.current = cfg
	}
	count := len(profiles)
	c.mu.Unlock()

	c.audit(AuditEvent{
		EventType: AuditProfileChanged,
		Action:    "reload_profiles",
		Context:   map[string]interface{}{"profiles": count},
		Result:    "success",
	})

	c.logger.Info().Int("profiles", count).Msg("boot profiles reloaded")
}

// ShouldInitialize applies the gate checks in order: emergency mode, profile
// whitelist, profile blacklist, then the approval regime. It returns whether
// the subsystem may start and, on denial, the reason.
func (c *Controller) ShouldInitialize(ctx context.Context, id string, metadata map[string]interface{}) (bool, string) {
	c.mu.Lock()
	emergency := c.emergencyActive
	cfg := c.current
	profile := c.currentName
	checkpoint := c.checkpointDone
	c.mu.Unlock()

	if emergency {
		if _, critical := EmergencyCriticalSubsystems[id]; !critical {
			return false, "emergency mode active: non-critical subsystem"
		}
	}

	if cfg == nil {
		return true, ""
	}

	if cfg.HasWhitelist() && !cfg.whitelisted(id) {
		return false, fmt.Sprintf("not in whitelist for profile %s", profile)
	}
	if cfg.blacklisted(id) {
		return false, fmt.Sprintf("in blacklist for profile %s", profile)
	}

	if cfg.RequireApproval {
		if _, exempt := ApprovalExemptSubsystems[id]; !exempt {
			if !checkpoint {
				return false, "waiting for checkpoint"
			}
			if !c.RequestApproval(ctx, id, metadata) {
				return false, "approval denied"
			}
		}
	}

	return true, ""
}

// RequestApproval evaluates the approval policy for a subsystem, publishes
// the decision, and caches the result. Subsequent calls for the same id
// return the cached decision without re-evaluating.
func (c *Controller) RequestApproval(ctx context.Context, id string, metadata map[string]interface{}) bool {
	c.mu.Lock()
	if cached, ok := c.approvals[id]; ok {
		c.mu.Unlock()
		return cached
	}
	c.stats.ApprovalsRequired++
	profile := c.currentName
	c.mu.Unlock()

	priority, _ := metadata["priority"].(string)
	if priority == "" {
		priority = "MEDIUM"
	}
	mustConsult := c.governance.MustConsultDomains(id)

	decision, err := c.policy.Approve(ctx, ApprovalRequest{
		SubsystemID: id,
		Priority:    priority,
		MustConsult: mustConsult,
		Metadata:    metadata,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("subsystem", id).Msg("approval policy evaluation failed")
		decision = ApprovalDecision{Approved: false, Reasoning: "policy evaluation failed: " + err.Error()}
	}

	c.mu.Lock()
	c.approvals[id] = decision.Approved
	if decision.Approved {
		c.stats.ApprovalsGranted++
	}
	c.mu.Unlock()

	c.bus.PublishEvent(eventbus.Event{
		Category:     eventbus.CategoryGovernanceDecision,
		SourceDomain: c.sourceDomain,
		Priority:     eventbus.PriorityHigh,
		Payload: map[string]interface{}{
			"decision_type": "approval",
			"subsystem_id":  id,
			"approved":      decision.Approved,
			"reasoning":     decision.Reasoning,
			"priority":      priority,
			"must_consult":  mustConsult,
		},
		Metadata: map[string]interface{}{"boot_profile": string(profile)},
	})

	result := "denied"
	if decision.Approved {
		result = "approved"
	}
	c.audit(AuditEvent{
		EventType:   AuditApproval,
		Action:      "request_approval",
		SubsystemID: id,
		Context: map[string]interface{}{
			"priority":     priority,
			"reasoning":    decision.Reasoning,
			"must_consult": mustConsult,
		},
		Result: result,
	})

	c.logger.Info().
		Str("subsystem", id).
		Bool("approved", decision.Approved).
		Str("reasoning", decision.Reasoning).
		Msg("approval decision")
	return decision.Approved
}

// ActivateEmergencyMode restricts startup to the emergency-critical set.
// Activating twice warns and does nothing.
func (c *Controller) ActivateEmergencyMode(reason string) {
	c.mu.Lock()
	if c.emergencyActive {
		c.mu.Unlock()
		c.logger.Warn().Msg("emergency mode already active")
		return
	}
	c.emergencyActive = true
	c.emergencyAt = time.Now()
	c.stats.EmergencyActivations++
	profile := c.currentName
	c.mu.Unlock()

	c.bus.PublishEvent(eventbus.Event{
		Category:     eventbus.CategorySystemHealth,
		SourceDomain: c.sourceDomain,
		Priority:     eventbus.PriorityCritical,
		Payload: map[string]interface{}{
			"event_type": "emergency_mode_activated",
			"reason":     reason,
		},
		Metadata: map[string]interface{}{"boot_profile": string(profile), "severity": "critical"},
	})

	c.audit(AuditEvent{
		EventType: AuditEmergencyMode,
		Action:    "activate",
		Context:   map[string]interface{}{"reason": reason},
		Result:    "activated",
	})

	c.logger.Error().Str("reason", reason).Msg("emergency mode activated")
}

// DeactivateEmergencyMode lifts the emergency restriction. Deactivating when
// inactive warns and does nothing.
func (c *Controller) DeactivateEmergencyMode() {
	c.mu.Lock()
	if !c.emergencyActive {
		c.mu.Unlock()
		c.logger.Warn().Msg("emergency mode not active")
		return
	}
	c.emergencyActive = false
	duration := time.Since(c.emergencyAt)
	profile := c.currentName
	c.mu.Unlock()

	c.bus.PublishEvent(eventbus.Event{
		Category:     eventbus.CategorySystemHealth,
		SourceDomain: c.sourceDomain,
		Priority:     eventbus.PriorityHigh,
		Payload: map[string]interface{}{
			"event_type":       "emergency_mode_deactivated",
			"duration_seconds": duration.Seconds(),
		},
		Metadata: map[string]interface{}{"boot_profile": string(profile)},
	})

	c.audit(AuditEvent{
		EventType: AuditEmergencyMode,
		Action:    "deactivate",
		Context:   map[string]interface{}{"duration_seconds": duration.Seconds()},
		Result:    "deactivated",
	})

	c.logger.Info().Dur("duration", duration).Msg("emergency mode deactivated")
}

// EmergencyMode reports whether emergency mode is active.
func (c *Controller) EmergencyMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emergencyActive
}

// MarkCheckpointPassed latches the governance checkpoint. The latch is
// one-way; repeated calls have no effect.
func (c *Controller) MarkCheckpointPassed() {
	c.mu.Lock()
	if c.checkpointDone {
		c.mu.Unlock()
		return
	}
	c.checkpointDone = true
	profile := c.currentName
	c.mu.Unlock()

	c.bus.PublishEvent(eventbus.Event{
		Category:     eventbus.CategoryGovernanceDecision,
		SourceDomain: c.sourceDomain,
		Priority:     eventbus.PriorityCritical,
		Payload: map[string]interface{}{
			"decision_type": "checkpoint",
			"status":        "passed",
		},
		Metadata: map[string]interface{}{"boot_profile": string(profile)},
	})

	c.audit(AuditEvent{
		EventType: AuditCheckpoint,
		Action:    "checkpoint_passed",
		Result:    "success",
	})

	c.logger.Info().Msg("checkpoint passed, gate lifted for remaining subsystems")
}

// CheckpointPassed reports whether the checkpoint latch is set.
func (c *Controller) CheckpointPassed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkpointDone
}

// PriorityOverride returns the active profile's priority override for a
// subsystem, if any.
func (c *Controller) PriorityOverride(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", false
	}
	p, ok := c.current.PriorityOverrides[id]
	return p, ok
}

// SaveSnapshot captures the controller state under a label and records it
// in the audit log.
func (c *Controller) SaveSnapshot(label string) map[string]interface{} {
	snap := c.captureSnapshot()

	c.mu.Lock()
	c.snapshots[label] = snap
	c.mu.Unlock()

	c.audit(AuditEvent{
		EventType:     AuditStateSnapshot,
		Action:        "save",
		Context:       map[string]interface{}{"snapshot_id": label},
		Result:        "saved",
		StateSnapshot: snap,
	})

	c.logger.Info().Str("snapshot", label).Msg("state snapshot saved")
	return snap
}

// Snapshot returns a previously saved snapshot.
func (c *Controller) Snapshot(label string) (map[string]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[label]
	return snap, ok
}

func (c *Controller) captureSnapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"timestamp":          time.Now().UTC().Format(time.RFC3339Nano),
		"boot_profile":       string(c.currentName),
		"emergency_mode":     c.emergencyActive,
		"checkpoint_passed":  c.checkpointDone,
		"approvals_required": c.stats.ApprovalsRequired,
		"approvals_granted":  c.stats.ApprovalsGranted,
	}
}

// Stats returns a copy of the controller counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CurrentProfile = c.currentName
	s.EmergencyMode = c.emergencyActive
	s.CheckpointPassed = c.checkpointDone
	s.TotalAuditEvents = len(c.auditLog)
	return s
}

// AuditLog returns a copy of the in-memory audit log.
func (c *Controller) AuditLog() []AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AuditEvent, len(c.auditLog))
	copy(out, c.auditLog)
	return out
}

// ReplayLog replays the controller's own audit log through the given
// filters.
func (c *Controller) ReplayLog(filters ReplayFilters) ReplayResult {
	return Replay(c.AuditLog(), filters)
}

func (c *Controller) audit(ev AuditEvent) {
	c.mu.Lock()
	if c.current != nil && !c.current.EnableAuditLogging {
		c.mu.Unlock()
		return
	}
	ev.EventID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()
	if ev.Context == nil {
		ev.Context = map[string]interface{}{}
	}
	c.auditLog = append(c.auditLog, ev)
	c.mu.Unlock()

	if err := c.sink.AppendAuditEvent(ev); err != nil {
		c.logger.Error().Err(err).Str("event_type", ev.EventType).Msg("failed to persist audit event")
	}
}
