// Package runtime implements the subsystem lifecycle registry: descriptor
// registration, dependency-ordered initialization, health supervision, and
// bounded-retry recovery for independently pluggable subsystems.
package runtime

import (
	"context"
	"time"
)

// Priority is a subsystem's declared priority tier. Lower values start
// earlier and survive longer under degraded conditions.
type Priority int

const (
	// PriorityCritical subsystems must always run.
	PriorityCritical Priority = iota
	// PriorityHigh subsystems are important but can degrade gracefully.
	PriorityHigh
	// PriorityMedium subsystems are standard operational components.
	PriorityMedium
	// PriorityLow subsystems are optional enhancements.
	PriorityLow
	// PriorityBackground subsystems run non-essential background work.
	PriorityBackground
)

// String returns the canonical upper-case name of the priority tier.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	case PriorityBackground:
		return "BACKGROUND"
	default:
		return "MEDIUM"
	}
}

// ParsePriority converts a priority name to a Priority tier. Unknown names
// parse as PriorityMedium.
func ParsePriority(s string) Priority {
	switch s {
	case "CRITICAL", "critical":
		return PriorityCritical
	case "HIGH", "high":
		return PriorityHigh
	case "MEDIUM", "medium":
		return PriorityMedium
	case "LOW", "low":
		return PriorityLow
	case "BACKGROUND", "background":
		return PriorityBackground
	default:
		return PriorityMedium
	}
}

// State is a subsystem's lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateActive        State = "active"
	StateDegraded      State = "degraded"
	StateFailed        State = "failed"
	StateRecovering    State = "recovering"
	StateTerminated    State = "terminated"
)

// IsTerminal reports whether the state is final. A terminated subsystem
// never re-enters any other state without a fresh registration.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// legalTransitions encodes the lifecycle state machine. Terminated is
// reachable from every non-terminal state and is handled separately.
var legalTransitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateActive, StateFailed},
	StateActive:        {StateDegraded, StateFailed},
	StateDegraded:      {StateActive, StateFailed},
	StateFailed:        {StateRecovering},
	StateRecovering:    {StateActive, StateFailed},
}

// canTransition reports whether the edge from -> to exists in the lifecycle
// state machine.
func canTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateTerminated {
		return true
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Descriptor is the static metadata a subsystem registers with. It is
// immutable once registered; re-registration replaces it with a warning.
type Descriptor struct {
	// ID is the unique subsystem identifier.
	ID string `json:"id" validate:"required"`

	// Name is the human-readable subsystem name.
	Name string `json:"name"`

	// Version is the subsystem version string.
	Version string `json:"version"`

	// Priority is the declared priority tier.
	Priority Priority `json:"priority"`

	// Dependencies lists subsystem ids that must be active before this
	// subsystem initializes.
	Dependencies []string `json:"dependencies,omitempty"`

	// Capabilities lists the capability names this subsystem provides.
	Capabilities []string `json:"capabilities,omitempty"`

	// Config is an arbitrary configuration payload passed through to the
	// subsystem instance.
	Config map[string]interface{} `json:"config,omitempty"`
}

// Subsystem is the lifecycle contract every orchestrated component
// implements.
type Subsystem interface {
	// Initialize brings the subsystem into service.
	Initialize(ctx context.Context) error

	// Shutdown stops the subsystem.
	Shutdown(ctx context.Context) error

	// HealthCheck probes the subsystem; a nil return means healthy.
	HealthCheck(ctx context.Context) error

	// Status returns an arbitrary status map for inspection.
	Status() map[string]interface{}

	// Capabilities returns the capability names the instance provides.
	Capabilities() []string
}

// Recoverer is an optional hook a subsystem may implement to override the
// default stop/reinitialize recovery cycle. The registry checks for it once
// at registration time.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// RecoveryStrategy is a custom recovery routine registered per subsystem id.
type RecoveryStrategy func(ctx context.Context, instance Subsystem) error

// HealthCheckResult carries the outcome of a single health probe.
type HealthCheckResult struct {
	SubsystemID string        `json:"subsystem_id"`
	Healthy     bool          `json:"healthy"`
	Timestamp   time.Time     `json:"timestamp"`
	Latency     time.Duration `json:"latency"`
	State       State         `json:"state"`
	FailureRun  int           `json:"failure_run"`
	Error       string        `json:"error,omitempty"`
}

// RecordView is a caller-facing copy of a subsystem record. Views are
// snapshots; mutating one has no effect on the registry.
type RecordView struct {
	Descriptor      Descriptor `json:"descriptor"`
	State           State      `json:"state"`
	FailureCount    int        `json:"failure_count"`
	LastHealthCheck time.Time  `json:"last_health_check,omitzero"`
	InitializedAt   time.Time  `json:"initialized_at,omitzero"`
	LastError       string     `json:"last_error,omitempty"`
}

// EventSink receives observability events emitted by the registry. The
// orchestrator wires this to the event bus; tests use a local mock.
type EventSink interface {
	// PublishSystemHealth publishes a system-health event describing a
	// lifecycle action taken on a subsystem.
	PublishSystemHealth(subsystemID, action, reason string, payload map[string]interface{})
}

// NopSink discards all events.
type NopSink struct{}

// PublishSystemHealth implements EventSink.
func (NopSink) PublishSystemHealth(string, string, string, map[string]interface{}) {}
