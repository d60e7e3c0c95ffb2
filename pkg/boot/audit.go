package boot

import (
	"time"
)

// Audit event types recorded by the controller.
const (
	AuditProfileChanged = "profile_changed"
	AuditEmergencyMode  = "emergency_mode"
	AuditApproval       = "approval"
	AuditCheckpoint     = "checkpoint"
	AuditStateSnapshot  = "state_snapshot"
)

// AuditEvent is an append-only record of a boot-relevant decision. Events
// are never mutated or deleted after being appended.
type AuditEvent struct {
	EventID       string                 `json:"event_id"`
	Timestamp     time.Time              `json:"timestamp"`
	EventType     string                 `json:"event_type"`
	SubsystemID   string                 `json:"subsystem_id,omitempty"`
	Action        string                 `json:"action"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Result        string                 `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	StateSnapshot map[string]interface{} `json:"state_snapshot,omitempty"`
}

// AuditSink persists audit events sequentially. Implementations must be
// append-only.
type AuditSink interface {
	AppendAuditEvent(ev AuditEvent) error
}

// NopAuditSink discards audit events.
type NopAuditSink struct{}

func (NopAuditSink) AppendAuditEvent(AuditEvent) error { return nil }

// ReplayFilters narrows the events considered during replay. Zero values
// mean "no filter".
type ReplayFilters struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []string
}

func (f ReplayFilters) matches(ev AuditEvent) bool {
	if !f.StartTime.IsZero() && ev.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && ev.Timestamp.After(f.EndTime) {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == ev.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// TimelineEntry is one step of a reconstructed boot timeline.
type TimelineEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	Action      string    `json:"action"`
	SubsystemID string    `json:"subsystem_id,omitempty"`
}

// ReplaySummary holds the deterministic counts produced by a replay. The
// same ordered input always yields the same summary.
type ReplaySummary struct {
	TotalEvents          int `json:"total_events"`
	FilteredEvents       int `json:"filtered_events"`
	ProfileChanges       int `json:"profile_changes"`
	EmergencyActivations int `json:"emergency_activations"`
	Approvals            int `json:"approvals"`
	Snapshots            int `json:"snapshots"`
}

// ReplayResult is the reconstructed state from an ordered audit log.
type ReplayResult struct {
	Timeline             []TimelineEntry          `json:"timeline"`
	ProfileChanges       []TimelineEntry          `json:"profile_changes"`
	EmergencyActivations []TimelineEntry          `json:"emergency_activations"`
	Approvals            []TimelineEntry          `json:"approvals"`
	Snapshots            []map[string]interface{} `json:"snapshots"`
	Summary              ReplaySummary            `json:"summary"`
}

// Replay reconstructs a timeline and summary counts purely from the ordered
// log. It reads the events as given; it never consults live state, so two
// replays of the same input are identical.
func Replay(events []AuditEvent, filters ReplayFilters) ReplayResult {
	result := ReplayResult{
		Timeline:             []TimelineEntry{},
		ProfileChanges:       []TimelineEntry{},
		EmergencyActivations: []TimelineEntry{},
		Approvals:            []TimelineEntry{},
		Snapshots:            []map[string]interface{}{},
	}
	result.Summary.TotalEvents = len(events)

	for _, ev := range events {
		if !filters.matches(ev) {
			continue
		}
		result.Summary.FilteredEvents++

		entry := TimelineEntry{
			Timestamp:   ev.Timestamp,
			EventType:   ev.EventType,
			Action:      ev.Action,
			SubsystemID: ev.SubsystemID,
		}
		result.Timeline = append(result.Timeline, entry)

		switch ev.EventType {
		case AuditProfileChanged:
			result.ProfileChanges = append(result.ProfileChanges, entry)
		case AuditEmergencyMode:
			if ev.Action == "activate" {
				result.EmergencyActivations = append(result.EmergencyActivations, entry)
			}
		case AuditApproval:
			result.Approvals = append(result.Approvals, entry)
		case AuditStateSnapshot:
			if ev.StateSnapshot != nil {
				result.Snapshots = append(result.Snapshots, ev.StateSnapshot)
			} else {
				result.Snapshots = append(result.Snapshots, map[string]interface{}{})
			}
		}
	}

	result.Summary.ProfileChanges = len(result.ProfileChanges)
	result.Summary.EmergencyActivations = len(result.EmergencyActivations)
	result.Summary.Approvals = len(result.Approvals)
	result.Summary.Snapshots = len(result.Snapshots)
	return result
}
