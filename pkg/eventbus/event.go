// Package eventbus provides a priority-queued publish/subscribe channel for
// cross-subsystem coordination. Delivery is authority-aware: designated
// subscribers can veto an event or must approve it before any normal
// subscriber sees it.
package eventbus

import (
	"time"
)

// Priority orders events in the queue. Lower values drain first.
type Priority int

const (
	// PriorityCritical events are safety-critical and processed first.
	PriorityCritical Priority = iota
	// PriorityHigh events are important operational signals.
	PriorityHigh
	// PriorityNormal events are standard traffic.
	PriorityNormal
	// PriorityLow events are background signals.
	PriorityLow
	// PriorityDebug events are diagnostic only.
	PriorityDebug
)

// String returns the lower-case priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityDebug:
		return "debug"
	default:
		return "normal"
	}
}

// Category routes events to interested subscribers. The set is fixed but
// extensible: new categories are ordinary string constants.
type Category string

const (
	CategoryThreatDetected     Category = "threat_detected"
	CategoryResourceCritical   Category = "resource_critical"
	CategoryMissionCreated     Category = "mission_created"
	CategoryEthicalViolation   Category = "ethical_violation"
	CategorySafeguardAlert     Category = "safeguard_alert"
	CategoryTacticalDecision   Category = "tactical_decision"
	CategorySupplyUpdate       Category = "supply_update"
	CategorySurvivorFound      Category = "survivor_found"
	CategorySystemHealth       Category = "system_health"
	CategoryGovernanceDecision Category = "governance_decision"
)

// Event is a cross-subsystem coordination message. The payload is immutable
// after publication; VetoedBy and ApprovedBy are resolution fields written
// at most once, by exactly one subscriber id, during delivery.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Category is the routing category.
	Category Category `json:"category"`

	// SourceDomain names the domain that published the event.
	SourceDomain string `json:"source_domain"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Priority orders the event relative to other queued events.
	Priority Priority `json:"priority"`

	// Payload is the arbitrary event body.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// RequiresApproval gates delivery on an approval-capable subscriber
	// accepting the event.
	RequiresApproval bool `json:"requires_approval"`

	// CanBeVetoed allows veto-capable subscribers to block the event.
	CanBeVetoed bool `json:"can_be_vetoed"`

	// ApprovedBy records the subscriber that approved the event, if any.
	ApprovedBy string `json:"approved_by,omitempty"`

	// VetoedBy records the subscriber that vetoed the event, if any.
	VetoedBy string `json:"vetoed_by,omitempty"`

	// Metadata carries additional publisher-supplied context.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Callback handles an event for a subscription. Its return value is
// interpreted per delivery phase: in the veto phase true blocks the event,
// in the approval phase true approves it, and in the delivery phase the
// return value is ignored.
type Callback func(Event) bool

// Subscription registers a subscriber's interest. A subscriber may hold
// veto and approval capability simultaneously; the two phases are evaluated
// independently.
type Subscription struct {
	// SubscriberID uniquely identifies the subscriber.
	SubscriberID string `json:"subscriber_id"`

	// Domain is the subscriber's owning domain name.
	Domain string `json:"domain"`

	// Categories the subscriber receives.
	Categories []Category `json:"categories"`

	// Callback is invoked per matching event.
	Callback Callback `json:"-"`

	// PriorityFilter, when non-empty, restricts matches to these priorities.
	PriorityFilter []Priority `json:"priority_filter,omitempty"`

	// SourceFilter, when non-empty, restricts matches to these source
	// domains.
	SourceFilter []string `json:"source_filter,omitempty"`

	// CanVeto grants veto capability.
	CanVeto bool `json:"can_veto"`

	// CanApprove grants approval capability.
	CanApprove bool `json:"can_approve"`

	// Active subscriptions receive events; inactive ones are skipped.
	Active bool `json:"active"`
}

// matches reports whether an event passes the subscription's filters. A
// subscription with no filters matches everything in its categories.
func (s *Subscription) matches(ev Event) bool {
	if len(s.PriorityFilter) > 0 {
		found := false
		for _, p := range s.PriorityFilter {
			if p == ev.Priority {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.SourceFilter) > 0 {
		found := false
		for _, src := range s.SourceFilter {
			if src == ev.SourceDomain {
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

// subscribesTo reports whether the subscription covers the category.
func (s *Subscription) subscribesTo(c Category) bool {
	for _, cat := range s.Categories {
		if cat == c {
			return true
		}
	}
	return false
}
