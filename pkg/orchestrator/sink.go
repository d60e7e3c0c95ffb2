package orchestrator

import (
	"github.com/bastion-runtime/bastion/pkg/eventbus"
)

// BusSink forwards registry lifecycle events onto the event bus as
// system-health traffic. It implements runtime.EventSink.
type BusSink struct {
	bus    *eventbus.Bus
	domain string
}

// NewBusSink creates a sink publishing from the given source domain.
func NewBusSink(bus *eventbus.Bus, domain string) *BusSink {
	if domain == "" {
		domain = "orchestrator"
	}
	return &BusSink{bus: bus, domain: domain}
}

// PublishSystemHealth publishes a lifecycle action as a system-health event.
// Failures and recoveries publish at high priority so they drain ahead of
// routine traffic.
func (s *BusSink) PublishSystemHealth(subsystemID, action, reason string, payload map[string]interface{}) {
	body := make(map[string]interface{}, len(payload)+3)
	for k, v := range payload {
		body[k] = v
	}
	body["subsystem_id"] = subsystemID
	body["action"] = action
	if reason != "" {
		body["reason"] = reason
	}

	priority := eventbus.PriorityNormal
	switch action {
	case "failed", "isolate", "recovery_failed":
		priority = eventbus.PriorityHigh
	}

	s.bus.Publish(eventbus.CategorySystemHealth, s.domain, body, priority, false, false)
}
