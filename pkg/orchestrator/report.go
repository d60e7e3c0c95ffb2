package orchestrator

import (
	"time"

	"github.com/bastion-runtime/bastion/pkg/boot"
	"github.com/bastion-runtime/bastion/pkg/eventbus"
	"github.com/bastion-runtime/bastion/pkg/runtime"
)

// BootReport summarizes one boot session.
type BootReport struct {
	// SessionID is the unique boot session identifier.
	SessionID string `json:"session_id"`

	// Profile is the boot profile the session ran under.
	Profile boot.Profile `json:"profile"`

	// Status is the final session status (completed, failed, aborted).
	Status string `json:"status"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`

	// Order is the computed initialization order over all registered ids.
	Order []string `json:"order"`

	// Initialized lists the subsystems that reached Active, in start order.
	Initialized []string `json:"initialized"`

	// Skipped maps subsystem ids to the gate reason that blocked them.
	Skipped map[string]string `json:"skipped,omitempty"`

	// Failed maps subsystem ids to their initialization error.
	Failed map[string]string `json:"failed,omitempty"`

	// Error is the session-level error when the boot aborted.
	Error string `json:"error,omitempty"`
}

// StatusReport is the composite runtime view returned by Status.
type StatusReport struct {
	Profile       boot.Profile                   `json:"profile"`
	EmergencyMode bool                           `json:"emergency_mode"`
	Subsystems    map[string]runtime.RecordView  `json:"subsystems"`
	StateCounts   map[runtime.State]int          `json:"state_counts"`
	BusStats      eventbus.Stats                 `json:"bus_stats"`
	BootStats     boot.Stats                     `json:"boot_stats"`
	LastBoot      *BootReport                    `json:"last_boot,omitempty"`
}
