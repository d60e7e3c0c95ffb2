package policy

import (
	"time"
)

// Policy represents an approval policy with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The package must expose a
	// `deny` set; a subsystem is approved when no enabled policy denies
	// it.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovalInput is the document handed to Rego evaluation.
type ApprovalInput struct {
	// SubsystemID is the subsystem requesting to start.
	SubsystemID string `json:"subsystem_id"`

	// Priority is the subsystem's priority name (CRITICAL..BACKGROUND).
	Priority string `json:"priority"`

	// MustConsult lists the domains the subsystem must consult before
	// acting, per the governance graph.
	MustConsult []string `json:"must_consult"`

	// Profile is the active boot profile, if any.
	Profile string `json:"profile,omitempty"`

	// Metadata carries the subsystem's descriptor metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Denial is a single policy denial.
type Denial struct {
	// Policy is the name of the policy that denied the request.
	Policy string `json:"policy"`

	// Message is a human-readable denial reason.
	Message string `json:"message"`
}

// Bundle is a collection of related approval policies, loadable from a
// single JSON document.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`
}
