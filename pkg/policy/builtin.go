package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in approval policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		approvalBaselinePolicy(),
		consultationGuardPolicy(),
		emergencyLockdownPolicy(),
	}
}

// approvalBaselinePolicy denies malformed requests only. With just the
// baseline enabled every well-formed subsystem is approved, matching the
// priority-based default policy.
func approvalBaselinePolicy() Policy {
	return Policy{
		Name:        "approval-baseline",
		Description: "Rejects malformed approval requests; approves everything else",
		Enabled:     true,
		Tags:        []string{"baseline"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package bastion.approval.baseline

import rego.v1

deny contains violation if {
	not input.subsystem_id
	violation := {
		"message": "approval request is missing a subsystem id",
	}
}

deny contains violation if {
	input.priority
	not input.priority in {"CRITICAL", "HIGH", "MEDIUM", "LOW", "BACKGROUND"}
	violation := {
		"message": sprintf("unknown priority %q for subsystem %s", [input.priority, input.subsystem_id]),
	}
}
`,
	}
}

// consultationGuardPolicy is a stricter opt-in policy: low-priority
// subsystems with outstanding consultation duties are denied until
// consultation is recorded in their metadata.
func consultationGuardPolicy() Policy {
	return Policy{
		Name:        "consultation-guard",
		Description: "Denies low-priority subsystems with outstanding consultation duties",
		Enabled:     false,
		Tags:        []string{"governance", "strict"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package bastion.approval.consultation

import rego.v1

deny contains violation if {
	count(input.must_consult) > 0
	not input.priority in {"CRITICAL", "HIGH"}
	not input.metadata.consultation_complete
	violation := {
		"message": sprintf("subsystem %s must consult %v before starting", [input.subsystem_id, input.must_consult]),
	}
}
`,
	}
}

// emergencyLockdownPolicy is a stricter opt-in policy for hardened
// profiles: only CRITICAL and HIGH priority subsystems may start.
func emergencyLockdownPolicy() Policy {
	return Policy{
		Name:        "emergency-lockdown",
		Description: "Denies everything below HIGH priority",
		Enabled:     false,
		Tags:        []string{"emergency", "strict"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package bastion.approval.lockdown

import rego.v1

deny contains violation if {
	not input.priority in {"CRITICAL", "HIGH"}
	violation := {
		"message": sprintf("lockdown active: subsystem %s priority %s below HIGH", [input.subsystem_id, input.priority]),
	}
}
`,
	}
}
