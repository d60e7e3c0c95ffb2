package boot

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Profile names a declarative startup policy.
type Profile string

const (
	// ProfileNormal starts every discovered subsystem.
	ProfileNormal Profile = "normal"
	// ProfileEmergency starts critical subsystems only.
	ProfileEmergency Profile = "emergency"
	// ProfileEthicsFirst gates everything behind the governance checkpoint.
	ProfileEthicsFirst Profile = "ethics_first"
	// ProfileMinimal starts the absolute minimum, for testing.
	ProfileMinimal Profile = "minimal"
	// ProfileRecovery starts with enhanced diagnostics after a failure.
	ProfileRecovery Profile = "recovery"
	// ProfileDiagnostic starts everything with verbose logging.
	ProfileDiagnostic Profile = "diagnostic"
	// ProfileAirGapped blocks subsystems that need external connectivity.
	ProfileAirGapped Profile = "air_gapped"
	// ProfileAdversarial starts in a hardened high-security posture.
	ProfileAdversarial Profile = "adversarial"
)

// ProfileConfig is a declarative startup policy. One config per named
// profile, loaded once and read-only thereafter.
type ProfileConfig struct {
	Profile     Profile `yaml:"profile" toml:"profile" json:"profile" validate:"required"`
	Description string  `yaml:"description" toml:"description" json:"description"`

	// Whitelist, when non-nil, restricts startup to the listed ids. An
	// empty non-nil whitelist permits nothing.
	Whitelist []string `yaml:"whitelist,omitempty" toml:"whitelist,omitempty" json:"whitelist,omitempty"`
	Blacklist []string `yaml:"blacklist,omitempty" toml:"blacklist,omitempty" json:"blacklist,omitempty"`

	// PriorityOverrides maps subsystem ids to priority names applied
	// before initialization.
	PriorityOverrides map[string]string `yaml:"priority_overrides,omitempty" toml:"priority_overrides,omitempty" json:"priority_overrides,omitempty" validate:"dive,oneof=CRITICAL HIGH MEDIUM LOW BACKGROUND"`

	RequireApproval        bool `yaml:"require_approval" toml:"require_approval" json:"require_approval"`
	EnableHealthMonitoring bool `yaml:"enable_health_monitoring" toml:"enable_health_monitoring" json:"enable_health_monitoring"`
	EnableAuditLogging     bool `yaml:"enable_audit_logging" toml:"enable_audit_logging" json:"enable_audit_logging"`

	// MaxInitTime bounds the whole boot session. Zero means unbounded.
	MaxInitTime time.Duration `yaml:"max_init_time,omitempty" toml:"max_init_time,omitempty" json:"max_init_time,omitempty"`

	Metadata map[string]interface{} `yaml:"metadata,omitempty" toml:"metadata,omitempty" json:"metadata,omitempty"`
}

// HasWhitelist reports whether the profile restricts startup to a whitelist.
func (c *ProfileConfig) HasWhitelist() bool { return c.Whitelist != nil }

func (c *ProfileConfig) whitelisted(id string) bool {
	for _, w := range c.Whitelist {
		if w == id {
			return true
		}
	}
	return false
}

func (c *ProfileConfig) blacklisted(id string) bool {
	for _, b := range c.Blacklist {
		if b == id {
			return true
		}
	}
	return false
}

// Validate checks the config against its struct tags.
func (c *ProfileConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid profile config %q: %w", c.Profile, err)
	}
	return nil
}

// EmergencyCriticalSubsystems is the fixed set permitted to start while
// emergency mode is active.
var EmergencyCriticalSubsystems = map[string]struct{}{
	"ethics_governance":     {},
	"agi_safeguards":        {},
	"situational_awareness": {},
	"biomedical_defense":    {},
}

// ApprovalExemptSubsystems is the fixed set that bypasses the approval gate;
// these must be able to start before the checkpoint that the gate waits on.
var ApprovalExemptSubsystems = map[string]struct{}{
	"ethics_governance": {},
	"agi_safeguards":    {},
}

// DefaultProfiles returns the built-in startup policies.
func DefaultProfiles() map[Profile]*ProfileConfig {
	emergencyWhitelist := make([]string, 0, len(EmergencyCriticalSubsystems))
	for id := range EmergencyCriticalSubsystems {
		emergencyWhitelist = append(emergencyWhitelist, id)
	}

	return map[Profile]*ProfileConfig{
		ProfileNormal: {
			Profile:                ProfileNormal,
			Description:            "full system initialization with all subsystems",
			EnableHealthMonitoring: true,
			EnableAuditLogging:     true,
		},
		ProfileEmergency: {
			Profile:                ProfileEmergency,
			Description:            "emergency mode, critical subsystems only",
			Whitelist:              emergencyWhitelist,
			RequireApproval:        true,
			EnableHealthMonitoring: true,
			EnableAuditLogging:     true,
			MaxInitTime:            30 * time.Second,
			Metadata:               map[string]interface{}{"reason": "emergency_activation"},
		},
		ProfileEthicsFirst: {
			Profile:         ProfileEthicsFirst,
			Description:     "governance-first cold start with validation gates",
			RequireApproval: true,
			PriorityOverrides: map[string]string{
				"ethics_governance": "CRITICAL",
				"agi_safeguards":    "CRITICAL",
			},
			EnableHealthMonitoring: true,
			EnableAuditLogging:     true,
		},
		ProfileMinimal: {
			Profile:            ProfileMinimal,
			Description:        "minimal subsystems for testing",
			Whitelist:          []string{"ethics_governance", "agi_safeguards"},
			EnableAuditLogging: true,
		},
		ProfileRecovery: {
			Profile:                ProfileRecovery,
			Description:            "recovery mode with enhanced diagnostics",
			RequireApproval:        true,
			EnableHealthMonitoring: true,
			EnableAuditLogging:     true,
			Metadata:               map[string]interface{}{"diagnostic_level": "verbose"},
		},
		ProfileDiagnostic: {
			Profile:                ProfileDiagnostic,
			Description:            "diagnostic mode with verbose logging",
			EnableHealthMonitoring: true,
			EnableAuditLogging:     true,
			Metadata:               map[string]interface{}{"log_level": "debug", "trace_enabled": true},
		},
		ProfileAirGapped: {
			Profile:                ProfileAirGapped,
			Description:            "air-gapped offline operation",
			Blacklist:              []string{"cloud_sync", "remote_updates"},
			RequireApproval:        true,
			EnableHealthMonitoring: true,
			EnableAuditLogging:     true,
		},
		ProfileAdversarial: {
			Profile:         ProfileAdversarial,
			Description:     "adversarial mode with hardened posture",
			RequireApproval: true,
			PriorityOverrides: map[string]string{
				"ethics_governance":     "CRITICAL",
				"agi_safeguards":        "CRITICAL",
				"situational_awareness": "HIGH",
			},
			EnableHealthMonitoring: true,
			EnableAuditLogging:     true,
			Metadata:               map[string]interface{}{"security_level": "maximum"},
		},
	}
}
