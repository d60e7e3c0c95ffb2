package config

import (
	"fmt"
	"time"

	"github.com/bastion-runtime/bastion/pkg/boot"
	"github.com/bastion-runtime/bastion/pkg/runtime"
)

// SubsystemSpec is a declarative subsystem entry from a manifest file. It
// carries the same fields as runtime.Descriptor plus manifest-only metadata.
type SubsystemSpec struct {
	// ID is the unique subsystem identifier.
	ID string `yaml:"id" toml:"id" json:"id" validate:"required"`

	// Name is the human-readable subsystem name.
	Name string `yaml:"name,omitempty" toml:"name,omitempty" json:"name,omitempty"`

	// Version is the subsystem version string.
	Version string `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`

	// Priority is the declared priority tier name.
	Priority string `yaml:"priority,omitempty" toml:"priority,omitempty" json:"priority,omitempty" validate:"omitempty,oneof=CRITICAL HIGH MEDIUM LOW BACKGROUND"`

	// Dependencies lists subsystem ids that must be active first.
	Dependencies []string `yaml:"dependencies,omitempty" toml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Capabilities lists the capability names this subsystem provides.
	Capabilities []string `yaml:"capabilities,omitempty" toml:"capabilities,omitempty" json:"capabilities,omitempty"`

	// Config is an arbitrary configuration payload for the instance.
	Config map[string]interface{} `yaml:"config,omitempty" toml:"config,omitempty" json:"config,omitempty"`
}

// Descriptor converts the spec to a registry descriptor.
func (s SubsystemSpec) Descriptor() runtime.Descriptor {
	return runtime.Descriptor{
		ID:           s.ID,
		Name:         s.Name,
		Version:      s.Version,
		Priority:     runtime.ParsePriority(s.Priority),
		Dependencies: s.Dependencies,
		Capabilities: s.Capabilities,
		Config:       s.Config,
	}
}

// Manifest is a subsystem manifest document. Manifests declare which
// subsystems the orchestrator should discover, in any of YAML, TOML, or JSON.
type Manifest struct {
	// Subsystems lists the declared subsystem specs.
	Subsystems []SubsystemSpec `yaml:"subsystems" toml:"subsystems" json:"subsystems" validate:"required,dive"`

	// SourceFile is the path the manifest was loaded from. Not part of the
	// document itself.
	SourceFile string `yaml:"-" toml:"-" json:"-"`
}

// Descriptors converts every spec in the manifest to a registry descriptor.
func (m *Manifest) Descriptors() []runtime.Descriptor {
	out := make([]runtime.Descriptor, len(m.Subsystems))
	for i, s := range m.Subsystems {
		out[i] = s.Descriptor()
	}
	return out
}

// ProfileSpec is a boot profile entry from a profile document. It mirrors
// boot.ProfileConfig with a string duration so all three formats parse it.
type ProfileSpec struct {
	Description       string                 `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	Whitelist         []string               `yaml:"whitelist,omitempty" toml:"whitelist,omitempty" json:"whitelist,omitempty"`
	Blacklist         []string               `yaml:"blacklist,omitempty" toml:"blacklist,omitempty" json:"blacklist,omitempty"`
	PriorityOverrides map[string]string      `yaml:"priority_overrides,omitempty" toml:"priority_overrides,omitempty" json:"priority_overrides,omitempty" validate:"dive,oneof=CRITICAL HIGH MEDIUM LOW BACKGROUND"`
	RequireApproval   bool                   `yaml:"require_approval" toml:"require_approval" json:"require_approval"`
	HealthMonitoring  *bool                  `yaml:"enable_health_monitoring,omitempty" toml:"enable_health_monitoring,omitempty" json:"enable_health_monitoring,omitempty"`
	AuditLogging      *bool                  `yaml:"enable_audit_logging,omitempty" toml:"enable_audit_logging,omitempty" json:"enable_audit_logging,omitempty"`
	MaxInitTime       string                 `yaml:"max_init_time,omitempty" toml:"max_init_time,omitempty" json:"max_init_time,omitempty"`
	Metadata          map[string]interface{} `yaml:"metadata,omitempty" toml:"metadata,omitempty" json:"metadata,omitempty"`
}

// profileConfig converts the spec into a boot.ProfileConfig for the named
// profile. Unset monitoring/audit flags default to enabled.
func (s ProfileSpec) profileConfig(name boot.Profile) (*boot.ProfileConfig, error) {
	cfg := &boot.ProfileConfig{
		Profile:                name,
		Description:            s.Description,
		Whitelist:              s.Whitelist,
		Blacklist:              s.Blacklist,
		PriorityOverrides:      s.PriorityOverrides,
		RequireApproval:        s.RequireApproval,
		EnableHealthMonitoring: true,
		EnableAuditLogging:     true,
		Metadata:               s.Metadata,
	}
	if s.HealthMonitoring != nil {
		cfg.EnableHealthMonitoring = *s.HealthMonitoring
	}
	if s.AuditLogging != nil {
		cfg.EnableAuditLogging = *s.AuditLogging
	}
	if s.MaxInitTime != "" {
		d, err := time.ParseDuration(s.MaxInitTime)
		if err != nil {
			return nil, fmt.Errorf("profile %s: invalid max_init_time %q: %w", name, s.MaxInitTime, err)
		}
		cfg.MaxInitTime = d
	}
	return cfg, nil
}

// ProfileDocument is a boot profile document. Named profiles overlay the
// built-in defaults; unnamed defaults stay as shipped.
type ProfileDocument struct {
	Profiles map[string]ProfileSpec `yaml:"profiles" toml:"profiles" json:"profiles" validate:"required"`
}

// ValidationError is a load-time validation failure with source location
// information when available.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path to the error (e.g., "subsystems[2]").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}
