package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for configuration validation. Documents
// are validated by unifying them with the schema for their kind; a failed
// unification is a validation error.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("manifest", builtinManifestSchema)
	sr.RegisterSchema("profiles", builtinProfilesSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against the named schema's definition.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName, definition string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	def := schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("definition %s not found in schema %s", definition, schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateManifest validates a subsystem manifest against the manifest schema.
func (sr *SchemaRegistry) ValidateManifest(m *Manifest) error {
	return sr.ValidateAgainstSchema("manifest", "#Manifest", m)
}

// ValidateProfileDocument validates a profile document against the profiles
// schema.
func (sr *SchemaRegistry) ValidateProfileDocument(doc *ProfileDocument) error {
	return sr.ValidateAgainstSchema("profiles", "#ProfileDocument", doc)
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinManifestSchema = `
// Subsystem manifest schema
#Manifest: {
	subsystems: [...#Subsystem]
}

#Subsystem: {
	// id is the unique subsystem identifier
	id: string & =~"^[a-z][a-z0-9_]*$"

	// name is the human-readable subsystem name
	name?: string

	// version is the subsystem version string
	version?: string

	// priority is the declared priority tier
	priority?: "CRITICAL" | "HIGH" | "MEDIUM" | "LOW" | "BACKGROUND"

	// dependencies lists subsystem ids that must be active first
	dependencies?: [...string & =~"^[a-z][a-z0-9_]*$"]

	// capabilities lists the capability names this subsystem provides
	capabilities?: [...string]

	// config is an arbitrary configuration payload
	config?: {...}
}
`

const builtinProfilesSchema = `
// Boot profile document schema
#ProfileDocument: {
	profiles: {[string]: #Profile}
}

#Profile: {
	description?: string

	// whitelist restricts startup to the listed subsystem ids
	whitelist?: [...string]

	// blacklist blocks the listed subsystem ids
	blacklist?: [...string]

	// priority_overrides remaps subsystem priorities for this profile
	priority_overrides?: {[string]: "CRITICAL" | "HIGH" | "MEDIUM" | "LOW" | "BACKGROUND"}

	require_approval?: bool
	enable_health_monitoring?: bool
	enable_audit_logging?: bool

	// max_init_time bounds the boot session (Go duration string)
	max_init_time?: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"

	metadata?: {...}
}
`
