package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bastion-runtime/bastion/pkg/boot"
)

// Loader loads subsystem manifests and boot profile documents from YAML,
// TOML, or JSON files, validating each against struct tags and the CUE
// schemas.
type Loader struct {
	validator *validator.Validate
	schemas   *SchemaRegistry
	logger    zerolog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		validator: validator.New(),
		schemas:   NewSchemaRegistry(),
		logger:    logger.With().Str("component", "config").Logger(),
	}
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadManifest loads a single subsystem manifest file. The format is chosen
// by file extension: .yaml/.yml, .toml, or .json.
func (l *Loader) LoadManifest(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var manifest Manifest
	if err := decode(path, content, &manifest); err != nil {
		return nil, err
	}
	manifest.SourceFile = path

	if err := l.validator.Struct(&manifest); err != nil {
		return nil, fmt.Errorf("manifest %s validation failed: %w", path, err)
	}
	if err := l.schemas.ValidateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("manifest %s schema validation failed: %w", path, err)
	}
	if err := checkDuplicateIDs(&manifest); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	l.logger.Debug().
		Str("path", path).
		Int("subsystems", len(manifest.Subsystems)).
		Msg("loaded subsystem manifest")

	return &manifest, nil
}

// LoadManifestDir loads every manifest file in a directory, merged into a
// single manifest. Files are processed in lexical order; duplicate subsystem
// ids across files are an error.
func (l *Loader) LoadManifestDir(dir string) (*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isConfigFile(entry.Name()) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no manifest files found in %s", dir)
	}

	merged := &Manifest{SourceFile: dir}
	for _, path := range paths {
		m, err := l.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		merged.Subsystems = append(merged.Subsystems, m.Subsystems...)
	}

	if err := checkDuplicateIDs(merged); err != nil {
		return nil, fmt.Errorf("manifest directory %s: %w", dir, err)
	}

	return merged, nil
}

// LoadProfiles loads a boot profile document and overlays it on the built-in
// default profiles. Profiles present in the document replace their defaults;
// unknown profile names define new profiles.
func (l *Loader) LoadProfiles(path string) (map[boot.Profile]*boot.ProfileConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile document %s: %w", path, err)
	}

	var doc ProfileDocument
	if err := decode(path, content, &doc); err != nil {
		return nil, err
	}

	if err := l.validator.Struct(&doc); err != nil {
		return nil, fmt.Errorf("profile document %s validation failed: %w", path, err)
	}
	if err := l.schemas.ValidateProfileDocument(&doc); err != nil {
		return nil, fmt.Errorf("profile document %s schema validation failed: %w", path, err)
	}

	profiles := boot.DefaultProfiles()
	for name, spec := range doc.Profiles {
		cfg, err := spec.profileConfig(boot.Profile(name))
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("profile document %s: %w", path, err)
		}
		profiles[boot.Profile(name)] = cfg
	}

	l.logger.Debug().
		Str("path", path).
		Int("overlaid", len(doc.Profiles)).
		Msg("loaded boot profiles")

	return profiles, nil
}

// decode unmarshals content into v based on the file extension.
func decode(path string, content []byte, v interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, v); err != nil {
			return fmt.Errorf("failed to parse YAML %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(content, v); err != nil {
			return fmt.Errorf("failed to parse TOML %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(content, v); err != nil {
			return fmt.Errorf("failed to parse JSON %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", path)
	}
	return nil
}

// isConfigFile reports whether the file name has a supported extension.
func isConfigFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml", ".json":
		return true
	}
	return false
}

// checkDuplicateIDs returns an error if two specs share an id.
func checkDuplicateIDs(m *Manifest) error {
	seen := make(map[string]struct{}, len(m.Subsystems))
	for _, s := range m.Subsystems {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate subsystem id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
