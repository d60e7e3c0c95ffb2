package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoadFromRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strict-approvals.rego")
	content := `# Denies every request below CRITICAL priority.
package bastion.approval.strict

import rego.v1

deny contains violation if {
	input.priority != "CRITICAL"
	violation := {"message": "only critical subsystems may start"}
}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("loaded %d policies, want 1", len(policies))
	}

	p := policies[0]
	if p.Name != "strict-approvals" {
		t.Errorf("name = %q", p.Name)
	}
	if !p.Enabled {
		t.Error("file policies default to enabled")
	}
	if p.Description == "" {
		t.Error("description should be extracted from the leading comment")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()

	regoContent := "package bastion.approval.a\n\nimport rego.v1\n"
	if err := os.WriteFile(filepath.Join(dir, "a.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	jsonContent := `{"name":"b","rego":"package bastion.approval.b","enabled":true}`
	if err := os.WriteFile(filepath.Join(dir, "b.json"), []byte(jsonContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// Ignored: wrong extension.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("loaded %d policies, want 2", len(policies))
	}
}

func TestLoadMissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/does/not/exist"}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestLoadPoliciesIntoEngine(t *testing.T) {
	dir := t.TempDir()
	content := `package bastion.approval.custom

import rego.v1

deny contains violation if {
	input.subsystem_id == "forbidden"
	violation := {"message": "forbidden subsystem"}
}
`
	if err := os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	e := newTestEngine(t)
	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	denials, err := e.EvaluateApproval(context.Background(), ApprovalInput{
		SubsystemID: "forbidden",
		Priority:    "MEDIUM",
		MustConsult: []string{},
	})
	if err != nil {
		t.Fatalf("EvaluateApproval: %v", err)
	}
	if len(denials) != 1 {
		t.Fatalf("denials = %d, want 1", len(denials))
	}
	if denials[0].Policy != "custom" {
		t.Errorf("denying policy = %q", denials[0].Policy)
	}
}

func TestLoadBundle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")
	content := `{
		"name": "hardened",
		"version": "1.0.0",
		"policies": [
			{"name": "p1", "rego": "package bastion.approval.p1", "enabled": true}
		]
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loader := NewLoader(zerolog.Nop())
	bundle, err := loader.LoadBundle(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if bundle.Name != "hardened" || len(bundle.Policies) != 1 {
		t.Errorf("bundle = %+v", bundle)
	}
}
