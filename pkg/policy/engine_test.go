package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bastion-runtime/bastion/pkg/boot"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestBuiltinPoliciesLoaded(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) != len(GetBuiltinPolicies()) {
		t.Fatalf("loaded %d policies, want %d", len(policies), len(GetBuiltinPolicies()))
	}

	if _, err := e.GetPolicy("approval-baseline"); err != nil {
		t.Errorf("baseline policy missing: %v", err)
	}
	if _, err := e.GetPolicy("does-not-exist"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestApproveDefaultBehavior(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	for _, prio := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW", "BACKGROUND"} {
		dec, err := e.Approve(ctx, boot.ApprovalRequest{SubsystemID: "tactical_edge_ai", Priority: prio})
		if err != nil {
			t.Fatalf("Approve(%s): %v", prio, err)
		}
		if !dec.Approved {
			t.Errorf("priority %s denied by default policy set: %s", prio, dec.Reasoning)
		}
	}
}

func TestApproveMalformedRequest(t *testing.T) {
	e := newTestEngine(t)

	dec, err := e.Approve(context.Background(), boot.ApprovalRequest{Priority: "MEDIUM"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if dec.Approved {
		t.Error("request without subsystem id must be denied")
	}
	if !strings.Contains(dec.Reasoning, "approval-baseline") {
		t.Errorf("reasoning %q should name the denying policy", dec.Reasoning)
	}
}

func TestApproveUnknownPriority(t *testing.T) {
	e := newTestEngine(t)

	dec, err := e.Approve(context.Background(), boot.ApprovalRequest{
		SubsystemID: "x", Priority: "URGENT",
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if dec.Approved {
		t.Error("unknown priority must be denied by the baseline policy")
	}
}

func TestLockdownPolicy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.EnablePolicy("emergency-lockdown"); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}

	dec, err := e.Approve(ctx, boot.ApprovalRequest{SubsystemID: "supply_chain", Priority: "MEDIUM"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if dec.Approved {
		t.Error("lockdown must deny MEDIUM priority")
	}

	dec, err = e.Approve(ctx, boot.ApprovalRequest{SubsystemID: "agi_safeguards", Priority: "CRITICAL"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !dec.Approved {
		t.Errorf("lockdown must pass CRITICAL priority: %s", dec.Reasoning)
	}

	if err := e.DisablePolicy("emergency-lockdown"); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}
	dec, _ = e.Approve(ctx, boot.ApprovalRequest{SubsystemID: "supply_chain", Priority: "MEDIUM"})
	if !dec.Approved {
		t.Error("disabled policy must no longer deny")
	}
}

func TestConsultationGuardPolicy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.EnablePolicy("consultation-guard"); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}

	req := boot.ApprovalRequest{
		SubsystemID: "supply_chain",
		Priority:    "MEDIUM",
		MustConsult: []string{"ethics_governance"},
	}
	dec, err := e.Approve(ctx, req)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if dec.Approved {
		t.Error("outstanding consultation must deny a MEDIUM subsystem")
	}

	// Completed consultation lifts the denial.
	req.Metadata = map[string]interface{}{"consultation_complete": true}
	dec, err = e.Approve(ctx, req)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !dec.Approved {
		t.Errorf("completed consultation must approve: %s", dec.Reasoning)
	}

	// HIGH priority is exempt from the guard.
	dec, err = e.Approve(ctx, boot.ApprovalRequest{
		SubsystemID: "tactical_edge_ai",
		Priority:    "HIGH",
		MustConsult: []string{"ethics_governance"},
	})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !dec.Approved {
		t.Errorf("HIGH priority must bypass the consultation guard: %s", dec.Reasoning)
	}
}

func TestEnableUnknownPolicy(t *testing.T) {
	e := newTestEngine(t)
	if err := e.EnablePolicy("nope"); err == nil {
		t.Error("expected error enabling unknown policy")
	}
	if err := e.DisablePolicy("nope"); err == nil {
		t.Error("expected error disabling unknown policy")
	}
}

func TestReloadPolicies(t *testing.T) {
	e := newTestEngine(t)
	if err := e.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("ReloadPolicies: %v", err)
	}
	if got := len(e.ListPolicies()); got != len(GetBuiltinPolicies()) {
		t.Errorf("policies after reload = %d, want %d", got, len(GetBuiltinPolicies()))
	}
}

func TestExtractPackageName(t *testing.T) {
	src := "# comment\npackage bastion.approval.custom\n\nimport rego.v1\n"
	if got := extractPackageName(src); got != "bastion.approval.custom" {
		t.Errorf("package = %q", got)
	}
	if got := extractPackageName("no package here"); got != "bastion.approval" {
		t.Errorf("fallback package = %q", got)
	}
}
