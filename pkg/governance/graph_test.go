package governance

import (
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestCanOverrideExplicitEdgesOnly(t *testing.T) {
	g := DefaultGraph(testLogger())

	if !g.CanOverride(DomainAGISafeguards, DomainEthicsGovernance) {
		t.Error("expected safeguards to override ethics")
	}
	if !g.CanOverride(DomainEthicsGovernance, DomainTacticalEdgeAI) {
		t.Error("expected ethics to override tactical")
	}

	// No transitivity: safeguards override ethics and ethics overrides
	// tactical, but safeguards->tactical has no AuthorityOver edge.
	if g.CanOverride(DomainAGISafeguards, DomainTacticalEdgeAI) {
		t.Error("override must not be transitive")
	}
	// Reverse direction never holds.
	if g.CanOverride(DomainTacticalEdgeAI, DomainEthicsGovernance) {
		t.Error("tactical must not override ethics")
	}
	// Unknown domains.
	if g.CanOverride("nobody", DomainEthicsGovernance) {
		t.Error("unknown domain must not override anything")
	}
}

func TestUpsertReplacesRelationship(t *testing.T) {
	g := NewGraph(testLogger())

	if err := g.AddRelationship("a", "b", AuthorityOver, "first", nil); err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}
	if err := g.AddRelationship("a", "b", AuthorityOver, "second", nil); err != nil {
		t.Fatalf("AddRelationship: %v", err)
	}

	rel, ok := g.Relationship("a", "b", AuthorityOver)
	if !ok {
		t.Fatal("expected relationship to exist")
	}
	if rel.Description != "second" {
		t.Errorf("expected last write to win, got description %q", rel.Description)
	}
	if got := len(g.Relationships()); got != 1 {
		t.Errorf("expected 1 relationship after upsert, got %d", got)
	}
}

func TestSamePairDifferentKinds(t *testing.T) {
	g := NewGraph(testLogger())

	_ = g.AddRelationship("a", "b", AuthorityOver, "", nil)
	_ = g.AddRelationship("a", "b", CanVeto, "", nil)

	if got := len(g.Relationships()); got != 2 {
		t.Fatalf("expected 2 relationships for one pair, got %d", got)
	}
	if !g.CanOverride("a", "b") {
		t.Error("expected authority edge to survive veto edge")
	}
	if got := g.VetoPowersOver("b"); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected veto power [a], got %v", got)
	}
}

func TestAddRelationshipRejectsEmptyDomains(t *testing.T) {
	g := NewGraph(testLogger())
	if err := g.AddRelationship("", "b", AuthorityOver, "", nil); err == nil {
		t.Error("expected error for empty from domain")
	}
	if err := g.AddRelationship("a", "", AuthorityOver, "", nil); err == nil {
		t.Error("expected error for empty to domain")
	}
}

func TestRequiresConsultation(t *testing.T) {
	g := DefaultGraph(testLogger())

	// Unconditional edge.
	if !g.RequiresConsultation(DomainTacticalEdgeAI, DomainEthicsGovernance, nil) {
		t.Error("tactical must consult ethics")
	}

	// Conditional edge with matching context.
	ctx := map[string]interface{}{"allocation_type": "scarce_resources"}
	if !g.RequiresConsultation(DomainSupplyChain, DomainEthicsGovernance, ctx) {
		t.Error("supply chain must consult ethics for scarce resources")
	}

	// Conditional edge with non-matching context.
	ctx = map[string]interface{}{"allocation_type": "routine"}
	if g.RequiresConsultation(DomainSupplyChain, DomainEthicsGovernance, ctx) {
		t.Error("routine allocation must not require consultation")
	}

	// No edge at all.
	if g.RequiresConsultation(DomainSituationalAwareness, DomainEthicsGovernance, nil) {
		t.Error("no consultation edge expected for situational awareness")
	}
}

func TestAuthorityChain(t *testing.T) {
	g := DefaultGraph(testLogger())

	chain := g.AuthorityChain(DomainTacticalEdgeAI, 10)
	want := []string{DomainTacticalEdgeAI, DomainEthicsGovernance, DomainAGISafeguards}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain = %v, want %v", chain, want)
		}
	}

	// maxDepth truncates.
	chain = g.AuthorityChain(DomainTacticalEdgeAI, 1)
	if len(chain) != 2 {
		t.Errorf("expected chain of 2 with maxDepth 1, got %v", chain)
	}

	// Cycles terminate.
	cyclic := NewGraph(testLogger())
	_ = cyclic.AddRelationship("a", "b", AuthorityOver, "", nil)
	_ = cyclic.AddRelationship("b", "a", AuthorityOver, "", nil)
	chain = cyclic.AuthorityChain("a", 100)
	if len(chain) != 2 {
		t.Errorf("expected cycle to terminate with chain of 2, got %v", chain)
	}
}

func TestValidateAction(t *testing.T) {
	g := DefaultGraph(testLogger())

	ok, reason := g.ValidateAction(DomainTacticalEdgeAI, "engage", nil)
	if ok {
		t.Error("expected action to fail without consultation")
	}
	if reason == "" {
		t.Error("expected a reason for the failed validation")
	}

	ok, _ = g.ValidateAction(DomainTacticalEdgeAI, "engage",
		map[string]interface{}{"consultation_complete": true})
	if !ok {
		t.Error("expected action to pass with consultation complete")
	}

	ok, _ = g.ValidateAction(DomainSituationalAwareness, "observe", nil)
	if !ok {
		t.Error("expected action with no consultation duties to pass")
	}
}

func TestDerivedIndices(t *testing.T) {
	g := DefaultGraph(testLogger())

	subs := g.Subordinates(DomainEthicsGovernance)
	want := map[string]bool{
		DomainCommandAssistant: true,
		DomainSupplyChain:      true,
		DomainTacticalEdgeAI:   true,
	}
	if len(subs) != len(want) {
		t.Fatalf("subordinates = %v", subs)
	}
	for _, s := range subs {
		if !want[s] {
			t.Errorf("unexpected subordinate %q", s)
		}
	}

	auth := g.AuthoritiesOver(DomainEthicsGovernance)
	if len(auth) != 1 || auth[0] != DomainAGISafeguards {
		t.Errorf("authorities over ethics = %v", auth)
	}

	consult := g.MustConsultDomains(DomainSupplyChain)
	if len(consult) != 1 || consult[0] != DomainEthicsGovernance {
		t.Errorf("must-consult for supply chain = %v", consult)
	}
}

func TestDefaultGraphCoordinationEdges(t *testing.T) {
	g := DefaultGraph(testLogger())

	coordinates := [][2]string{
		{DomainCommandAssistant, DomainSituationalAwareness},
		{DomainCommandAssistant, DomainSupplyChain},
		{DomainCommandAssistant, DomainBiomedicalDefense},
		{DomainSurvivorSupport, DomainSupplyChain},
		{DomainSurvivorSupport, DomainCommandAssistant},
	}
	for _, pair := range coordinates {
		if _, ok := g.Relationship(pair[0], pair[1], CoordinatesWith); !ok {
			t.Errorf("missing coordinates-with edge %s -> %s", pair[0], pair[1])
		}
	}

	informs := [][2]string{
		{DomainBiomedicalDefense, DomainSituationalAwareness},
		{DomainBiomedicalDefense, DomainSupplyChain},
		{DomainContinuousImprove, DomainTacticalEdgeAI},
		{DomainContinuousImprove, DomainCommandAssistant},
	}
	for _, pair := range informs {
		if _, ok := g.Relationship(pair[0], pair[1], Informs); !ok {
			t.Errorf("missing informs edge %s -> %s", pair[0], pair[1])
		}
	}

	// Neither peer edge confers authority.
	if g.CanOverride(DomainCommandAssistant, DomainSupplyChain) {
		t.Error("coordination must not grant override authority")
	}
	if g.CanOverride(DomainBiomedicalDefense, DomainSupplyChain) {
		t.Error("informing must not grant override authority")
	}
}
