package governance

import "github.com/rs/zerolog"

// Well-known domain names used by the default authority structure.
const (
	DomainEthicsGovernance     = "ethics_governance"
	DomainAGISafeguards        = "agi_safeguards"
	DomainTacticalEdgeAI       = "tactical_edge_ai"
	DomainCommandAssistant     = "command_assistant"
	DomainSupplyChain          = "supply_chain"
	DomainSituationalAwareness = "situational_awareness"
	DomainBiomedicalDefense    = "biomedical_defense"
	DomainSurvivorSupport      = "survivor_support"
	DomainContinuousImprove    = "continuous_improvement"
)

// DefaultGraph builds the standard authority structure: safeguards sit above
// ethics, ethics sits above the operational domains, and operational domains
// consult ethics before acting.
func DefaultGraph(logger zerolog.Logger) *Graph {
	g := NewGraph(logger)

	// Safeguards hold ultimate authority, including over ethics itself.
	_ = g.AddRelationship(DomainAGISafeguards, DomainEthicsGovernance, AuthorityOver,
		"safeguards can halt governance decisions", nil)

	// Ethics can override operational decisions.
	_ = g.AddRelationship(DomainEthicsGovernance, DomainTacticalEdgeAI, AuthorityOver,
		"ethics can override tactical decisions", nil)
	_ = g.AddRelationship(DomainEthicsGovernance, DomainCommandAssistant, AuthorityOver,
		"ethics can override command recommendations", nil)
	_ = g.AddRelationship(DomainEthicsGovernance, DomainSupplyChain, AuthorityOver,
		"ethics can override resource allocation", nil)

	// Safeguards can block tactical actions outright.
	_ = g.AddRelationship(DomainAGISafeguards, DomainTacticalEdgeAI, CanVeto,
		"safeguards can block autonomous tactical actions", nil)

	// Operational domains consult ethics before acting.
	_ = g.AddRelationship(DomainTacticalEdgeAI, DomainEthicsGovernance, MustConsult,
		"tactical actions require ethical review", nil)
	_ = g.AddRelationship(DomainSupplyChain, DomainEthicsGovernance, MustConsult,
		"scarce resource allocation requires ethical review",
		map[string]interface{}{"allocation_type": "scarce_resources"})

	// Command works peer-to-peer with the domains feeding its decisions.
	_ = g.AddRelationship(DomainCommandAssistant, DomainSituationalAwareness, CoordinatesWith,
		"command decisions draw on situational data", nil)
	_ = g.AddRelationship(DomainCommandAssistant, DomainSupplyChain, CoordinatesWith,
		"command coordinates resource allocation", nil)
	_ = g.AddRelationship(DomainCommandAssistant, DomainBiomedicalDefense, CoordinatesWith,
		"command coordinates medical response", nil)

	// Medical findings flow outward without carrying authority.
	_ = g.AddRelationship(DomainBiomedicalDefense, DomainSituationalAwareness, Informs,
		"medical data feeds situational awareness", nil)
	_ = g.AddRelationship(DomainBiomedicalDefense, DomainSupplyChain, Informs,
		"medical needs inform supply planning", nil)

	// Survivor operations lean on supply and command.
	_ = g.AddRelationship(DomainSurvivorSupport, DomainSupplyChain, CoordinatesWith,
		"survivor needs drive supply requests", nil)
	_ = g.AddRelationship(DomainSurvivorSupport, DomainCommandAssistant, CoordinatesWith,
		"survivor rescue missions", nil)

	// Learning output feeds tactical and command improvement.
	_ = g.AddRelationship(DomainContinuousImprove, DomainTacticalEdgeAI, Informs,
		"learning informs tactical improvement", nil)
	_ = g.AddRelationship(DomainContinuousImprove, DomainCommandAssistant, Informs,
		"performance data informs command strategy", nil)

	return g
}
