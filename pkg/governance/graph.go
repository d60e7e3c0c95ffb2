// Package governance models directed, typed authority relationships between
// named domains: who can override whom, who must consult whom, and who holds
// veto rights. The graph is advisory plumbing for collaborators; enforcement
// is the caller's responsibility.
package governance

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// RelationshipKind is the type of an authority relationship.
type RelationshipKind string

const (
	// AuthorityOver grants the right to override decisions. It is not
	// transitive: overriding A->C requires an explicit edge even when
	// A->B and B->C both hold.
	AuthorityOver RelationshipKind = "authority_over"
	// MustConsult requires approval before acting.
	MustConsult RelationshipKind = "must_consult"
	// CanVeto grants the right to block actions.
	CanVeto RelationshipKind = "can_veto"
	// Informs provides input only.
	Informs RelationshipKind = "informs"
	// SubordinateTo marks a reporting relationship.
	SubordinateTo RelationshipKind = "subordinate_to"
	// CoordinatesWith marks an equal partnership.
	CoordinatesWith RelationshipKind = "coordinates_with"
)

// Relationship is a directed, typed edge between two domains. Condition, when
// non-nil, restricts the relationship to actions whose context matches every
// key/value pair.
type Relationship struct {
	FromDomain  string                 `json:"from_domain"`
	ToDomain    string                 `json:"to_domain"`
	Kind        RelationshipKind       `json:"kind"`
	Description string                 `json:"description"`
	Condition   map[string]interface{} `json:"condition,omitempty"`
}

type pairKey struct {
	from, to string
}

// Graph holds the authority relationships. At most one relationship is
// stored per ordered pair per kind; re-adding replaces it (last write wins).
// Safe for concurrent use.
type Graph struct {
	mu sync.RWMutex

	relationships map[pairKey]map[RelationshipKind]Relationship

	// Derived indices, maintained on every upsert.
	authorityOver map[string]map[string]struct{} // to -> {from...}
	subordinates  map[string]map[string]struct{} // from -> {to...}
	vetoPowers    map[string]map[string]struct{} // to -> {from...}
	mustConsult   map[string]map[string]struct{} // from -> {to...}

	logger zerolog.Logger
}

// NewGraph creates an empty governance graph.
func NewGraph(logger zerolog.Logger) *Graph {
	return &Graph{
		relationships: make(map[pairKey]map[RelationshipKind]Relationship),
		authorityOver: make(map[string]map[string]struct{}),
		subordinates:  make(map[string]map[string]struct{}),
		vetoPowers:    make(map[string]map[string]struct{}),
		mustConsult:   make(map[string]map[string]struct{}),
		logger:        logger.With().Str("component", "governance").Logger(),
	}
}

// AddRelationship upserts an edge and maintains the derived indices.
func (g *Graph) AddRelationship(from, to string, kind RelationshipKind, description string, condition map[string]interface{}) error {
	if from == "" || to == "" {
		return fmt.Errorf("relationship requires both domains (from=%q, to=%q)", from, to)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := pairKey{from: from, to: to}
	if g.relationships[key] == nil {
		g.relationships[key] = make(map[RelationshipKind]Relationship)
	}
	g.relationships[key][kind] = Relationship{
		FromDomain:  from,
		ToDomain:    to,
		Kind:        kind,
		Description: description,
		Condition:   condition,
	}

	switch kind {
	case AuthorityOver:
		addIndex(g.authorityOver, to, from)
		addIndex(g.subordinates, from, to)
	case CanVeto:
		addIndex(g.vetoPowers, to, from)
	case MustConsult:
		addIndex(g.mustConsult, from, to)
	}

	g.logger.Debug().
		Str("from", from).
		Str("to", to).
		Str("kind", string(kind)).
		Msg("relationship added")
	return nil
}

// CanOverride reports whether an explicit AuthorityOver edge from->to exists.
func (g *Graph) CanOverride(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	kinds, ok := g.relationships[pairKey{from: from, to: to}]
	if !ok {
		return false
	}
	_, ok = kinds[AuthorityOver]
	return ok
}

// RequiresConsultation reports whether from must consult to. When the edge
// carries a condition, the supplied context must match every condition pair.
func (g *Graph) RequiresConsultation(from, to string, actionContext map[string]interface{}) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	kinds, ok := g.relationships[pairKey{from: from, to: to}]
	if !ok {
		return false
	}
	rel, ok := kinds[MustConsult]
	if !ok {
		return false
	}

	if len(rel.Condition) > 0 && actionContext != nil {
		for key, want := range rel.Condition {
			if actionContext[key] != want {
				return false
			}
		}
	}
	return true
}

// AuthoritiesOver returns the domains holding authority over a domain.
func (g *Graph) AuthoritiesOver(domain string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.authorityOver[domain])
}

// Subordinates returns the domains a domain holds authority over.
func (g *Graph) Subordinates(domain string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.subordinates[domain])
}

// VetoPowersOver returns the domains that can veto a domain.
func (g *Graph) VetoPowersOver(domain string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.vetoPowers[domain])
}

// MustConsultDomains returns the domains a domain must consult.
func (g *Graph) MustConsultDomains(domain string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.mustConsult[domain])
}

// AuthorityChain walks authorityOver upward from a domain, visiting each
// domain at most once and stopping at maxDepth or when no further authority
// exists. The chain starts with the domain itself. Walking the chain is a
// convenience; it does not imply transitive override rights.
func (g *Graph) AuthorityChain(domain string, maxDepth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	chain := []string{domain}
	visited := map[string]struct{}{domain: {}}
	current := domain

	for i := 0; i < maxDepth; i++ {
		authorities := sortedKeys(g.authorityOver[current])
		next := ""
		for _, auth := range authorities {
			if _, seen := visited[auth]; !seen {
				next = auth
				break
			}
		}
		if next == "" {
			break
		}
		chain = append(chain, next)
		visited[next] = struct{}{}
		current = next
	}
	return chain
}

// ValidateAction checks whether a domain may take an action. It fails when
// the domain has outstanding consultation duties and the context does not
// mark consultation complete.
func (g *Graph) ValidateAction(domain, action string, actionContext map[string]interface{}) (bool, string) {
	consult := g.MustConsultDomains(domain)
	if len(consult) == 0 {
		return true, ""
	}

	if actionContext != nil {
		if done, ok := actionContext["consultation_complete"].(bool); ok && done {
			return true, ""
		}
	}
	return false, fmt.Sprintf("action %q requires consultation with: %s", action, joinSorted(consult))
}

// Relationship returns the stored edge for (from, to, kind), if any.
func (g *Graph) Relationship(from, to string, kind RelationshipKind) (Relationship, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	kinds, ok := g.relationships[pairKey{from: from, to: to}]
	if !ok {
		return Relationship{}, false
	}
	rel, ok := kinds[kind]
	return rel, ok
}

// Relationships returns copies of every edge, ordered by (from, to, kind)
// for determinism.
func (g *Graph) Relationships() []Relationship {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Relationship, 0, len(g.relationships))
	for _, kinds := range g.relationships {
		for _, rel := range kinds {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromDomain != out[j].FromDomain {
			return out[i].FromDomain < out[j].FromDomain
		}
		if out[i].ToDomain != out[j].ToDomain {
			return out[i].ToDomain < out[j].ToDomain
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Domains returns every domain that appears in the graph, sorted.
func (g *Graph) Domains() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[string]struct{})
	for key := range g.relationships {
		set[key.from] = struct{}{}
		set[key.to] = struct{}{}
	}
	return sortedKeys(set)
}

func addIndex(idx map[string]map[string]struct{}, key, member string) {
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][member] = struct{}{}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func joinSorted(s []string) string {
	out := ""
	for i, v := range s {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}
