package runtime

import (
	"sort"
	"strings"
)

// InitializationOrder computes a deterministic start order over the
// dependency graph using Kahn's algorithm. Zero-in-degree nodes are removed
// in ascending (priority tier, id) order. If a cycle remains once no
// zero-in-degree node is left, the cyclic remainder is appended sorted by
// priority tier then id and a CYCLE_DETECTED error is returned alongside the
// order; the result always covers every registered id.
func (r *Registry) InitializationOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inDegree := make(map[string]int, len(r.records))
	for id, rec := range r.records {
		degree := 0
		for _, dep := range rec.descriptor.Dependencies {
			// Edges to unregistered ids do not count; Initialize reports
			// them as missing dependencies.
			if _, ok := r.records[dep]; ok {
				degree++
			}
		}
		inDegree[id] = degree
	}

	ready := make([]string, 0, len(r.records))
	for id, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(r.records))
	emitted := make(map[string]struct{}, len(r.records))

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return r.orderLessLocked(ready[i], ready[j]) })
		current := ready[0]
		ready = ready[1:]

		order = append(order, current)
		emitted[current] = struct{}{}

		for dependent := range r.dependents[current] {
			if _, ok := inDegree[dependent]; !ok {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) == len(r.records) {
		return order, nil
	}

	// Cycle: append the unreachable remainder in (priority, id) order so the
	// result is still a total order over every registered id.
	remainder := make([]string, 0, len(r.records)-len(order))
	for id := range r.records {
		if _, ok := emitted[id]; !ok {
			remainder = append(remainder, id)
		}
	}
	sort.Slice(remainder, func(i, j int) bool { return r.orderLessLocked(remainder[i], remainder[j]) })
	order = append(order, remainder...)

	r.logger.Warn().
		Strs("cycle_members", remainder).
		Msg("dependency cycle detected, remainder appended by priority")

	return order, NewConflictError(
		"dependency cycle detected: "+strings.Join(remainder, ", "), nil).
		WithCode(ErrCodeCycleDetected).
		WithDetail("members", remainder)
}

// orderLessLocked ranks ids by ascending priority tier, breaking ties by id
// for full determinism. Callers hold at least a read lock.
func (r *Registry) orderLessLocked(a, b string) bool {
	pa := r.records[a].descriptor.Priority
	pb := r.records[b].descriptor.Priority
	if pa != pb {
		return pa < pb
	}
	return a < b
}

func sortStrings(s []string) {
	sort.Strings(s)
}
