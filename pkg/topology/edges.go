package topology

import (
	"sort"

	"vpc-mesh/pkg/model"
)

// EdgeSet is a set of unordered edges keyed by their canonical form.
type EdgeSet map[model.Edge]struct{}

// Add inserts the canonical form of e. Self pairs are ignored. It reports whether e was new.
func (s EdgeSet) Add(e model.Edge) bool {
	if e.A == e.B {
		return false
	}
	e = e.Canonical()
	if _, ok := s[e]; ok {
		return false
	}
	s[e] = struct{}{}
	return true
}

// Has reports whether the pair is present in either order.
func (s EdgeSet) Has(e model.Edge) bool {
	_, ok := s[e.Canonical()]
	return ok
}

// Sorted returns the edges ordered by A, then B.
func (s EdgeSet) Sorted() []model.Edge {
	out := make([]model.Edge, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Edges returns the full-mesh edge set for n networks: n*(n-1)/2 pairs, each exactly once.
// n < 2 yields no edges.
func Edges(n int) []model.Edge {
	if n < 2 {
		return nil
	}
	set := make(EdgeSet, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			set.Add(model.Edge{A: i, B: j})
		}
	}
	return set.Sorted()
}

// EdgeCount is the number of edges of a full mesh of n networks.
func EdgeCount(n int) int {
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}
