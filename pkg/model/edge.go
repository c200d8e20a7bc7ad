package model

import "fmt"

// Edge is an unordered pair of indices into a snapshot's networks. The canonical form keeps the
// smaller index in A.
type Edge struct {
	A int `json:"a"`
	B int `json:"b"`
}

// NewEdge returns the canonical edge for i and j.
func NewEdge(i, j int) Edge {
	if i > j {
		i, j = j, i
	}
	return Edge{A: i, B: j}
}

// Canonical returns e with the smaller index first.
func (e Edge) Canonical() Edge { return NewEdge(e.A, e.B) }

func (e Edge) String() string {
	return fmt.Sprintf("(%d,%d)", e.A, e.B)
}
