package model

// LinkState is the orchestrator-side view of a peering link.
type LinkState string

const (
	LinkRequested         LinkState = "requested"
	LinkPendingAcceptance LinkState = "pending_acceptance"
	LinkActive            LinkState = "active"
	LinkFailed            LinkState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s LinkState) Terminal() bool {
	return s == LinkActive || s == LinkFailed
}

// PeeringLink is the bidirectional connection established for one edge.
type PeeringLink struct {
	PeeringID string            `json:"peeringId"`
	Edge      Edge              `json:"edge"`
	Requester NetworkDescriptor `json:"requester"`
	Accepter  NetworkDescriptor `json:"accepter"`
	State     LinkState         `json:"state"`
	Routes    []RouteRecord     `json:"routes,omitempty"`
}
