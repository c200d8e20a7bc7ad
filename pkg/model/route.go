package model

// RouteState is the propagation state of an installed route.
type RouteState string

const (
	RoutePropagating RouteState = "propagating"
	RouteActive      RouteState = "active"
	RouteUnknown     RouteState = "unknown"
)

// RouteRecord is one direction of a peering link: a route in the owning network's table that
// sends the peer's address block over the peering connection.
type RouteRecord struct {
	Region       string     `json:"region"`
	RouteTableID string     `json:"routeTableId"`
	Destination  string     `json:"destination"`
	PeeringID    string     `json:"peeringId"`
	State        RouteState `json:"state"`
	Attempts     int        `json:"attempts,omitempty"`
}

// Converged reports whether the route reached the active state.
func (r RouteRecord) Converged() bool { return r.State == RouteActive }
