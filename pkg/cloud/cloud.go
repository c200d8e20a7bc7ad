// Package cloud defines the network control-plane surface the mesh orchestrator drives. Every
// ControlPlane is bound to one region; a Provider hands them out by region name.
package cloud

import (
	"context"
	"errors"
)

// ErrNotFound is returned (possibly wrapped) when the control plane does not know the resource yet.
// Freshly created resources are eventually consistent, so waiters treat it as "not ready".
var ErrNotFound = errors.New("cloud: resource not found")

// Resource states reported by the control plane.
const (
	StatePending   = "pending"
	StateAvailable = "available"
)

// Peering status codes as reported by the control plane.
const (
	PeeringInitiatingRequest = "initiating-request"
	PeeringPendingAcceptance = "pending-acceptance"
	PeeringProvisioning      = "provisioning"
	PeeringActive            = "active"
	PeeringFailed            = "failed"
	PeeringRejected          = "rejected"
	PeeringExpired           = "expired"
	PeeringDeleted           = "deleted"
)

// PeeringTerminalFailure reports whether a status code can never become active.
func PeeringTerminalFailure(code string) bool {
	switch code {
	case PeeringFailed, PeeringRejected, PeeringExpired, PeeringDeleted:
		return true
	}
	return false
}

// Route propagation states as reported by the control plane.
const (
	RouteStateActive    = "active"
	RouteStateBlackhole = "blackhole"
)

// DefaultRouteCIDR is the destination of the internet route installed in every network.
const DefaultRouteCIDR = "0.0.0.0/0"

// RouteSpec describes a route to install. Exactly one of GatewayID and PeeringID is set.
type RouteSpec struct {
	RouteTableID string
	Destination  string
	GatewayID    string
	PeeringID    string
}

// Route is one entry of a route table as read back from the control plane.
type Route struct {
	Destination string
	GatewayID   string
	PeeringID   string
	State       string
}

// PeeringRequest asks for a peering connection from a local network to a remote one.
type PeeringRequest struct {
	NetworkID     string
	PeerNetworkID string
	PeerRegion    string
}

// ControlPlane is the per-region network control plane.
type ControlPlane interface {
	Region() string

	AvailabilityZones(ctx context.Context) ([]string, error)

	CreateNetwork(ctx context.Context, cidr string) (string, error)
	NetworkState(ctx context.Context, networkID string) (string, error)
	EnableDNSSupport(ctx context.Context, networkID string) error
	EnableDNSHostnames(ctx context.Context, networkID string) error

	CreateInternetGateway(ctx context.Context) (string, error)
	AttachInternetGateway(ctx context.Context, gatewayID, networkID string) error

	CreateSubnet(ctx context.Context, networkID, cidr, zone string) (string, error)
	SubnetState(ctx context.Context, subnetID string) (string, error)

	CreateRouteTable(ctx context.Context, networkID string) (string, error)
	CreateRoute(ctx context.Context, spec RouteSpec) error
	AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error
	Routes(ctx context.Context, routeTableID string) ([]Route, error)

	CreatePeering(ctx context.Context, req PeeringRequest) (string, error)
	AcceptPeering(ctx context.Context, peeringID string) error
	PeeringStatus(ctx context.Context, peeringID string) (string, error)
}

// Provider returns the control plane endpoint of a region.
type Provider interface {
	Region(ctx context.Context, name string) (ControlPlane, error)
}
