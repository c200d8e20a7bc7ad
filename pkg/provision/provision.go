// Package provision builds one isolated network per region: address block, DNS attributes,
// internet gateway, three zonal subnets and a route table with a default route.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/model"
	"vpc-mesh/pkg/waiter"
)

var (
	ErrInvalidSlot       = errors.New("provision: invalid slot")
	ErrInsufficientZones = errors.New("provision: region has fewer than 3 availability zones")
	ErrIncompleteNetwork = errors.New("provision: incomplete network descriptor")
)

// Step names reported in StepError.
const (
	StepZones        = "availability_zones"
	StepNetwork      = "create_network"
	StepNetworkReady = "network_available"
	StepDNS          = "enable_dns"
	StepGateway      = "internet_gateway"
	StepSubnets      = "subnets"
	StepRouteTable   = "route_table"
	StepAssociate    = "associate_subnets"
)

// StepError reports the step at which provisioning of a region stopped.
type StepError struct {
	Region string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provision %s: %s: %v", e.Region, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Provisioner creates regional networks.
type Provisioner struct {
	provider cloud.Provider
	wait     waiter.Policy
	log      zerolog.Logger
	observer events.Observer
}

// New returns a provisioner. A nil observer discards events.
func New(provider cloud.Provider, wait waiter.Policy, log zerolog.Logger, observer events.Observer) *Provisioner {
	if observer == nil {
		observer = events.Discard
	}
	return &Provisioner{provider: provider, wait: wait, log: log, observer: observer}
}

// Provision builds the network for region using the address block of slot. On any failure the
// region must be treated as unprovisioned; already created resources are left in place.
func (p *Provisioner) Provision(ctx context.Context, region string, slot int) (model.NetworkDescriptor, error) {
	fail := func(step string, err error) (model.NetworkDescriptor, error) {
		return model.NetworkDescriptor{}, &StepError{Region: region, Step: step, Err: err}
	}
	block, err := NetworkCIDR(slot)
	if err != nil {
		return fail(StepNetwork, err)
	}
	cp, err := p.provider.Region(ctx, region)
	if err != nil {
		return fail(StepZones, err)
	}
	log := p.log.With().Str("region", region).Int("slot", slot).Logger()
	started := time.Now()

	zones, err := cp.AvailabilityZones(ctx)
	if err != nil {
		return fail(StepZones, err)
	}
	zones = distinct(zones)
	if len(zones) < model.SubnetsPerNetwork {
		return fail(StepZones, fmt.Errorf("%w: got %d", ErrInsufficientZones, len(zones)))
	}

	desc := model.NetworkDescriptor{Region: region, CIDR: block.String()}
	desc.NetworkID, err = cp.CreateNetwork(ctx, desc.CIDR)
	if err != nil {
		return fail(StepNetwork, err)
	}
	read := func(ctx context.Context) (string, error) { return cp.NetworkState(ctx, desc.NetworkID) }
	if _, err := waiter.Until(ctx, p.wait, "network "+desc.NetworkID, waiter.StateIs(read, cloud.StateAvailable)); err != nil {
		return fail(StepNetworkReady, err)
	}
	log.Info().Str("network", desc.NetworkID).Str("cidr", desc.CIDR).Msg("created network")

	if err := cp.EnableDNSSupport(ctx, desc.NetworkID); err != nil {
		return fail(StepDNS, err)
	}
	if err := cp.EnableDNSHostnames(ctx, desc.NetworkID); err != nil {
		return fail(StepDNS, err)
	}

	desc.InternetGatewayID, err = cp.CreateInternetGateway(ctx)
	if err != nil {
		return fail(StepGateway, err)
	}
	if err := cp.AttachInternetGateway(ctx, desc.InternetGatewayID, desc.NetworkID); err != nil {
		return fail(StepGateway, err)
	}
	log.Info().Str("gateway", desc.InternetGatewayID).Msg("attached internet gateway")

	for k := 0; k < model.SubnetsPerNetwork; k++ {
		id, err := p.subnet(ctx, cp, desc.NetworkID, slot, k, zones[k])
		if err != nil {
			return fail(StepSubnets, err)
		}
		desc.SubnetIDs = append(desc.SubnetIDs, id)
		log.Info().Str("subnet", id).Str("zone", zones[k]).Msg("created subnet")
	}

	desc.RouteTableID, err = cp.CreateRouteTable(ctx, desc.NetworkID)
	if err != nil {
		return fail(StepRouteTable, err)
	}
	err = cp.CreateRoute(ctx, cloud.RouteSpec{
		RouteTableID: desc.RouteTableID,
		Destination:  cloud.DefaultRouteCIDR,
		GatewayID:    desc.InternetGatewayID,
	})
	if err != nil {
		return fail(StepRouteTable, err)
	}
	log.Info().Str("route_table", desc.RouteTableID).Msg("created route table with default route")

	for _, id := range desc.SubnetIDs {
		if err := cp.AssociateRouteTable(ctx, desc.RouteTableID, id); err != nil {
			return fail(StepAssociate, err)
		}
	}
	if err := desc.Validate(); err != nil {
		return fail(StepAssociate, fmt.Errorf("%w: %v", ErrIncompleteNetwork, err))
	}

	log.Info().Dur("took", time.Since(started)).Msg("network provisioned")
	p.observer.Observe(events.Event{
		Kind:    events.NetworkProvisioned,
		Region:  region,
		Network: desc.NetworkID,
		Detail:  desc.CIDR,
	})
	return desc, nil
}

func (p *Provisioner) subnet(ctx context.Context, cp cloud.ControlPlane, networkID string, slot, k int, zone string) (string, error) {
	block, err := SubnetCIDR(slot, k)
	if err != nil {
		return "", err
	}
	id, err := cp.CreateSubnet(ctx, networkID, block.String(), zone)
	if err != nil {
		return "", fmt.Errorf("create subnet %s in %s: %w", block, zone, err)
	}
	read := func(ctx context.Context) (string, error) { return cp.SubnetState(ctx, id) }
	if _, err := waiter.Until(ctx, p.wait, "subnet "+id, waiter.StateIs(read, cloud.StateAvailable)); err != nil {
		return "", err
	}
	return id, nil
}

func distinct(zones []string) []string {
	seen := make(map[string]bool, len(zones))
	out := make([]string, 0, len(zones))
	for _, z := range zones {
		if z == "" || seen[z] {
			continue
		}
		seen[z] = true
		out = append(out, z)
	}
	return out
}
