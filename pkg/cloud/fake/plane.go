package fake

import (
	"context"
	"fmt"

	"vpc-mesh/pkg/cloud"
)

// plane is the view of the fake cloud from one regional endpoint.
type plane struct {
	c      *Cloud
	region string
}

func (p *plane) Region() string { return p.region }

func (p *plane) AvailabilityZones(ctx context.Context) ([]string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpAvailabilityZones, "")
	if err != nil {
		return nil, err
	}
	zones, ok := c.zones[p.region]
	if !ok {
		zones = []string{p.region + "a", p.region + "b", p.region + "c"}
	}
	c.finish(idx, fmt.Sprint(len(zones)), nil)
	return append([]string(nil), zones...), nil
}

func (p *plane) CreateNetwork(ctx context.Context, cidr string) (string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpCreateNetwork, cidr)
	if err != nil {
		return "", err
	}
	id := c.nextID("vpc")
	c.networks[id] = &network{region: p.region, cidr: cidr}
	c.finish(idx, id, nil)
	return id, nil
}

func (p *plane) NetworkState(ctx context.Context, networkID string) (string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpNetworkState, networkID)
	if err != nil {
		return "", err
	}
	n, ok := c.networks[networkID]
	if !ok || n.region != p.region {
		err := notFound("network", networkID)
		c.finish(idx, "", err)
		return "", err
	}
	n.reads++
	state := cloud.StatePending
	if n.reads > c.opts.ReadyAfter && !c.stallRegions[p.region] {
		state = cloud.StateAvailable
	}
	c.finish(idx, state, nil)
	return state, nil
}

func (p *plane) EnableDNSSupport(ctx context.Context, networkID string) error {
	return p.setNetworkAttr(OpEnableDNSSupport, networkID, func(n *network) { n.dnsSupport = true })
}

func (p *plane) EnableDNSHostnames(ctx context.Context, networkID string) error {
	return p.setNetworkAttr(OpEnableDNSHostnames, networkID, func(n *network) { n.dnsHostnames = true })
}

func (p *plane) setNetworkAttr(op, networkID string, set func(*network)) error {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, op, networkID)
	if err != nil {
		return err
	}
	n, ok := c.networks[networkID]
	if !ok || n.region != p.region {
		err := notFound("network", networkID)
		c.finish(idx, "", err)
		return err
	}
	set(n)
	c.finish(idx, "ok", nil)
	return nil
}

func (p *plane) CreateInternetGateway(ctx context.Context) (string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpCreateInternetGateway, "")
	if err != nil {
		return "", err
	}
	id := c.nextID("igw")
	c.gateways[id] = ""
	c.finish(idx, id, nil)
	return id, nil
}

func (p *plane) AttachInternetGateway(ctx context.Context, gatewayID, networkID string) error {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpAttachInternetGateway, gatewayID)
	if err != nil {
		return err
	}
	attached, ok := c.gateways[gatewayID]
	if !ok {
		err := notFound("internet gateway", gatewayID)
		c.finish(idx, "", err)
		return err
	}
	n, ok := c.networks[networkID]
	if !ok || n.region != p.region {
		err := notFound("network", networkID)
		c.finish(idx, "", err)
		return err
	}
	if attached != "" {
		err := fmt.Errorf("internet gateway %s already attached to %s", gatewayID, attached)
		c.finish(idx, "", err)
		return err
	}
	c.gateways[gatewayID] = networkID
	n.gatewayID = gatewayID
	c.finish(idx, networkID, nil)
	return nil
}

func (p *plane) CreateSubnet(ctx context.Context, networkID, cidr, zone string) (string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpCreateSubnet, cidr)
	if err != nil {
		return "", err
	}
	n, ok := c.networks[networkID]
	if !ok || n.region != p.region {
		err := notFound("network", networkID)
		c.finish(idx, "", err)
		return "", err
	}
	id := c.nextID("subnet")
	c.subnets[id] = &subnet{region: p.region, networkID: networkID, cidr: cidr, zone: zone}
	c.finish(idx, id, nil)
	return id, nil
}

func (p *plane) SubnetState(ctx context.Context, subnetID string) (string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpSubnetState, subnetID)
	if err != nil {
		return "", err
	}
	s, ok := c.subnets[subnetID]
	if !ok || s.region != p.region {
		err := notFound("subnet", subnetID)
		c.finish(idx, "", err)
		return "", err
	}
	s.reads++
	state := cloud.StatePending
	if s.reads > c.opts.ReadyAfter && !c.stallRegions[p.region] {
		state = cloud.StateAvailable
	}
	c.finish(idx, state, nil)
	return state, nil
}

func (p *plane) CreateRouteTable(ctx context.Context, networkID string) (string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpCreateRouteTable, networkID)
	if err != nil {
		return "", err
	}
	n, ok := c.networks[networkID]
	if !ok || n.region != p.region {
		err := notFound("network", networkID)
		c.finish(idx, "", err)
		return "", err
	}
	id := c.nextID("rtb")
	c.tables[id] = &table{region: p.region, networkID: networkID}
	c.finish(idx, id, nil)
	return id, nil
}

func (p *plane) CreateRoute(ctx context.Context, spec cloud.RouteSpec) error {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpCreateRoute, spec.RouteTableID+" "+spec.Destination)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		c.finish(idx, "", err)
		return err
	}
	t, ok := c.tables[spec.RouteTableID]
	if !ok || t.region != p.region {
		return fail(notFound("route table", spec.RouteTableID))
	}
	if (spec.GatewayID == "") == (spec.PeeringID == "") {
		return fail(fmt.Errorf("route %s needs exactly one target", spec.Destination))
	}
	if spec.GatewayID != "" {
		if attached, ok := c.gateways[spec.GatewayID]; !ok || attached != t.networkID {
			return fail(notFound("internet gateway", spec.GatewayID))
		}
	}
	if spec.PeeringID != "" {
		pc, ok := c.peerings[spec.PeeringID]
		if !ok || (pc.requesterRegion != p.region && pc.accepterRegion != p.region) {
			return fail(notFound("peering connection", spec.PeeringID))
		}
		if !pc.accepted {
			return fail(fmt.Errorf("peering connection %s is not active", spec.PeeringID))
		}
	}
	for _, r := range t.routes {
		if r.spec.Destination == spec.Destination {
			return fail(fmt.Errorf("route %s already exists in %s", spec.Destination, spec.RouteTableID))
		}
	}
	t.routes = append(t.routes, &route{spec: spec})
	c.finish(idx, "ok", nil)
	return nil
}

func (p *plane) AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpAssociateRouteTable, routeTableID+" "+subnetID)
	if err != nil {
		return err
	}
	t, ok := c.tables[routeTableID]
	if !ok || t.region != p.region {
		err := notFound("route table", routeTableID)
		c.finish(idx, "", err)
		return err
	}
	s, ok := c.subnets[subnetID]
	if !ok || s.networkID != t.networkID {
		err := notFound("subnet", subnetID)
		c.finish(idx, "", err)
		return err
	}
	t.subnets = append(t.subnets, subnetID)
	c.finish(idx, "ok", nil)
	return nil
}

func (p *plane) Routes(ctx context.Context, routeTableID string) ([]cloud.Route, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpRoutes, routeTableID)
	if err != nil {
		return nil, err
	}
	t, ok := c.tables[routeTableID]
	if !ok || t.region != p.region {
		err := notFound("route table", routeTableID)
		c.finish(idx, "", err)
		return nil, err
	}
	out := make([]cloud.Route, 0, len(t.routes))
	for _, r := range t.routes {
		state := cloud.RouteStateActive
		if r.spec.PeeringID != "" {
			r.reads++
			if r.reads <= c.opts.RouteActiveAfter || c.stallRoutes[p.region] {
				state = cloud.StatePending
			}
		}
		out = append(out, cloud.Route{
			Destination: r.spec.Destination,
			GatewayID:   r.spec.GatewayID,
			PeeringID:   r.spec.PeeringID,
			State:       state,
		})
	}
	c.finish(idx, fmt.Sprint(len(out)), nil)
	return out, nil
}

func (p *plane) CreatePeering(ctx context.Context, req cloud.PeeringRequest) (string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpCreatePeering, req.NetworkID+"->"+req.PeerNetworkID)
	if err != nil {
		return "", err
	}
	local, ok := c.networks[req.NetworkID]
	if !ok || local.region != p.region {
		err := notFound("network", req.NetworkID)
		c.finish(idx, "", err)
		return "", err
	}
	remote, ok := c.networks[req.PeerNetworkID]
	if !ok || remote.region != req.PeerRegion {
		err := notFound("peer network", req.PeerNetworkID)
		c.finish(idx, "", err)
		return "", err
	}
	id := c.nextID("pcx")
	c.peerings[id] = &peering{
		requesterRegion: p.region,
		accepterRegion:  req.PeerRegion,
		requesterNet:    req.NetworkID,
		accepterNet:     req.PeerNetworkID,
		reads:           make(map[string]int),
		fail:            c.failPeerings[pairKey(p.region, req.PeerRegion)],
	}
	c.finish(idx, id, nil)
	return id, nil
}

func (p *plane) AcceptPeering(ctx context.Context, peeringID string) error {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpAcceptPeering, peeringID)
	if err != nil {
		return err
	}
	pc, ok := c.peerings[peeringID]
	if !ok || pc.accepterRegion != p.region {
		err := notFound("peering connection", peeringID)
		c.finish(idx, "", err)
		return err
	}
	if pc.fail || pc.reads[p.region] <= c.opts.PeeringPendingAfter {
		err := fmt.Errorf("peering connection %s is not pending acceptance", peeringID)
		c.finish(idx, "", err)
		return err
	}
	pc.accepted = true
	c.finish(idx, "accepted", nil)
	return nil
}

func (p *plane) PeeringStatus(ctx context.Context, peeringID string) (string, error) {
	c := p.c
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.begin(p.region, OpPeeringStatus, peeringID)
	if err != nil {
		return "", err
	}
	pc, ok := c.peerings[peeringID]
	if !ok || (pc.requesterRegion != p.region && pc.accepterRegion != p.region) {
		err := notFound("peering connection", peeringID)
		c.finish(idx, "", err)
		return "", err
	}
	var status string
	switch {
	case pc.accepted:
		pc.activeReads++
		status = cloud.PeeringProvisioning
		if pc.activeReads > c.opts.PeeringActiveAfter {
			status = cloud.PeeringActive
		}
	default:
		pc.reads[p.region]++
		status = cloud.PeeringInitiatingRequest
		if pc.reads[p.region] > c.opts.PeeringPendingAfter {
			status = cloud.PeeringPendingAcceptance
			if pc.fail {
				status = cloud.PeeringFailed
			}
		}
	}
	c.finish(idx, status, nil)
	return status, nil
}
