// Package fake is an in-memory network control plane. It simulates eventual consistency with
// poll counters, supports failure injection and records every call so tests can assert ordering.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"vpc-mesh/pkg/cloud"
)

// Operation names recorded in the call log and used for failure injection.
const (
	OpAvailabilityZones     = "AvailabilityZones"
	OpCreateNetwork         = "CreateNetwork"
	OpNetworkState          = "NetworkState"
	OpEnableDNSSupport      = "EnableDNSSupport"
	OpEnableDNSHostnames    = "EnableDNSHostnames"
	OpCreateInternetGateway = "CreateInternetGateway"
	OpAttachInternetGateway = "AttachInternetGateway"
	OpCreateSubnet          = "CreateSubnet"
	OpSubnetState           = "SubnetState"
	OpCreateRouteTable      = "CreateRouteTable"
	OpCreateRoute           = "CreateRoute"
	OpAssociateRouteTable   = "AssociateRouteTable"
	OpRoutes                = "Routes"
	OpCreatePeering         = "CreatePeering"
	OpAcceptPeering         = "AcceptPeering"
	OpPeeringStatus         = "PeeringStatus"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("fake: injected failure")

// Options tunes how many polls a resource needs before it settles.
type Options struct {
	// ReadyAfter is the number of state reads a network or subnet reports pending.
	ReadyAfter int
	// PeeringPendingAfter is the number of status reads per side before pending-acceptance shows.
	PeeringPendingAfter int
	// PeeringActiveAfter is the number of status reads after acceptance before active shows.
	PeeringActiveAfter int
	// RouteActiveAfter is the number of route table reads a new peering route stays pending.
	RouteActiveAfter int
}

// Call is one recorded control-plane call.
type Call struct {
	Seq    int
	Region string
	Op     string
	Target string
	Result string
	Err    error
}

type network struct {
	region       string
	cidr         string
	reads        int
	dnsSupport   bool
	dnsHostnames bool
	gatewayID    string
}

type subnet struct {
	region    string
	networkID string
	cidr      string
	zone      string
	reads     int
}

type route struct {
	spec  cloud.RouteSpec
	reads int
}

type table struct {
	region    string
	networkID string
	routes    []*route
	subnets   []string
}

type peering struct {
	requesterRegion string
	accepterRegion  string
	requesterNet    string
	accepterNet     string
	reads           map[string]int
	accepted        bool
	activeReads     int
	fail            bool
}

type fault struct {
	err       error
	remaining int // <0 means every call
}

// Cloud is a multi-region fake. It implements cloud.Provider.
type Cloud struct {
	mu sync.Mutex

	opts     Options
	seq      int
	callSeq  int
	zones    map[string][]string
	networks map[string]*network
	gateways map[string]string // gateway -> attached network
	subnets  map[string]*subnet
	tables   map[string]*table
	peerings map[string]*peering

	faults        map[string]*fault
	failPeerings  map[string]bool
	stallRegions  map[string]bool
	stallRoutes   map[string]bool
	unknownRegion map[string]bool
	calls         []Call
}

// New returns an empty fake cloud.
func New(opts Options) *Cloud {
	return &Cloud{
		opts:          opts,
		zones:         make(map[string][]string),
		networks:      make(map[string]*network),
		gateways:      make(map[string]string),
		subnets:       make(map[string]*subnet),
		tables:        make(map[string]*table),
		peerings:      make(map[string]*peering),
		faults:        make(map[string]*fault),
		failPeerings:  make(map[string]bool),
		stallRegions:  make(map[string]bool),
		stallRoutes:   make(map[string]bool),
		unknownRegion: make(map[string]bool),
	}
}

// Region returns the control plane of a region.
func (c *Cloud) Region(_ context.Context, name string) (cloud.ControlPlane, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name == "" || c.unknownRegion[name] {
		return nil, fmt.Errorf("fake: unknown region %q", name)
	}
	return &plane{c: c, region: name}, nil
}

// SetZones overrides the availability zones of a region.
func (c *Cloud) SetZones(region string, zones ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[region] = append([]string(nil), zones...)
}

// RejectRegion makes Region fail for name.
func (c *Cloud) RejectRegion(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unknownRegion[name] = true
}

// FailOn makes every call of op in region fail with err (ErrInjected when nil).
func (c *Cloud) FailOn(region, op string, err error) {
	c.FailTimes(region, op, -1, err)
}

// FailTimes makes the next n calls of op in region fail with err. n < 0 fails forever.
func (c *Cloud) FailTimes(region, op string, n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[region+"/"+op] = &fault{err: err, remaining: n}
}

// FailPeering makes any peering between the two regions end in the failed state.
func (c *Cloud) FailPeering(regionA, regionB string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPeerings[pairKey(regionA, regionB)] = true
}

// StallRegion keeps networks and subnets of region pending forever.
func (c *Cloud) StallRegion(region string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stallRegions[region] = true
}

// StallRoutes keeps peering routes in region from ever becoming active.
func (c *Cloud) StallRoutes(region string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stallRoutes[region] = true
}

// Calls returns a copy of the call log.
func (c *Cloud) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// CallsOf returns the recorded calls of one operation.
func (c *Cloud) CallsOf(op string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// RouteTableRoutes returns the routes of a table regardless of region, sorted by destination.
func (c *Cloud) RouteTableRoutes(routeTableID string) []cloud.RouteSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[routeTableID]
	if !ok {
		return nil
	}
	out := make([]cloud.RouteSpec, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out
}

// PeeringRoutes counts peering routes across every table.
func (c *Cloud) PeeringRoutes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tables {
		for _, r := range t.routes {
			if r.spec.PeeringID != "" {
				n++
			}
		}
	}
	return n
}

// SubnetZones returns the zone of every subnet of a network.
func (c *Cloud) SubnetZones(networkID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.subnets {
		if s.networkID == networkID {
			out = append(out, s.zone)
		}
	}
	sort.Strings(out)
	return out
}

// DNSEnabled reports whether both DNS attributes were turned on for a network.
func (c *Cloud) DNSEnabled(networkID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.networks[networkID]
	return ok && n.dnsSupport && n.dnsHostnames
}

func (c *Cloud) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%04d", prefix, c.seq)
}

// begin records the call and returns any injected fault. Callers hold c.mu.
func (c *Cloud) begin(region, op, target string) (int, error) {
	c.callSeq++
	idx := len(c.calls)
	c.calls = append(c.calls, Call{Seq: c.callSeq, Region: region, Op: op, Target: target})
	if f, ok := c.faults[region+"/"+op]; ok && f.remaining != 0 {
		if f.remaining > 0 {
			f.remaining--
		}
		c.calls[idx].Err = f.err
		return idx, f.err
	}
	return idx, nil
}

func (c *Cloud) finish(idx int, result string, err error) {
	c.calls[idx].Result = result
	if err != nil {
		c.calls[idx].Err = err
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, cloud.ErrNotFound)
}
