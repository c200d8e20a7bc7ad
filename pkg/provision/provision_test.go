package provision

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/cloud/fake"
	"vpc-mesh/pkg/events"
	"vpc-mesh/pkg/waiter"
)

func testPolicy() waiter.Policy {
	return waiter.Policy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Timeout: 200 * time.Millisecond}
}

func TestProvision_BuildsCompleteNetwork(t *testing.T) {
	t.Parallel()

	fc := fake.New(fake.Options{ReadyAfter: 2})
	rec := &events.Recorder{}
	p := New(fc, testPolicy(), zerolog.Nop(), rec)

	desc, err := p.Provision(context.Background(), "eu-west-1", 3)
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := desc.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if desc.CIDR != "10.3.0.0/16" || desc.Region != "eu-west-1" {
		t.Fatalf("desc=%+v", desc)
	}
	if len(desc.SubnetIDs) != 3 || desc.InternetGatewayID == "" || desc.RouteTableID == "" {
		t.Fatalf("desc=%+v", desc)
	}
	if zones := fc.SubnetZones(desc.NetworkID); len(zones) != 3 || zones[0] == zones[1] || zones[1] == zones[2] {
		t.Fatalf("zones=%v", zones)
	}
	if !fc.DNSEnabled(desc.NetworkID) {
		t.Fatalf("dns attributes not enabled")
	}
	routes := fc.RouteTableRoutes(desc.RouteTableID)
	if len(routes) != 1 || routes[0].Destination != cloud.DefaultRouteCIDR || routes[0].GatewayID != desc.InternetGatewayID {
		t.Fatalf("routes=%+v", routes)
	}
	if got := len(fc.CallsOf(fake.OpAssociateRouteTable)); got != 3 {
		t.Fatalf("associations=%d", got)
	}
	var subnetCIDRs []string
	for _, c := range fc.CallsOf(fake.OpCreateSubnet) {
		subnetCIDRs = append(subnetCIDRs, c.Target)
	}
	want := []string{"10.3.0.0/24", "10.3.1.0/24", "10.3.2.0/24"}
	if fmt.Sprint(subnetCIDRs) != fmt.Sprint(want) {
		t.Fatalf("subnets=%v", subnetCIDRs)
	}
	if rec.Count(events.NetworkProvisioned) != 1 {
		t.Fatalf("events=%+v", rec.Events())
	}
}

func TestProvision_StepOrder(t *testing.T) {
	t.Parallel()

	fc := fake.New(fake.Options{})
	p := New(fc, testPolicy(), zerolog.Nop(), nil)
	if _, err := p.Provision(context.Background(), "eu-north-1", 0); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	var ops []string
	for _, c := range fc.Calls() {
		if len(ops) == 0 || ops[len(ops)-1] != c.Op {
			ops = append(ops, c.Op)
		}
	}
	want := []string{
		fake.OpAvailabilityZones, fake.OpCreateNetwork, fake.OpNetworkState,
		fake.OpEnableDNSSupport, fake.OpEnableDNSHostnames,
		fake.OpCreateInternetGateway, fake.OpAttachInternetGateway,
		fake.OpCreateSubnet, fake.OpSubnetState, fake.OpCreateSubnet, fake.OpSubnetState, fake.OpCreateSubnet, fake.OpSubnetState,
		fake.OpCreateRouteTable, fake.OpCreateRoute, fake.OpAssociateRouteTable,
	}
	if fmt.Sprint(ops) != fmt.Sprint(want) {
		t.Fatalf("ops=%v", ops)
	}
}

func TestProvision_InsufficientZones(t *testing.T) {
	t.Parallel()

	fc := fake.New(fake.Options{})
	fc.SetZones("eu-west-3", "eu-west-3a", "eu-west-3b", "eu-west-3a")
	p := New(fc, testPolicy(), zerolog.Nop(), nil)

	_, err := p.Provision(context.Background(), "eu-west-3", 1)
	if !errors.Is(err, ErrInsufficientZones) {
		t.Fatalf("err=%v", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepZones || se.Region != "eu-west-3" {
		t.Fatalf("step error=%+v", se)
	}
	if len(fc.CallsOf(fake.OpCreateNetwork)) != 0 {
		t.Fatalf("network created despite missing zones")
	}
}

func TestProvision_StepFailureStops(t *testing.T) {
	t.Parallel()

	fc := fake.New(fake.Options{})
	fc.FailOn("eu-west-2", fake.OpAttachInternetGateway, nil)
	p := New(fc, testPolicy(), zerolog.Nop(), nil)

	_, err := p.Provision(context.Background(), "eu-west-2", 2)
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepGateway {
		t.Fatalf("err=%v", err)
	}
	if !errors.Is(err, fake.ErrInjected) {
		t.Fatalf("err=%v", err)
	}
	if len(fc.CallsOf(fake.OpCreateSubnet)) != 0 {
		t.Fatalf("provisioning continued after failure")
	}
}

func TestProvision_StalledNetworkTimesOut(t *testing.T) {
	t.Parallel()

	fc := fake.New(fake.Options{})
	fc.StallRegion("eu-central-1")
	p := New(fc, waiter.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Timeout: 20 * time.Millisecond}, zerolog.Nop(), nil)

	_, err := p.Provision(context.Background(), "eu-central-1", 0)
	if !errors.Is(err, waiter.ErrTimeout) {
		t.Fatalf("err=%v", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != StepNetworkReady {
		t.Fatalf("err=%v", err)
	}
}

func TestProvision_InvalidSlot(t *testing.T) {
	t.Parallel()

	p := New(fake.New(fake.Options{}), testPolicy(), zerolog.Nop(), nil)
	for _, slot := range []int{-1, 256} {
		if _, err := p.Provision(context.Background(), "eu-west-1", slot); !errors.Is(err, ErrInvalidSlot) {
			t.Fatalf("slot %d: err=%v", slot, err)
		}
	}
}
