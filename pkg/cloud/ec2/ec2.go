// Package ec2 implements cloud.ControlPlane on Amazon EC2 with the AWS SDK for Go v2.
package ec2

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"vpc-mesh/pkg/cloud"
)

// NameTag is the prefix of the Name tag put on every created resource.
const NameTag = "vpc-mesh"

// API is the subset of the EC2 client the control plane uses.
type API interface {
	DescribeAvailabilityZones(ctx context.Context, in *awsec2.DescribeAvailabilityZonesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeAvailabilityZonesOutput, error)
	CreateVpc(ctx context.Context, in *awsec2.CreateVpcInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateVpcOutput, error)
	DescribeVpcs(ctx context.Context, in *awsec2.DescribeVpcsInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeVpcsOutput, error)
	ModifyVpcAttribute(ctx context.Context, in *awsec2.ModifyVpcAttributeInput, optFns ...func(*awsec2.Options)) (*awsec2.ModifyVpcAttributeOutput, error)
	CreateInternetGateway(ctx context.Context, in *awsec2.CreateInternetGatewayInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateInternetGatewayOutput, error)
	AttachInternetGateway(ctx context.Context, in *awsec2.AttachInternetGatewayInput, optFns ...func(*awsec2.Options)) (*awsec2.AttachInternetGatewayOutput, error)
	CreateSubnet(ctx context.Context, in *awsec2.CreateSubnetInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateSubnetOutput, error)
	DescribeSubnets(ctx context.Context, in *awsec2.DescribeSubnetsInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeSubnetsOutput, error)
	CreateRouteTable(ctx context.Context, in *awsec2.CreateRouteTableInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateRouteTableOutput, error)
	CreateRoute(ctx context.Context, in *awsec2.CreateRouteInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateRouteOutput, error)
	AssociateRouteTable(ctx context.Context, in *awsec2.AssociateRouteTableInput, optFns ...func(*awsec2.Options)) (*awsec2.AssociateRouteTableOutput, error)
	DescribeRouteTables(ctx context.Context, in *awsec2.DescribeRouteTablesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeRouteTablesOutput, error)
	CreateVpcPeeringConnection(ctx context.Context, in *awsec2.CreateVpcPeeringConnectionInput, optFns ...func(*awsec2.Options)) (*awsec2.CreateVpcPeeringConnectionOutput, error)
	AcceptVpcPeeringConnection(ctx context.Context, in *awsec2.AcceptVpcPeeringConnectionInput, optFns ...func(*awsec2.Options)) (*awsec2.AcceptVpcPeeringConnectionOutput, error)
	DescribeVpcPeeringConnections(ctx context.Context, in *awsec2.DescribeVpcPeeringConnectionsInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeVpcPeeringConnectionsOutput, error)
}

// Provider hands out one EC2 control plane per region, loading the shared AWS configuration
// with the given profile.
type Provider struct {
	profile string

	mu     sync.Mutex
	planes map[string]*Plane
}

// NewProvider returns a provider using the named shared-config profile ("" selects the default chain).
func NewProvider(profile string) *Provider {
	return &Provider{profile: profile, planes: make(map[string]*Plane)}
}

// Region returns the cached control plane of name, creating its client on first use.
func (p *Provider) Region(ctx context.Context, name string) (cloud.ControlPlane, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.planes[name]; ok {
		return pl, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(name)}
	if p.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(p.profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for %s: %w", name, err)
	}
	pl := NewPlane(name, awsec2.NewFromConfig(cfg))
	p.planes[name] = pl
	return pl, nil
}

// Plane is the EC2 control plane of one region.
type Plane struct {
	region string
	api    API
}

func NewPlane(region string, api API) *Plane {
	return &Plane{region: region, api: api}
}

func (p *Plane) Region() string { return p.region }

func (p *Plane) AvailabilityZones(ctx context.Context) ([]string, error) {
	out, err := p.api.DescribeAvailabilityZones(ctx, &awsec2.DescribeAvailabilityZonesInput{
		Filters: []types.Filter{{Name: aws.String("state"), Values: []string{"available"}}},
	})
	if err != nil {
		return nil, mapErr("describe availability zones", err)
	}
	zones := make([]string, 0, len(out.AvailabilityZones))
	for _, z := range out.AvailabilityZones {
		zones = append(zones, aws.ToString(z.ZoneName))
	}
	sort.Strings(zones)
	return zones, nil
}

func (p *Plane) CreateNetwork(ctx context.Context, cidr string) (string, error) {
	out, err := p.api.CreateVpc(ctx, &awsec2.CreateVpcInput{
		CidrBlock:         aws.String(cidr),
		TagSpecifications: p.tags(types.ResourceTypeVpc),
	})
	if err != nil {
		return "", mapErr("create vpc", err)
	}
	return aws.ToString(out.Vpc.VpcId), nil
}

func (p *Plane) NetworkState(ctx context.Context, networkID string) (string, error) {
	out, err := p.api.DescribeVpcs(ctx, &awsec2.DescribeVpcsInput{VpcIds: []string{networkID}})
	if err != nil {
		return "", mapErr("describe vpc "+networkID, err)
	}
	if len(out.Vpcs) == 0 {
		return "", fmt.Errorf("vpc %s: %w", networkID, cloud.ErrNotFound)
	}
	return string(out.Vpcs[0].State), nil
}

// EnableDNSSupport and EnableDNSHostnames are separate calls: EC2 accepts one attribute per request.
func (p *Plane) EnableDNSSupport(ctx context.Context, networkID string) error {
	_, err := p.api.ModifyVpcAttribute(ctx, &awsec2.ModifyVpcAttributeInput{
		VpcId:            aws.String(networkID),
		EnableDnsSupport: &types.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	return mapErr("enable dns support", err)
}

func (p *Plane) EnableDNSHostnames(ctx context.Context, networkID string) error {
	_, err := p.api.ModifyVpcAttribute(ctx, &awsec2.ModifyVpcAttributeInput{
		VpcId:              aws.String(networkID),
		EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	return mapErr("enable dns hostnames", err)
}

func (p *Plane) CreateInternetGateway(ctx context.Context) (string, error) {
	out, err := p.api.CreateInternetGateway(ctx, &awsec2.CreateInternetGatewayInput{
		TagSpecifications: p.tags(types.ResourceTypeInternetGateway),
	})
	if err != nil {
		return "", mapErr("create internet gateway", err)
	}
	return aws.ToString(out.InternetGateway.InternetGatewayId), nil
}

func (p *Plane) AttachInternetGateway(ctx context.Context, gatewayID, networkID string) error {
	_, err := p.api.AttachInternetGateway(ctx, &awsec2.AttachInternetGatewayInput{
		InternetGatewayId: aws.String(gatewayID),
		VpcId:             aws.String(networkID),
	})
	return mapErr("attach internet gateway", err)
}

func (p *Plane) CreateSubnet(ctx context.Context, networkID, cidr, zone string) (string, error) {
	out, err := p.api.CreateSubnet(ctx, &awsec2.CreateSubnetInput{
		VpcId:             aws.String(networkID),
		CidrBlock:         aws.String(cidr),
		AvailabilityZone:  aws.String(zone),
		TagSpecifications: p.tags(types.ResourceTypeSubnet),
	})
	if err != nil {
		return "", mapErr("create subnet "+cidr, err)
	}
	return aws.ToString(out.Subnet.SubnetId), nil
}

func (p *Plane) SubnetState(ctx context.Context, subnetID string) (string, error) {
	out, err := p.api.DescribeSubnets(ctx, &awsec2.DescribeSubnetsInput{SubnetIds: []string{subnetID}})
	if err != nil {
		return "", mapErr("describe subnet "+subnetID, err)
	}
	if len(out.Subnets) == 0 {
		return "", fmt.Errorf("subnet %s: %w", subnetID, cloud.ErrNotFound)
	}
	return string(out.Subnets[0].State), nil
}

func (p *Plane) CreateRouteTable(ctx context.Context, networkID string) (string, error) {
	out, err := p.api.CreateRouteTable(ctx, &awsec2.CreateRouteTableInput{
		VpcId:             aws.String(networkID),
		TagSpecifications: p.tags(types.ResourceTypeRouteTable),
	})
	if err != nil {
		return "", mapErr("create route table", err)
	}
	return aws.ToString(out.RouteTable.RouteTableId), nil
}

func (p *Plane) CreateRoute(ctx context.Context, spec cloud.RouteSpec) error {
	in := &awsec2.CreateRouteInput{
		RouteTableId:         aws.String(spec.RouteTableID),
		DestinationCidrBlock: aws.String(spec.Destination),
	}
	switch {
	case spec.GatewayID != "" && spec.PeeringID != "":
		return errors.New("create route: gateway and peering are mutually exclusive")
	case spec.GatewayID != "":
		in.GatewayId = aws.String(spec.GatewayID)
	case spec.PeeringID != "":
		in.VpcPeeringConnectionId = aws.String(spec.PeeringID)
	default:
		return errors.New("create route: no target")
	}
	_, err := p.api.CreateRoute(ctx, in)
	return mapErr("create route "+spec.Destination, err)
}

func (p *Plane) AssociateRouteTable(ctx context.Context, routeTableID, subnetID string) error {
	_, err := p.api.AssociateRouteTable(ctx, &awsec2.AssociateRouteTableInput{
		RouteTableId: aws.String(routeTableID),
		SubnetId:     aws.String(subnetID),
	})
	return mapErr("associate route table", err)
}

func (p *Plane) Routes(ctx context.Context, routeTableID string) ([]cloud.Route, error) {
	out, err := p.api.DescribeRouteTables(ctx, &awsec2.DescribeRouteTablesInput{RouteTableIds: []string{routeTableID}})
	if err != nil {
		return nil, mapErr("describe route table "+routeTableID, err)
	}
	if len(out.RouteTables) == 0 {
		return nil, fmt.Errorf("route table %s: %w", routeTableID, cloud.ErrNotFound)
	}
	routes := make([]cloud.Route, 0, len(out.RouteTables[0].Routes))
	for _, r := range out.RouteTables[0].Routes {
		routes = append(routes, cloud.Route{
			Destination: aws.ToString(r.DestinationCidrBlock),
			GatewayID:   aws.ToString(r.GatewayId),
			PeeringID:   aws.ToString(r.VpcPeeringConnectionId),
			State:       string(r.State),
		})
	}
	return routes, nil
}

func (p *Plane) CreatePeering(ctx context.Context, req cloud.PeeringRequest) (string, error) {
	out, err := p.api.CreateVpcPeeringConnection(ctx, &awsec2.CreateVpcPeeringConnectionInput{
		VpcId:             aws.String(req.NetworkID),
		PeerVpcId:         aws.String(req.PeerNetworkID),
		PeerRegion:        aws.String(req.PeerRegion),
		TagSpecifications: p.tags(types.ResourceTypeVpcPeeringConnection),
	})
	if err != nil {
		return "", mapErr("create peering to "+req.PeerRegion, err)
	}
	return aws.ToString(out.VpcPeeringConnection.VpcPeeringConnectionId), nil
}

func (p *Plane) AcceptPeering(ctx context.Context, peeringID string) error {
	_, err := p.api.AcceptVpcPeeringConnection(ctx, &awsec2.AcceptVpcPeeringConnectionInput{
		VpcPeeringConnectionId: aws.String(peeringID),
	})
	return mapErr("accept peering "+peeringID, err)
}

func (p *Plane) PeeringStatus(ctx context.Context, peeringID string) (string, error) {
	out, err := p.api.DescribeVpcPeeringConnections(ctx, &awsec2.DescribeVpcPeeringConnectionsInput{
		VpcPeeringConnectionIds: []string{peeringID},
	})
	if err != nil {
		return "", mapErr("describe peering "+peeringID, err)
	}
	if len(out.VpcPeeringConnections) == 0 || out.VpcPeeringConnections[0].Status == nil {
		return "", fmt.Errorf("peering %s: %w", peeringID, cloud.ErrNotFound)
	}
	return string(out.VpcPeeringConnections[0].Status.Code), nil
}

func (p *Plane) tags(rt types.ResourceType) []types.TagSpecification {
	return []types.TagSpecification{{
		ResourceType: rt,
		Tags:         []types.Tag{{Key: aws.String("Name"), Value: aws.String(NameTag + "-" + p.region)}},
	}}
}

// mapErr wraps err with op, translating EC2 "*.NotFound" codes into cloud.ErrNotFound. A nil
// err stays nil.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.HasSuffix(apiErr.ErrorCode(), ".NotFound") {
		return fmt.Errorf("%s: %w (%s)", op, cloud.ErrNotFound, apiErr.ErrorCode())
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ cloud.ControlPlane = (*Plane)(nil)
var _ cloud.Provider = (*Provider)(nil)
