// Package export renders a built mesh as Terraform import blocks so the resources can be
// adopted into Terraform state.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"vpc-mesh/pkg/model"
)

// SanitizeName converts a region or id to a Terraform-safe name (eu-west-1 -> eu_west_1).
func SanitizeName(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}

// Terraform renders one aliased aws provider per region, import blocks for every resource of
// the snapshot and of the given links, and a locals block mapping regions to address blocks.
func Terraform(snap model.Snapshot, links []model.PeeringLink) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	for _, n := range snap.Networks {
		provider := body.AppendNewBlock("provider", []string{"aws"})
		provider.Body().SetAttributeValue("alias", cty.StringVal(SanitizeName(n.Region)))
		provider.Body().SetAttributeValue("region", cty.StringVal(n.Region))
		body.AppendNewline()
	}

	for _, n := range snap.Networks {
		name := SanitizeName(n.Region)
		importBlock(body, "aws_vpc", name, n.NetworkID, name)
		importBlock(body, "aws_internet_gateway", name, n.InternetGatewayID, name)
		for k, id := range n.SubnetIDs {
			importBlock(body, "aws_subnet", fmt.Sprintf("%s_%d", name, k), id, name)
		}
		importBlock(body, "aws_route_table", name, n.RouteTableID, name)
	}

	sorted := append([]model.PeeringLink(nil), links...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Edge.A != sorted[j].Edge.A {
			return sorted[i].Edge.A < sorted[j].Edge.A
		}
		return sorted[i].Edge.B < sorted[j].Edge.B
	})
	for _, l := range sorted {
		if l.PeeringID == "" {
			continue
		}
		name := SanitizeName(l.Requester.Region) + "_to_" + SanitizeName(l.Accepter.Region)
		importBlock(body, "aws_vpc_peering_connection", name, l.PeeringID, SanitizeName(l.Requester.Region))
		importBlock(body, "aws_vpc_peering_connection_accepter", name, l.PeeringID, SanitizeName(l.Accepter.Region))
	}

	if len(snap.Networks) > 0 {
		blocks := make(map[string]cty.Value, len(snap.Networks))
		for _, n := range snap.Networks {
			blocks[SanitizeName(n.Region)] = cty.StringVal(n.CIDR)
		}
		locals := body.AppendNewBlock("locals", nil)
		locals.Body().SetAttributeValue("mesh_address_blocks", cty.ObjectVal(blocks))
	}
	return hclwrite.Format(f.Bytes())
}

func importBlock(body *hclwrite.Body, resourceType, name, id, providerAlias string) {
	if id == "" {
		return
	}
	b := body.AppendNewBlock("import", nil).Body()
	b.SetAttributeTraversal("to", hcl.Traversal{
		hcl.TraverseRoot{Name: resourceType},
		hcl.TraverseAttr{Name: name},
	})
	b.SetAttributeValue("id", cty.StringVal(id))
	b.SetAttributeTraversal("provider", hcl.Traversal{
		hcl.TraverseRoot{Name: "aws"},
		hcl.TraverseAttr{Name: providerAlias},
	})
	body.AppendNewline()
}
