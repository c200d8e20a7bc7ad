package mesh

import (
	"context"
	"fmt"

	"vpc-mesh/pkg/cloud"
	"vpc-mesh/pkg/model"
	"vpc-mesh/pkg/topology"
)

// RouteCheck is the verification result of one expected route.
type RouteCheck struct {
	Region       string `json:"region"`
	RouteTableID string `json:"routeTableId"`
	Destination  string `json:"destination"`
	PeerRegion   string `json:"peerRegion"`
	PeeringID    string `json:"peeringId,omitempty"`
	State        string `json:"state,omitempty"`
	Present      bool   `json:"present"`
}

// OK reports whether the route exists over a peering and is active.
func (c RouteCheck) OK() bool {
	return c.Present && c.State == cloud.RouteStateActive
}

// Verification lists every expected route of a mesh.
type Verification struct {
	Checks []RouteCheck `json:"checks"`
}

// Failed returns the checks that did not pass.
func (v Verification) Failed() []RouteCheck {
	var out []RouteCheck
	for _, c := range v.Checks {
		if !c.OK() {
			out = append(out, c)
		}
	}
	return out
}

// OK reports whether every expected route is present and active.
func (v Verification) OK() bool { return len(v.Failed()) == 0 }

// Verify reads every network's route table and checks it holds an active peering route to every
// other network of the snapshot.
func (o *Orchestrator) Verify(ctx context.Context, snap model.Snapshot) (Verification, error) {
	var v Verification
	for i, n := range snap.Networks {
		cp, err := o.provider.Region(ctx, n.Region)
		if err != nil {
			return v, fmt.Errorf("mesh: verify %s: %w", n.Region, err)
		}
		routes, err := cp.Routes(ctx, n.RouteTableID)
		if err != nil {
			return v, fmt.Errorf("mesh: verify %s: read %s: %w", n.Region, n.RouteTableID, err)
		}
		for _, want := range topology.RoutePlan(i, snap.Networks) {
			check := RouteCheck{
				Region:       n.Region,
				RouteTableID: n.RouteTableID,
				Destination:  want.Destination,
				PeerRegion:   want.PeerRegion,
			}
			for _, rt := range routes {
				if rt.Destination == want.Destination && rt.PeeringID != "" {
					check.Present = true
					check.PeeringID = rt.PeeringID
					check.State = rt.State
					break
				}
			}
			v.Checks = append(v.Checks, check)
		}
	}
	failed := len(v.Failed())
	o.log.Info().Int("expected", len(v.Checks)).Int("failed", failed).Msg("mesh verified")
	return v, nil
}

// Links rebuilds the peering links of snap from the peering ids found in its route tables. The
// lower slot of each edge is the requester, as during linking.
func (v Verification) Links(snap model.Snapshot) []model.PeeringLink {
	slots := make(map[string]int, len(snap.Networks))
	for i, n := range snap.Networks {
		slots[n.Region] = i
	}
	seen := make(map[model.Edge]bool)
	var links []model.PeeringLink
	for _, c := range v.Checks {
		if c.PeeringID == "" {
			continue
		}
		i, okA := slots[c.Region]
		j, okB := slots[c.PeerRegion]
		if !okA || !okB {
			continue
		}
		e := model.NewEdge(i, j)
		if seen[e] {
			continue
		}
		seen[e] = true
		state := model.LinkPendingAcceptance
		if c.OK() {
			state = model.LinkActive
		}
		links = append(links, model.PeeringLink{
			PeeringID: c.PeeringID,
			Edge:      e,
			Requester: snap.Networks[e.A],
			Accepter:  snap.Networks[e.B],
			State:     state,
		})
	}
	return links
}
