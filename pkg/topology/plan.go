package topology

import (
	"sort"

	"vpc-mesh/pkg/model"
)

// ExpectedRoute is a route a network must hold once the mesh is complete.
type ExpectedRoute struct {
	PeerIndex   int    `json:"peerIndex"`
	PeerRegion  string `json:"peerRegion"`
	Destination string `json:"destination"`
}

// RoutePlan derives the full-mesh route list for the network at index target: one route per
// other network, pointing at that network's address block. Networks with no address block are
// skipped. Routes are ordered by destination.
func RoutePlan(target int, networks []model.NetworkDescriptor) []ExpectedRoute {
	if target < 0 || target >= len(networks) {
		return nil
	}
	var out []ExpectedRoute
	seen := make(map[string]bool, len(networks))
	for i, n := range networks {
		if i == target || n.CIDR == "" || seen[n.CIDR] {
			continue
		}
		seen[n.CIDR] = true
		out = append(out, ExpectedRoute{PeerIndex: i, PeerRegion: n.Region, Destination: n.CIDR})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Destination < out[j].Destination
	})
	return out
}

// IndexOf returns the index of region in networks, or -1.
func IndexOf(region string, networks []model.NetworkDescriptor) int {
	for i, n := range networks {
		if n.Region == region {
			return i
		}
	}
	return -1
}
