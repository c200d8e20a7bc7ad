package model

import (
	"errors"
	"fmt"
)

// SubnetsPerNetwork is the number of zonal subnets every provisioned network carries.
const SubnetsPerNetwork = 3

// NetworkDescriptor captures one provisioned regional network. It is created once by the
// provisioner and treated as read-only afterwards.
type NetworkDescriptor struct {
	Region            string   `json:"region"`
	CIDR              string   `json:"address_block"`
	NetworkID         string   `json:"network_id"`
	InternetGatewayID string   `json:"internet_gateway_id"`
	SubnetIDs         []string `json:"subnet_ids"`
	RouteTableID      string   `json:"route_table_id"`
}

// Validate reports whether the descriptor is fully initialized.
func (n NetworkDescriptor) Validate() error {
	var errs []error
	if n.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if n.CIDR == "" {
		errs = append(errs, errors.New("address_block is required"))
	}
	if n.NetworkID == "" {
		errs = append(errs, errors.New("network_id is required"))
	}
	if n.InternetGatewayID == "" {
		errs = append(errs, errors.New("internet_gateway_id is required"))
	}
	if n.RouteTableID == "" {
		errs = append(errs, errors.New("route_table_id is required"))
	}
	if len(n.SubnetIDs) != SubnetsPerNetwork {
		errs = append(errs, fmt.Errorf("expected %d subnet ids, got %d", SubnetsPerNetwork, len(n.SubnetIDs)))
	}
	for i, id := range n.SubnetIDs {
		if id == "" {
			errs = append(errs, fmt.Errorf("subnet_ids[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy so callers never share the subnet slice.
func (n NetworkDescriptor) Clone() NetworkDescriptor {
	n.SubnetIDs = append([]string(nil), n.SubnetIDs...)
	return n
}
