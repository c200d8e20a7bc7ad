package model

import (
	"fmt"
	"time"
)

// Snapshot is the checkpoint written after every region is provisioned. Networks are ordered by
// slot: Networks[i] was provisioned with slot i.
type Snapshot struct {
	Version   int64               `json:"version"`
	CreatedAt time.Time           `json:"createdAt"`
	Networks  []NetworkDescriptor `json:"networks"`
}

// NewSnapshot copies the descriptors into a fresh snapshot.
func NewSnapshot(networks []NetworkDescriptor) Snapshot {
	s := Snapshot{CreatedAt: time.Now().UTC(), Networks: make([]NetworkDescriptor, 0, len(networks))}
	for _, n := range networks {
		s.Networks = append(s.Networks, n.Clone())
	}
	return s
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Networks = make([]NetworkDescriptor, 0, len(s.Networks))
	for _, n := range s.Networks {
		out.Networks = append(out.Networks, n.Clone())
	}
	return out
}

// Validate checks every descriptor and rejects duplicate regions or address blocks.
func (s Snapshot) Validate() error {
	regions := make(map[string]int, len(s.Networks))
	blocks := make(map[string]int, len(s.Networks))
	for i, n := range s.Networks {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("network %d (%s): %w", i, n.Region, err)
		}
		if j, ok := regions[n.Region]; ok {
			return fmt.Errorf("network %d duplicates region %s of network %d", i, n.Region, j)
		}
		if j, ok := blocks[n.CIDR]; ok {
			return fmt.Errorf("network %d duplicates address block %s of network %d", i, n.CIDR, j)
		}
		regions[n.Region] = i
		blocks[n.CIDR] = i
	}
	return nil
}

// Regions returns the region of every network in slot order.
func (s Snapshot) Regions() []string {
	out := make([]string, 0, len(s.Networks))
	for _, n := range s.Networks {
		out = append(out, n.Region)
	}
	return out
}
