package provision

import (
	"fmt"
	"net/netip"
)

// MaxSlot is the largest slot that still yields a valid 10.<slot>.0.0/16 block.
const MaxSlot = 255

// NetworkCIDR returns the address block owned by slot.
func NetworkCIDR(slot int) (netip.Prefix, error) {
	if slot < 0 || slot > MaxSlot {
		return netip.Prefix{}, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(slot), 0, 0}), 16), nil
}

// SubnetCIDR returns the k-th /24 inside the slot's block.
func SubnetCIDR(slot, k int) (netip.Prefix, error) {
	if _, err := NetworkCIDR(slot); err != nil {
		return netip.Prefix{}, err
	}
	if k < 0 || k > 255 {
		return netip.Prefix{}, fmt.Errorf("subnet index %d out of range", k)
	}
	return netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(slot), byte(k), 0}), 24), nil
}
