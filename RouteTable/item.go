package RouteTable

import "fmt"

type ItemKind uint8

const (
	VirtualRange ItemKind = iota
	RoutesFromPeerMetadata
	RoutesFromAllowedRanges
)

func (k ItemKind) String() string {
	switch k {
	case VirtualRange:
		return "virtual-range"
	case RoutesFromPeerMetadata:
		return "peer-metadata"
	case RoutesFromAllowedRanges:
		return "allowed-ranges"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Extend holds optional classification fields of an Item.
type Extend struct {
	ItemKind Option[ItemKind]
}

// Item is one route. It is copied by value and never modified once it is in
// a published table.
type Item struct {
	Cidr           Cidr
	Gateway        uint32
	InterfaceIndex uint
	Extend         Extend
}

func NewItem(cidr Cidr, gateway uint32, ifIndex uint, kind ItemKind) Item {
	return Item{
		Cidr:           cidr,
		Gateway:        gateway,
		InterfaceIndex: ifIndex,
		Extend:         Extend{ItemKind: Some(kind)},
	}
}

func (i Item) String() string {
	s := fmt.Sprintf("%s via %s dev %d", i.Cidr, Uint32ToAddr(i.Gateway), i.InterfaceIndex)
	if k, ok := i.Extend.ItemKind.Get(); ok {
		s += " kind " + k.String()
	}
	return s
}
