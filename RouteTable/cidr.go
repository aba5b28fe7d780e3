package RouteTable

import (
	"encoding/binary"
	"net/netip"

	"github.com/pkg/errors"
)

var ErrInvalidCidr = errors.New("invalid cidr")

// Cidr is an IPv4 network prefix. Host bits beyond PrefixLen are allowed
// and are ignored by Contains.
type Cidr struct {
	Addr      uint32
	PrefixLen uint8
}

func ParseCidr(s string) (Cidr, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return Cidr{}, errors.Wrap(err, "parse cidr")
	}
	return CidrFromPrefix(p)
}

func MustParseCidr(s string) Cidr {
	c, err := ParseCidr(s)
	if err != nil {
		panic(err)
	}
	return c
}

func CidrFromPrefix(p netip.Prefix) (Cidr, error) {
	if !p.IsValid() || !p.Addr().Is4() {
		return Cidr{}, errors.Wrapf(ErrInvalidCidr, "%s is not an IPv4 prefix", p)
	}
	return Cidr{Addr: AddrToUint32(p.Addr()), PrefixLen: uint8(p.Bits())}, nil
}

func (c Cidr) Valid() bool {
	return c.PrefixLen <= 32
}

func (c Cidr) Mask() uint32 {
	if c.PrefixLen == 0 {
		return 0
	}
	return ^uint32(0) << (32 - c.PrefixLen)
}

func (c Cidr) Contains(addr uint32) bool {
	m := c.Mask()
	return addr&m == c.Addr&m
}

func (c Cidr) Prefix() netip.Prefix {
	return netip.PrefixFrom(Uint32ToAddr(c.Addr), int(c.PrefixLen))
}

func (c Cidr) String() string {
	return c.Prefix().String()
}

func AddrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func Uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
