package Interfaces

import (
	"encoding/binary"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/pkg/errors"
)

var errNotIPv4 = errors.New("not an IPv4 packet")

// ParseIPv4 returns source and destination of an IPv4 packet as integers.
func ParseIPv4(packet []byte) (src, dst uint32, err error) {
	if len(packet) == 0 || parseIPVersion(packet[0]) != 4 {
		return 0, 0, errNotIPv4
	}
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(packet, gopacket.NilDecodeFeedback); err != nil {
		return 0, 0, errors.Wrap(err, "decoding IPv4 header")
	}
	return binary.BigEndian.Uint32(ip.SrcIP.To4()), binary.BigEndian.Uint32(ip.DstIP.To4()), nil
}

func parseIPVersion(v byte) int {
	return int(v >> 4)
}
