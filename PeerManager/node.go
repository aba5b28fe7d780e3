package PeerManager

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// NodeID identifies the peer that owns a set of announced routes.
type NodeID uint64

func NewNodeID() NodeID {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return NodeID(binary.LittleEndian.Uint64(buf[:]))
}

func (id NodeID) String() string {
	return fmt.Sprintf("%016X", uint64(id))
}
