package PeerManager

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"arrayrt/RouteTable"
)

const maxFrameLen = 1 << 20

var ErrFrameTooLarge = errors.New("frame too large")

type WireRoute struct {
	Cidr           RouteTable.Cidr
	Gateway        uint32
	InterfaceIndex uint
}

// RouteUpdate is what a node sends to announce and withdraw its routes.
type RouteUpdate struct {
	NodeID   NodeID
	Announce []WireRoute
	Withdraw []RouteTable.Cidr
}

type RouteReply struct {
	Generation uint64
	Rejected   uint32
}

func appendCidr(b []byte, c RouteTable.Cidr) []byte {
	b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, c.Addr)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(c.PrefixLen))
}

func (u *RouteUpdate) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(u.NodeID))
	for _, r := range u.Announce {
		var m []byte
		m = appendCidr(m, r.Cidr)
		m = protowire.AppendTag(m, 3, protowire.Fixed32Type)
		m = protowire.AppendFixed32(m, r.Gateway)
		m = protowire.AppendTag(m, 4, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(r.InterfaceIndex))
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	for _, c := range u.Withdraw {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, appendCidr(nil, c))
	}
	return b
}

func (u *RouteUpdate) Unmarshal(b []byte) error {
	*u = RouteUpdate{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			u.NodeID = NodeID(v)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var r WireRoute
			if err := r.unmarshal(v); err != nil {
				return 0, err
			}
			u.Announce = append(u.Announce, r)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var c RouteTable.Cidr
			if err := unmarshalCidr(&c, v); err != nil {
				return 0, err
			}
			u.Withdraw = append(u.Withdraw, c)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (r *WireRoute) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 3 && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			r.Gateway = v
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.InterfaceIndex = uint(v)
			return n, nil
		}
		return consumeCidrField(&r.Cidr, num, typ, b)
	})
}

func unmarshalCidr(c *RouteTable.Cidr, b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		return consumeCidrField(c, num, typ, b)
	})
}

func consumeCidrField(c *RouteTable.Cidr, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch {
	case num == 1 && typ == protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(b)
		c.Addr = v
		return n, nil
	case num == 2 && typ == protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 && v > 32 {
			return 0, errors.Wrapf(RouteTable.ErrInvalidCidr, "prefix length %d", v)
		}
		c.PrefixLen = uint8(v)
		return n, nil
	}
	return protowire.ConsumeFieldValue(num, typ, b), nil
}

func (r *RouteReply) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Generation)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(r.Rejected))
}

func (r *RouteReply) Unmarshal(b []byte) error {
	*r = RouteReply{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Generation = v
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Rejected = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "tag")
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return errors.Wrapf(protowire.ParseError(m), "field %d", num)
		}
		b = b[m:]
	}
	return nil
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameLen {
		return ErrFrameTooLarge
	}
	final := make([]byte, 4, len(data)+4)
	binary.BigEndian.PutUint32(final, uint32(len(data)))
	final = append(final, data...)
	_, err := w.Write(final)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	lengthB := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthB); err != nil {
		return nil, errors.Wrap(err, "reading frame length")
	}
	length := binary.BigEndian.Uint32(lengthB)
	if length > maxFrameLen {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrap(err, "reading frame")
	}
	return data, nil
}
