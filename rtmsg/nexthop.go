package rtmsg

import (
	"net"

	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/mdlayher/netlink"
)

// SizeofNhmsg is the encoded size of struct nhmsg.
const SizeofNhmsg = 4

// Nhmsg is the fixed header of RTM_*NEXTHOP messages.
type Nhmsg struct {
	Family   uint8
	Scope    uint8
	Protocol uint8
}

func (h *Nhmsg) encode(b []byte) {
	b[0] = h.Family
	b[1] = h.Scope
	b[2] = h.Protocol
	b[3] = 0
}

func (h *Nhmsg) decode(b []byte) error {
	if len(b) < SizeofNhmsg {
		return nlerr.Truncated("nhmsg", SizeofNhmsg, len(b))
	}
	h.Family = b[0]
	h.Scope = b[1]
	h.Protocol = b[2]
	return nil
}

// NexthopGroupMember is one (id, weight) pair of a nexthop group.
type NexthopGroupMember struct {
	ID     uint32
	Weight uint8
}

// Nexthop is the typed model of an RTM_*NEXTHOP message: either a single
// hop (gateway/device/blackhole) or a group of weighted members with a
// multipath-vs-resilient policy. Onlink is not put on the wire by Build
// and is never set by ParseNexthop.
type Nexthop struct {
	Header Nhmsg

	ID        uint32
	OutIface  int32
	Gateway   net.IP
	Blackhole bool
	Onlink    bool

	Group     []NexthopGroupMember
	GroupType uint16 // NexthopGroupTypeMultipath or NexthopGroupTypeResilient
}

// IsGroup reports whether this nexthop is a group rather than a single hop.
func (n *Nexthop) IsGroup() bool { return len(n.Group) > 0 }

// Build encodes the nexthop into a full RTM message payload.
func (n *Nexthop) Build() ([]byte, error) {
	b := make([]byte, SizeofNhmsg)
	n.Header.encode(b)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	if n.ID != 0 {
		ae.Uint32(NHA_ID, n.ID)
	}
	if n.IsGroup() {
		ae.Do(NHA_GROUP, func() ([]byte, error) { return encodeNexthopGroup(n.Group), nil })
		ae.Uint16(NHA_GROUP_TYPE, n.GroupType)
	} else {
		if n.Blackhole {
			ae.Do(NHA_BLACKHOLE, func() ([]byte, error) { return nil, nil })
		} else {
			if n.OutIface != 0 {
				ae.Int32(NHA_OIF, n.OutIface)
			}
			if n.Gateway != nil {
				ae.Bytes(NHA_GATEWAY, familyBytes(n.Header.Family, n.Gateway))
			}
		}
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return append(b, attrs...), nil
}

// ParseNexthop decodes a full RTM_*NEXTHOP payload into a Nexthop.
func ParseNexthop(b []byte) (*Nexthop, error) {
	n := &Nexthop{}
	if err := n.Header.decode(b); err != nil {
		return nil, err
	}
	if len(b) == SizeofNhmsg {
		return n, nil
	}
	ad, err := netlink.NewAttributeDecoder(b[SizeofNhmsg:])
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = NativeEndian
	for ad.Next() {
		switch ad.Type() {
		case NHA_ID:
			n.ID = ad.Uint32()
		case NHA_OIF:
			n.OutIface = int32(ad.Uint32())
		case NHA_GATEWAY:
			n.Gateway = append(net.IP(nil), ad.Bytes()...)
		case NHA_BLACKHOLE:
			n.Blackhole = true
		case NHA_GROUP:
			n.Group = decodeNexthopGroup(ad.Bytes())
		case NHA_GROUP_TYPE:
			n.GroupType = ad.Uint16()
		}
	}
	if err := ad.Err(); err != nil {
		return nil, nlerr.ErrBadMsgData
	}
	return n, nil
}

// SizeofNexthopGrp is the encoded size of one struct nexthop_grp entry.
const SizeofNexthopGrp = 6 // id(u32) + weight(u8) + resvd1(u8)

func encodeNexthopGroup(members []NexthopGroupMember) []byte {
	out := make([]byte, 0, len(members)*SizeofNexthopGrp)
	for _, m := range members {
		entry := make([]byte, SizeofNexthopGrp)
		NativeEndian.PutUint32(entry[0:4], m.ID)
		entry[4] = m.Weight
		out = append(out, entry...)
	}
	return out
}

func decodeNexthopGroup(b []byte) []NexthopGroupMember {
	var members []NexthopGroupMember
	for i := 0; i+SizeofNexthopGrp <= len(b); i += SizeofNexthopGrp {
		members = append(members, NexthopGroupMember{
			ID:     NativeEndian.Uint32(b[i : i+4]),
			Weight: b[i+4],
		})
	}
	return members
}
