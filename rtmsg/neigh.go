package rtmsg

import (
	"net"

	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/mdlayher/netlink"
)

// Neighbor is the typed model of an RTM_*NEIGH message: an ARP/NDISC cache
// entry, or (when Header.Family is AF_BRIDGE) a bridge FDB entry.
type Neighbor struct {
	Header Ndmsg

	Dst    net.IP
	LLAddr net.HardwareAddr
	Vlan   uint16
	Vni    uint32
	Port   uint16
}

// IsReachable reports whether the neighbor is in the NUD_REACHABLE state.
func (n *Neighbor) IsReachable() bool { return n.Header.State&NUD_REACHABLE != 0 }

// IsPermanent reports whether the neighbor was statically configured.
func (n *Neighbor) IsPermanent() bool { return n.Header.State&NUD_PERMANENT != 0 }

// Build encodes the neighbor into a full RTM message payload.
func (n *Neighbor) Build() ([]byte, error) {
	b := make([]byte, SizeofNdmsg)
	n.Header.encode(b)

	ae := netlink.NewAttributeEncoder()
	ae.ByteOrder = NativeEndian
	if n.Dst != nil {
		ae.Bytes(NDA_DST, familyBytes(n.Header.Family, n.Dst))
	}
	if n.LLAddr != nil {
		ae.Bytes(NDA_LLADDR, n.LLAddr)
	}
	if n.Vlan != 0 {
		ae.Uint16(NDA_VLAN, n.Vlan)
	}
	if n.Vni != 0 {
		ae.Uint32(NDA_VNI, n.Vni)
	}
	if n.Port != 0 {
		ae.Uint16(NDA_PORT, n.Port)
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	return append(b, attrs...), nil
}

// ParseNeighbor decodes a full RTM_*NEIGH payload into a Neighbor. The same
// wire shape also carries FDB entries when Header.Family is
// AF_BRIDGE; FDBEntry below is a thin, semantically-named view over it.
func ParseNeighbor(b []byte) (*Neighbor, error) {
	n := &Neighbor{}
	if err := n.Header.decode(b); err != nil {
		return nil, err
	}
	if len(b) == SizeofNdmsg {
		return n, nil
	}
	ad, err := netlink.NewAttributeDecoder(b[SizeofNdmsg:])
	if err != nil {
		return nil, err
	}
	ad.ByteOrder = NativeEndian
	for ad.Next() {
		switch ad.Type() {
		case NDA_DST:
			n.Dst = append(net.IP(nil), ad.Bytes()...)
		case NDA_LLADDR:
			n.LLAddr = append(net.HardwareAddr(nil), ad.Bytes()...)
		case NDA_VLAN:
			n.Vlan = ad.Uint16()
		case NDA_VNI:
			n.Vni = ad.Uint32()
		case NDA_PORT:
			n.Port = ad.Uint16()
		}
	}
	if err := ad.Err(); err != nil {
		return nil, nlerr.ErrBadMsgData
	}
	return n, nil
}

// FDBEntry is a bridge forwarding-database record: (ifindex, mac, optional
// vlan, optional dst-ip for vxlan). It is built on the same Neighbor wire
// shape with Header.Family = AF_BRIDGE.
type FDBEntry struct {
	IfIndex int32
	Mac     net.HardwareAddr
	Vlan    uint16
	DstIP   net.IP // VXLAN remote endpoint, if any
	Permanent bool
}

// ToNeighbor renders the FDB entry as the Neighbor wire model RTM_*NEIGH
// with AF_BRIDGE expects.
func (f *FDBEntry) ToNeighbor() *Neighbor {
	state := uint16(NUD_NOARP)
	if f.Permanent {
		state = NUD_PERMANENT
	}
	n := &Neighbor{
		Header: Ndmsg{
			Family: AF_BRIDGE,
			Index:  f.IfIndex,
			State:  state,
			Flags:  NTF_SELF,
		},
		LLAddr: f.Mac,
		Vlan:   f.Vlan,
	}
	if f.DstIP != nil {
		n.Dst = f.DstIP
	}
	return n
}

// FDBEntryFromNeighbor extracts the FDB view from a parsed Neighbor.
func FDBEntryFromNeighbor(n *Neighbor) *FDBEntry {
	return &FDBEntry{
		IfIndex:   n.Header.Index,
		Mac:       n.LLAddr,
		Vlan:      n.Vlan,
		DstIP:     n.Dst,
		Permanent: n.IsPermanent(),
	}
}
