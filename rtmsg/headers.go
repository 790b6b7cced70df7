package rtmsg

import "github.com/m-lab/netlinkctl/nlerr"

// Fixed-size message headers, one per rtnetlink(7) object kind. Each is
// read and written at named byte offsets rather than by reinterpreting the
// byte slice as a Go struct: a netlink peer is untrusted input, and Go
// gives no safe way to alias arbitrary bytes as an arbitrary struct type
// the way the kernel's own C headers do.

// SizeofIfInfomsg is the encoded size of ifinfomsg.
const SizeofIfInfomsg = 16

// IfInfomsg is the fixed header of RTM_*LINK messages.
type IfInfomsg struct {
	Family uint8
	// Type is the ARPHRD_* device type.
	Type  uint16
	Index int32
	Flags uint32
	Change uint32
}

func (h *IfInfomsg) encode(b []byte) {
	b[0] = h.Family
	b[1] = 0 // pad
	NativeEndian.PutUint16(b[2:4], h.Type)
	NativeEndian.PutUint32(b[4:8], uint32(h.Index))
	NativeEndian.PutUint32(b[8:12], h.Flags)
	NativeEndian.PutUint32(b[12:16], h.Change)
}

func (h *IfInfomsg) decode(b []byte) error {
	if len(b) < SizeofIfInfomsg {
		return nlerr.Truncated("ifinfomsg", SizeofIfInfomsg, len(b))
	}
	h.Family = b[0]
	h.Type = NativeEndian.Uint16(b[2:4])
	h.Index = int32(NativeEndian.Uint32(b[4:8]))
	h.Flags = NativeEndian.Uint32(b[8:12])
	h.Change = NativeEndian.Uint32(b[12:16])
	return nil
}

// SizeofIfAddrmsg is the encoded size of ifaddrmsg.
const SizeofIfAddrmsg = 8

// IfAddrmsg is the fixed header of RTM_*ADDR messages.
type IfAddrmsg struct {
	Family    uint8
	PrefixLen uint8
	Flags     uint8
	Scope     uint8
	Index     uint32
}

func (h *IfAddrmsg) encode(b []byte) {
	b[0] = h.Family
	b[1] = h.PrefixLen
	b[2] = h.Flags
	b[3] = h.Scope
	NativeEndian.PutUint32(b[4:8], h.Index)
}

func (h *IfAddrmsg) decode(b []byte) error {
	if len(b) < SizeofIfAddrmsg {
		return nlerr.Truncated("ifaddrmsg", SizeofIfAddrmsg, len(b))
	}
	h.Family = b[0]
	h.PrefixLen = b[1]
	h.Flags = b[2]
	h.Scope = b[3]
	h.Index = NativeEndian.Uint32(b[4:8])
	return nil
}

// SizeofRtmsg is the encoded size of struct rtmsg.
const SizeofRtmsg = 12

// Rtmsg is the fixed header of RTM_*ROUTE and RTM_*RULE messages.
type Rtmsg struct {
	Family   uint8
	DstLen   uint8
	SrcLen   uint8
	Tos      uint8
	Table    uint8
	Protocol uint8
	Scope    uint8
	Type     uint8
	Flags    uint32
}

func (h *Rtmsg) encode(b []byte) {
	b[0] = h.Family
	b[1] = h.DstLen
	b[2] = h.SrcLen
	b[3] = h.Tos
	b[4] = h.Table
	b[5] = h.Protocol
	b[6] = h.Scope
	b[7] = h.Type
	NativeEndian.PutUint32(b[8:12], h.Flags)
}

func (h *Rtmsg) decode(b []byte) error {
	if len(b) < SizeofRtmsg {
		return nlerr.Truncated("rtmsg", SizeofRtmsg, len(b))
	}
	h.Family = b[0]
	h.DstLen = b[1]
	h.SrcLen = b[2]
	h.Tos = b[3]
	h.Table = b[4]
	h.Protocol = b[5]
	h.Scope = b[6]
	h.Type = b[7]
	h.Flags = NativeEndian.Uint32(b[8:12])
	return nil
}

// SizeofNdmsg is the encoded size of struct ndmsg.
const SizeofNdmsg = 12

// Ndmsg is the fixed header of RTM_*NEIGH messages.
type Ndmsg struct {
	Family  uint8
	Index   int32
	State   uint16
	Flags   uint8
	NdmType uint8
}

func (h *Ndmsg) encode(b []byte) {
	b[0] = h.Family
	b[1], b[2], b[3] = 0, 0, 0
	NativeEndian.PutUint32(b[4:8], uint32(h.Index))
	NativeEndian.PutUint16(b[8:10], h.State)
	b[10] = h.Flags
	b[11] = h.NdmType
}

func (h *Ndmsg) decode(b []byte) error {
	if len(b) < SizeofNdmsg {
		return nlerr.Truncated("ndmsg", SizeofNdmsg, len(b))
	}
	h.Family = b[0]
	h.Index = int32(NativeEndian.Uint32(b[4:8]))
	h.State = NativeEndian.Uint16(b[8:10])
	h.Flags = b[10]
	h.NdmType = b[11]
	return nil
}

// SizeofTcmsg is the encoded size of struct tcmsg.
const SizeofTcmsg = 20

// Tcmsg is the fixed header of qdisc, class, filter, and action messages.
type Tcmsg struct {
	Family  uint8
	Index   int32
	Handle  uint32
	Parent  uint32
	Info    uint32
}

func (h *Tcmsg) encode(b []byte) {
	b[0] = h.Family
	b[1], b[2], b[3] = 0, 0, 0
	NativeEndian.PutUint32(b[4:8], uint32(h.Index))
	NativeEndian.PutUint32(b[8:12], h.Handle)
	NativeEndian.PutUint32(b[12:16], h.Parent)
	NativeEndian.PutUint32(b[16:20], h.Info)
}

func (h *Tcmsg) decode(b []byte) error {
	if len(b) < SizeofTcmsg {
		return nlerr.Truncated("tcmsg", SizeofTcmsg, len(b))
	}
	h.Family = b[0]
	h.Index = int32(NativeEndian.Uint32(b[4:8]))
	h.Handle = NativeEndian.Uint32(b[8:12])
	h.Parent = NativeEndian.Uint32(b[12:16])
	h.Info = NativeEndian.Uint32(b[16:20])
	return nil
}

// TC handle helpers. A handle of 0xFFFFFFFF is the root; 0xFFFFFFF1 is
// ingress; qdisc handles are major:minor 16-bit pairs.
const (
	TcHandleRoot    = 0xFFFFFFFF
	TcHandleIngress = 0xFFFFFFF1
)

// MakeHandle packs a major:minor pair into a single handle the way `tc`
// does: major in the high 16 bits, minor in the low 16 bits.
func MakeHandle(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}
