package inetdiag

import (
	"encoding/binary"
	"net"

	"github.com/m-lab/netlinkctl/tcp"
	"golang.org/x/sys/unix"
)

// Extension ids a SOCK_DIAG_BY_FAMILY request can ask for, and the
// attribute ids the kernel answers with, from uapi/linux/inet_diag.h.
const (
	INET_DIAG_NONE = iota
	INET_DIAG_MEMINFO
	INET_DIAG_INFO
	INET_DIAG_VEGASINFO
	INET_DIAG_CONG
	INET_DIAG_TOS
	INET_DIAG_TCLASS
	INET_DIAG_SKMEMINFO
	INET_DIAG_SHUTDOWN
	INET_DIAG_DCTCPINFO
	INET_DIAG_PROTOCOL
	INET_DIAG_SKV6ONLY
	INET_DIAG_LOCALS
	INET_DIAG_PEERS
	INET_DIAG_PAD
	INET_DIAG_MARK
	INET_DIAG_BBRINFO
	INET_DIAG_CLASS_ID
	INET_DIAG_MD5SIG
)

// ExtensionBit converts an INET_DIAG_* extension id into the request-side
// IDiagExt bit that asks for it, matching the kernel's 1 << (ext - 1).
func ExtensionBit(ext uint8) uint8 {
	if ext == INET_DIAG_NONE {
		return 0
	}
	return 1 << (ext - 1)
}

// StateMask is a bitmask of TCP states for IDiagStates: bit N selects
// tcp.State N.
type StateMask uint32

// Mask returns the single-state mask selecting s.
func Mask(s tcp.State) StateMask { return 1 << uint(s) }

// AllStates selects every TCP state, corresponding to TCPF_ALL.
const AllStates StateMask = tcp.AllFlags

// ConnectedStates selects the states of established data-carrying
// connections: everything except LISTEN, CLOSE, TIME_WAIT and SYN_RECV.
func ConnectedStates() StateMask {
	return AllStates &^ (Mask(tcp.LISTEN) | Mask(tcp.CLOSE) | Mask(tcp.TIME_WAIT) | Mask(tcp.SYN_RECV))
}

// ListenStates selects only listening sockets.
func ListenStates() StateMask { return Mask(tcp.LISTEN) }

// InetFilter selects which inet sockets a dump reports. The zero
// value selects nothing useful; at minimum set Protocol and States.
type InetFilter struct {
	// Protocol is unix.IPPROTO_TCP/UDP/SCTP/DCCP/MPTCP or 255 for raw.
	Protocol uint8
	// Family is unix.AF_INET, unix.AF_INET6, or unix.AF_UNSPEC for both.
	Family uint8
	States StateMask

	// Optional socket-identity selectors, applied by the kernel when the
	// corresponding field is nonzero.
	Local      net.IP
	Remote     net.IP
	LocalPort  uint16
	RemotePort uint16
	Interface  uint32

	// Mark/MarkMask and CgroupID are expressed as INET_DIAG_REQ_BYTECODE
	// conditions; either is skipped when zero.
	Mark     uint32
	MarkMask uint32
	CgroupID uint64

	// Extensions is the IDiagExt bitmask of requested auxiliary records;
	// build it by OR-ing ExtensionBit values.
	Extensions uint8
}

// families returns the concrete address families the filter covers.
func (f *InetFilter) families() []uint8 {
	if f.Family == unix.AF_UNSPEC {
		return []uint8{unix.AF_INET, unix.AF_INET6}
	}
	return []uint8{f.Family}
}

// request renders the filter as one ReqV2 for a specific family.
func (f *InetFilter) request(family uint8) *ReqV2 {
	req := NewReqV2(family, f.Protocol, uint32(f.States))
	req.IDiagExt = f.Extensions
	if f.LocalPort != 0 {
		binary.BigEndian.PutUint16(req.ID.IDiagSPort[:], f.LocalPort)
	}
	if f.RemotePort != 0 {
		binary.BigEndian.PutUint16(req.ID.IDiagDPort[:], f.RemotePort)
	}
	if f.Local != nil {
		putDiagIP(&req.ID.IDiagSrc, f.Local)
	}
	if f.Remote != nil {
		putDiagIP(&req.ID.IDiagDst, f.Remote)
	}
	if f.Interface != 0 {
		binary.BigEndian.PutUint32(req.ID.IDiagIf[:], f.Interface)
	}
	return req
}

func putDiagIP(dst *ipType, ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		copy(dst[0:4], v4)
		return
	}
	copy(dst[:], ip.To16())
}

// Bytecode condition opcodes, from uapi/linux/inet_diag.h.
const (
	INET_DIAG_BC_NOP = iota
	INET_DIAG_BC_JMP
	INET_DIAG_BC_S_GE
	INET_DIAG_BC_S_LE
	INET_DIAG_BC_D_GE
	INET_DIAG_BC_D_LE
	INET_DIAG_BC_AUTO
	INET_DIAG_BC_S_COND
	INET_DIAG_BC_D_COND
	INET_DIAG_BC_DEV_COND
	INET_DIAG_BC_MARK_COND
	INET_DIAG_BC_S_EQ
	INET_DIAG_BC_D_EQ
	INET_DIAG_BC_CGROUP_COND
)

// INET_DIAG_REQ_BYTECODE is the request attribute carrying filter bytecode.
const INET_DIAG_REQ_BYTECODE = 1

const sizeofBcOp = 4 // inet_diag_bc_op: code u8, yes u8, no u16

// bcOp appends one bytecode op with its condition payload. A failed
// condition jumps past the end of the program, which the kernel treats as
// reject.
func bcOp(out []byte, code uint8, cond []byte) []byte {
	yes := uint8(sizeofBcOp + len(cond))
	op := make([]byte, sizeofBcOp, int(yes))
	op[0] = code
	op[1] = yes
	binary.LittleEndian.PutUint16(op[2:4], uint16(yes)+sizeofBcOp)
	op = append(op, cond...)
	return append(out, op...)
}

// bytecode renders the mark and cgroup conditions, or nil if neither is
// requested.
func (f *InetFilter) bytecode() []byte {
	var out []byte
	if f.Mark != 0 || f.MarkMask != 0 {
		cond := make([]byte, 8)
		binary.LittleEndian.PutUint32(cond[0:4], f.Mark)
		binary.LittleEndian.PutUint32(cond[4:8], f.MarkMask)
		out = bcOp(out, INET_DIAG_BC_MARK_COND, cond)
	}
	if f.CgroupID != 0 {
		cond := make([]byte, 8)
		binary.LittleEndian.PutUint64(cond, f.CgroupID)
		out = bcOp(out, INET_DIAG_BC_CGROUP_COND, cond)
	}
	// Point every op's failure jump past the end of the whole program.
	for off := 0; off < len(out); off += int(out[off+1]) {
		binary.LittleEndian.PutUint16(out[off+2:off+4], uint16(len(out)-off+sizeofBcOp))
	}
	return out
}

// payloads renders the filter as one serialized request body per family,
// each a ReqV2 followed by the optional bytecode attribute.
func (f *InetFilter) payloads() [][]byte {
	bc := f.bytecode()
	var out [][]byte
	for _, fam := range f.families() {
		body := f.request(fam).Serialize()
		if bc != nil {
			body = appendRtAttr(body, INET_DIAG_REQ_BYTECODE, bc)
		}
		out = append(out, body)
	}
	return out
}

// appendRtAttr appends one rtattr-framed attribute to a request body.
func appendRtAttr(body []byte, attrType uint16, value []byte) []byte {
	alen := rtaAlignOf(4 + len(value))
	attr := make([]byte, alen)
	binary.LittleEndian.PutUint16(attr[0:2], uint16(4+len(value)))
	binary.LittleEndian.PutUint16(attr[2:4], attrType)
	copy(attr[4:], value)
	return append(body, attr...)
}

// Unix-domain socket dump constants, from uapi/linux/unix_diag.h.
const (
	UDIAG_SHOW_NAME    = 1 << 0
	UDIAG_SHOW_VFS     = 1 << 1
	UDIAG_SHOW_PEER    = 1 << 2
	UDIAG_SHOW_ICONS   = 1 << 3
	UDIAG_SHOW_RQLEN   = 1 << 4
	UDIAG_SHOW_MEMINFO = 1 << 5
	UDIAG_SHOW_UID     = 1 << 6
)

const (
	UNIX_DIAG_NAME = iota
	UNIX_DIAG_VFS
	UNIX_DIAG_PEER
	UNIX_DIAG_ICONS
	UNIX_DIAG_RQLEN
	UNIX_DIAG_MEMINFO
	UNIX_DIAG_SHUTDOWN
	UNIX_DIAG_UID
)

// UnixFilter selects which unix-domain sockets a dump reports.
type UnixFilter struct {
	// Types is a bitset of socket types: bit unix.SOCK_STREAM selects
	// stream sockets, etc. Zero selects every type. Type filtering is
	// applied client-side; the kernel's unix dump has no type selector.
	Types uint32
	// States is a bitmask of socket states (bit tcp.LISTEN for listening,
	// bit tcp.ESTABLISHED for connected); zero means all.
	States uint32
	// Show is the UDIAG_SHOW_* mask of requested attribute groups.
	Show uint32
	// Inode restricts the dump to one socket when nonzero.
	Inode uint32
	// PathSubstring, when nonempty, keeps only sockets whose bound path
	// contains it; applied client-side.
	PathSubstring string
}

// SizeofUnixDiagReq is the encoded size of struct unix_diag_req.
const SizeofUnixDiagReq = 24

func (f *UnixFilter) payload() []byte {
	states := f.States
	if states == 0 {
		states = ^uint32(0)
	}
	b := make([]byte, SizeofUnixDiagReq)
	b[0] = unix.AF_UNIX
	binary.LittleEndian.PutUint32(b[4:8], states)
	binary.LittleEndian.PutUint32(b[8:12], f.Inode)
	binary.LittleEndian.PutUint32(b[12:16], f.Show)
	// udiag_cookie: ~0 means "any", matching ss.
	binary.LittleEndian.PutUint32(b[16:20], ^uint32(0))
	binary.LittleEndian.PutUint32(b[20:24], ^uint32(0))
	return b
}

// Netlink socket dump constants, from uapi/linux/netlink_diag.h.
const (
	NDIAG_SHOW_MEMINFO  = 1 << 0
	NDIAG_SHOW_GROUPS   = 1 << 1
	NDIAG_SHOW_RING_CFG = 1 << 2

	NDIAG_PROTO_ALL = 255
)

const (
	NETLINK_DIAG_MEMINFO = iota
	NETLINK_DIAG_GROUPS
	NETLINK_DIAG_RX_RING
	NETLINK_DIAG_TX_RING
)

// NetlinkFilter selects which netlink sockets a dump reports.
type NetlinkFilter struct {
	// Protocol is one NETLINK_* family, or NDIAG_PROTO_ALL for every one.
	Protocol uint8
	// Show is the NDIAG_SHOW_* mask.
	Show uint32
}

// SizeofNetlinkDiagReq is the encoded size of struct netlink_diag_req.
const SizeofNetlinkDiagReq = 20

func (f *NetlinkFilter) payload() []byte {
	b := make([]byte, SizeofNetlinkDiagReq)
	b[0] = unix.AF_NETLINK
	b[1] = f.Protocol
	binary.LittleEndian.PutUint32(b[8:12], f.Show)
	return b
}

// Packet socket dump constants, from uapi/linux/packet_diag.h.
const (
	PACKET_SHOW_INFO     = 1 << 0
	PACKET_SHOW_MCLIST   = 1 << 1
	PACKET_SHOW_RING_CFG = 1 << 2
	PACKET_SHOW_FANOUT   = 1 << 3
	PACKET_SHOW_MEMINFO  = 1 << 4
	PACKET_SHOW_FILTER   = 1 << 5
)

const (
	PACKET_DIAG_INFO = iota
	PACKET_DIAG_MCLIST
	PACKET_DIAG_RX_RING
	PACKET_DIAG_TX_RING
	PACKET_DIAG_FANOUT
	PACKET_DIAG_UID
	PACKET_DIAG_MEMINFO
	PACKET_DIAG_FILTER
)

// PacketFilter selects which AF_PACKET sockets a dump reports.
type PacketFilter struct {
	// Show is the PACKET_SHOW_* mask.
	Show uint32
}

// SizeofPacketDiagReq is the encoded size of struct packet_diag_req.
const SizeofPacketDiagReq = 16

func (f *PacketFilter) payload() []byte {
	b := make([]byte, SizeofPacketDiagReq)
	b[0] = unix.AF_PACKET
	binary.LittleEndian.PutUint32(b[8:12], f.Show)
	return b
}
