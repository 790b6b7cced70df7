package inetdiag

import (
	"encoding/binary"
	"strings"
	"unsafe"

	"github.com/m-lab/netlinkctl/netlink"
	"github.com/m-lab/netlinkctl/request"
	"github.com/m-lab/netlinkctl/tcp"
	"github.com/m-lab/uuid"
	"github.com/vishvananda/netlink/nl"
)

// Kind tags which socket family a SocketInfo describes.
type Kind int

const (
	KindInet Kind = iota
	KindUnix
	KindNetlink
	KindPacket
)

// SocketInfo is one decoded SOCK_DIAG_BY_FAMILY response: exactly one of
// the typed fields is non-nil, selected by Kind.
type SocketInfo struct {
	Kind Kind

	Inet    *InetSocket
	Unix    *UnixSocket
	Netlink *NetlinkSocket
	Packet  *PacketSocket
}

// InetSocket is an inet_diag_msg plus whatever extension records the
// request asked for.
type InetSocket struct {
	Msg *InetDiagMsg

	TCPInfo    *tcp.LinuxTCPInfo
	MemInfo    *MemInfo
	SkMemInfo  *SocketMemInfo
	Congestion string
	TOS        uint8
	TClass     uint8
	Mark       uint32
}

// State returns the socket's TCP state.
func (s *InetSocket) State() tcp.State { return tcp.State(s.Msg.IDiagState) }

// UUID derives the globally unique socket identifier from the kernel's
// socket cookie, the same id the M-Lab pipeline stamps on connections.
func (s *InetSocket) UUID() (string, error) {
	return uuid.FromCookie(s.Msg.ID.Cookie()), nil
}

// UnixSocket is one unix_diag_msg plus its requested attributes.
type UnixSocket struct {
	Type  uint8 // SOCK_STREAM / SOCK_DGRAM / SOCK_SEQPACKET
	State uint8
	Inode uint32

	Path      string
	PeerInode uint32
	RQueue    uint32
	WQueue    uint32
	UID       uint32
}

// NetlinkSocket is one netlink_diag_msg plus its requested attributes.
type NetlinkSocket struct {
	Protocol  uint8
	State     uint8
	PortID    uint32
	DstPortID uint32
	DstGroup  uint32
	Inode     uint32
	Groups    []byte
}

// PacketSocket is one packet_diag_msg plus its requested attributes.
type PacketSocket struct {
	Type  uint8
	Num   uint16 // link-layer protocol (ETH_P_*) the socket is bound to
	Inode uint32
	UID   uint32
}

// DumpInet lists inet sockets matching f over sock, which must speak
// NETLINK_SOCK_DIAG. An AF_UNSPEC family issues one dump per family and
// concatenates the results.
func DumpInet(sock *netlink.Socket, f *InetFilter) ([]*SocketInfo, error) {
	var out []*SocketInfo
	for _, payload := range f.payloads() {
		raw, err := request.Dump(sock, SOCK_DIAG_BY_FAMILY, payload)
		if err != nil {
			return out, err
		}
		for _, data := range raw {
			s, err := ParseInet(data)
			if err != nil {
				return out, err
			}
			out = append(out, &SocketInfo{Kind: KindInet, Inet: s})
		}
	}
	return out, nil
}

// ParseInet decodes one inet_diag_msg response body, including any
// extension attributes present.
func ParseInet(data []byte) (*InetSocket, error) {
	raw, residual := SplitInetDiagMsg(data)
	if raw == nil {
		return nil, ErrParseFailed
	}
	msg, err := raw.Parse()
	if err != nil {
		return nil, err
	}
	s := &InetSocket{Msg: msg}

	attrs, err := nl.ParseRouteAttr(residual)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		switch a.Attr.Type {
		case INET_DIAG_INFO:
			s.TCPInfo = parseTCPInfo(a.Value)
		case INET_DIAG_MEMINFO:
			if len(a.Value) >= int(unsafe.Sizeof(MemInfo{})) {
				s.MemInfo = (*MemInfo)(unsafe.Pointer(&a.Value[0]))
			}
		case INET_DIAG_SKMEMINFO:
			if len(a.Value) >= int(unsafe.Sizeof(SocketMemInfo{})) {
				s.SkMemInfo = (*SocketMemInfo)(unsafe.Pointer(&a.Value[0]))
			}
		case INET_DIAG_CONG:
			s.Congestion = strings.TrimRight(string(a.Value), "\x00")
		case INET_DIAG_TOS:
			if len(a.Value) > 0 {
				s.TOS = a.Value[0]
			}
		case INET_DIAG_TCLASS:
			if len(a.Value) > 0 {
				s.TClass = a.Value[0]
			}
		case INET_DIAG_MARK:
			if len(a.Value) >= 4 {
				s.Mark = binary.LittleEndian.Uint32(a.Value)
			}
		}
	}
	return s, nil
}

// parseTCPInfo copies an INET_DIAG_INFO payload into a LinuxTCPInfo.
// Older kernels send shorter structs; the missing tail fields stay zero.
func parseTCPInfo(b []byte) *tcp.LinuxTCPInfo {
	info := &tcp.LinuxTCPInfo{}
	size := int(unsafe.Sizeof(*info))
	if len(b) < size {
		size = len(b)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(info)), unsafe.Sizeof(*info))[:size], b[:size])
	return info
}

// DumpUnix lists unix-domain sockets matching f.
func DumpUnix(sock *netlink.Socket, f *UnixFilter) ([]*SocketInfo, error) {
	raw, err := request.Dump(sock, SOCK_DIAG_BY_FAMILY, f.payload())
	if err != nil {
		return nil, err
	}
	var out []*SocketInfo
	for _, data := range raw {
		s, err := parseUnix(data)
		if err != nil {
			return out, err
		}
		if f.Types != 0 && f.Types&(1<<s.Type) == 0 {
			continue
		}
		if f.PathSubstring != "" && !strings.Contains(s.Path, f.PathSubstring) {
			continue
		}
		out = append(out, &SocketInfo{Kind: KindUnix, Unix: s})
	}
	return out, nil
}

// sizeofUnixDiagMsg is the encoded size of struct unix_diag_msg.
const sizeofUnixDiagMsg = 16

func parseUnix(data []byte) (*UnixSocket, error) {
	if len(data) < sizeofUnixDiagMsg {
		return nil, ErrParseFailed
	}
	s := &UnixSocket{
		Type:  data[1],
		State: data[2],
		Inode: binary.LittleEndian.Uint32(data[4:8]),
	}
	attrs, err := nl.ParseRouteAttr(data[sizeofUnixDiagMsg:])
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		switch a.Attr.Type {
		case UNIX_DIAG_NAME:
			s.Path = strings.TrimRight(string(a.Value), "\x00")
		case UNIX_DIAG_PEER:
			if len(a.Value) >= 4 {
				s.PeerInode = binary.LittleEndian.Uint32(a.Value)
			}
		case UNIX_DIAG_RQLEN:
			if len(a.Value) >= 8 {
				s.RQueue = binary.LittleEndian.Uint32(a.Value[0:4])
				s.WQueue = binary.LittleEndian.Uint32(a.Value[4:8])
			}
		case UNIX_DIAG_UID:
			if len(a.Value) >= 4 {
				s.UID = binary.LittleEndian.Uint32(a.Value)
			}
		}
	}
	return s, nil
}

// DumpNetlink lists netlink sockets matching f.
func DumpNetlink(sock *netlink.Socket, f *NetlinkFilter) ([]*SocketInfo, error) {
	raw, err := request.Dump(sock, SOCK_DIAG_BY_FAMILY, f.payload())
	if err != nil {
		return nil, err
	}
	var out []*SocketInfo
	for _, data := range raw {
		s, err := parseNetlink(data)
		if err != nil {
			return out, err
		}
		out = append(out, &SocketInfo{Kind: KindNetlink, Netlink: s})
	}
	return out, nil
}

// sizeofNetlinkDiagMsg is the encoded size of struct netlink_diag_msg.
const sizeofNetlinkDiagMsg = 24

func parseNetlink(data []byte) (*NetlinkSocket, error) {
	if len(data) < sizeofNetlinkDiagMsg {
		return nil, ErrParseFailed
	}
	s := &NetlinkSocket{
		Protocol:  data[2],
		State:     data[3],
		PortID:    binary.LittleEndian.Uint32(data[4:8]),
		DstPortID: binary.LittleEndian.Uint32(data[8:12]),
		DstGroup:  binary.LittleEndian.Uint32(data[12:16]),
		Inode:     binary.LittleEndian.Uint32(data[16:20]),
	}
	attrs, err := nl.ParseRouteAttr(data[sizeofNetlinkDiagMsg:])
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Attr.Type == NETLINK_DIAG_GROUPS {
			s.Groups = append([]byte(nil), a.Value...)
		}
	}
	return s, nil
}

// DumpPacket lists AF_PACKET sockets matching f.
func DumpPacket(sock *netlink.Socket, f *PacketFilter) ([]*SocketInfo, error) {
	raw, err := request.Dump(sock, SOCK_DIAG_BY_FAMILY, f.payload())
	if err != nil {
		return nil, err
	}
	var out []*SocketInfo
	for _, data := range raw {
		s, err := parsePacket(data)
		if err != nil {
			return out, err
		}
		out = append(out, &SocketInfo{Kind: KindPacket, Packet: s})
	}
	return out, nil
}

// sizeofPacketDiagMsg is the encoded size of struct packet_diag_msg.
const sizeofPacketDiagMsg = 16

func parsePacket(data []byte) (*PacketSocket, error) {
	if len(data) < sizeofPacketDiagMsg {
		return nil, ErrParseFailed
	}
	s := &PacketSocket{
		Type:  data[1],
		Num:   binary.LittleEndian.Uint16(data[2:4]),
		Inode: binary.LittleEndian.Uint32(data[4:8]),
	}
	attrs, err := nl.ParseRouteAttr(data[sizeofPacketDiagMsg:])
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if a.Attr.Type == PACKET_DIAG_UID && len(a.Value) >= 4 {
			s.UID = binary.LittleEndian.Uint32(a.Value)
		}
	}
	return s, nil
}
