package inetdiag

import (
	"net"
	"testing"

	"github.com/m-lab/netlinkctl/tcp"
	"golang.org/x/sys/unix"
)

func TestStateMasks(t *testing.T) {
	if AllStates != 0xFFF {
		t.Errorf("AllStates = %#x, want TCPF_ALL (0xFFF)", AllStates)
	}
	conn := ConnectedStates()
	for _, s := range []tcp.State{tcp.LISTEN, tcp.CLOSE, tcp.TIME_WAIT, tcp.SYN_RECV} {
		if conn&Mask(s) != 0 {
			t.Errorf("ConnectedStates must exclude %v", s)
		}
	}
	for _, s := range []tcp.State{tcp.ESTABLISHED, tcp.FIN_WAIT1, tcp.CLOSE_WAIT, tcp.LAST_ACK} {
		if conn&Mask(s) == 0 {
			t.Errorf("ConnectedStates must include %v", s)
		}
	}
	if ListenStates() != Mask(tcp.LISTEN) {
		t.Error("ListenStates should select only LISTEN")
	}
}

func TestExtensionBit(t *testing.T) {
	if ExtensionBit(INET_DIAG_NONE) != 0 {
		t.Error("NONE has no bit")
	}
	if ExtensionBit(INET_DIAG_MEMINFO) != 1 {
		t.Errorf("MEMINFO bit = %d, want 1", ExtensionBit(INET_DIAG_MEMINFO))
	}
	if ExtensionBit(INET_DIAG_INFO) != 2 {
		t.Errorf("INFO bit = %d, want 2", ExtensionBit(INET_DIAG_INFO))
	}
}

func TestInetFilterFamilies(t *testing.T) {
	both := &InetFilter{Protocol: unix.IPPROTO_TCP, Family: unix.AF_UNSPEC, States: AllStates}
	if got := len(both.payloads()); got != 2 {
		t.Errorf("AF_UNSPEC should issue %d dumps, want 2", got)
	}
	v4 := &InetFilter{Protocol: unix.IPPROTO_TCP, Family: unix.AF_INET, States: AllStates}
	payloads := v4.payloads()
	if len(payloads) != 1 {
		t.Fatalf("AF_INET should issue one dump, got %d", len(payloads))
	}
	if len(payloads[0]) != SizeofReqV2 {
		t.Errorf("payload length = %d, want SizeofReqV2 (%d)", len(payloads[0]), SizeofReqV2)
	}
	if payloads[0][0] != unix.AF_INET || payloads[0][1] != unix.IPPROTO_TCP {
		t.Errorf("family/protocol bytes = %d/%d", payloads[0][0], payloads[0][1])
	}
}

func TestInetFilterIdentity(t *testing.T) {
	f := &InetFilter{
		Protocol:   unix.IPPROTO_TCP,
		Family:     unix.AF_INET,
		States:     ListenStates(),
		Local:      net.IPv4(127, 0, 0, 1),
		LocalPort:  8080,
		Extensions: ExtensionBit(INET_DIAG_INFO) | ExtensionBit(INET_DIAG_MEMINFO),
	}
	req := f.request(unix.AF_INET)
	if req.ID.SPort() != 8080 {
		t.Errorf("SPort = %d, want 8080", req.ID.SPort())
	}
	if !req.ID.SrcIP().Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("SrcIP = %v", req.ID.SrcIP())
	}
	if req.IDiagExt != 3 {
		t.Errorf("IDiagExt = %d, want INFO|MEMINFO (3)", req.IDiagExt)
	}
	if req.IDiagStates != uint32(ListenStates()) {
		t.Errorf("IDiagStates = %#x", req.IDiagStates)
	}
}

func TestInetFilterBytecode(t *testing.T) {
	plain := &InetFilter{Protocol: unix.IPPROTO_TCP, Family: unix.AF_INET}
	if plain.bytecode() != nil {
		t.Error("no mark/cgroup: no bytecode")
	}

	marked := &InetFilter{Protocol: unix.IPPROTO_TCP, Family: unix.AF_INET, Mark: 0x20, MarkMask: 0xFF}
	bc := marked.bytecode()
	if len(bc) != sizeofBcOp+8 {
		t.Fatalf("bytecode length = %d, want one op + markcond", len(bc))
	}
	if bc[0] != INET_DIAG_BC_MARK_COND {
		t.Errorf("opcode = %d, want MARK_COND", bc[0])
	}

	payloads := marked.payloads()
	if len(payloads[0]) <= SizeofReqV2 {
		t.Error("bytecode attribute missing from the request payload")
	}
}

func TestUnixFilterPayload(t *testing.T) {
	f := &UnixFilter{Show: UDIAG_SHOW_NAME | UDIAG_SHOW_PEER, Inode: 1234}
	b := f.payload()
	if len(b) != SizeofUnixDiagReq {
		t.Fatalf("payload length = %d, want %d", len(b), SizeofUnixDiagReq)
	}
	if b[0] != unix.AF_UNIX {
		t.Errorf("family byte = %d", b[0])
	}
	// Zero States means all states.
	states := uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24
	if states != ^uint32(0) {
		t.Errorf("states = %#x, want all", states)
	}
}

func TestNetlinkAndPacketFilterPayloads(t *testing.T) {
	nf := &NetlinkFilter{Protocol: NDIAG_PROTO_ALL, Show: NDIAG_SHOW_GROUPS}
	if b := nf.payload(); len(b) != SizeofNetlinkDiagReq || b[0] != unix.AF_NETLINK || b[1] != NDIAG_PROTO_ALL {
		t.Errorf("netlink payload = %v", b)
	}
	pf := &PacketFilter{Show: PACKET_SHOW_INFO}
	if b := pf.payload(); len(b) != SizeofPacketDiagReq || b[0] != unix.AF_PACKET {
		t.Errorf("packet payload = %v", b)
	}
}
