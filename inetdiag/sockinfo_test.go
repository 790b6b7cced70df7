package inetdiag

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/m-lab/netlinkctl/tcp"
)

// fakeInetMsg serializes an InetDiagMsg followed by the given rtattr
// framed attributes, mimicking one SOCK_DIAG_BY_FAMILY response body.
func fakeInetMsg(state uint8, attrs ...[]byte) []byte {
	msg := InetDiagMsg{IDiagFamily: 2, IDiagState: state}
	binary.LittleEndian.PutUint64(msg.ID.IDiagCookie[:], 0xC0FFEE)
	size := int(unsafe.Sizeof(msg))
	out := make([]byte, rtaAlignOf(size))
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&msg)), size))
	for _, a := range attrs {
		out = append(out, a...)
	}
	return out
}

func rtattr(attrType uint16, value []byte) []byte {
	b := make([]byte, rtaAlignOf(4+len(value)))
	binary.LittleEndian.PutUint16(b[0:2], uint16(4+len(value)))
	binary.LittleEndian.PutUint16(b[2:4], attrType)
	copy(b[4:], value)
	return b
}

func TestParseInetExtensions(t *testing.T) {
	tcpInfo := tcp.LinuxTCPInfo{State: uint8(tcp.ESTABLISHED), RTT: 1500, SndCwnd: 10}
	infoBytes := unsafe.Slice((*byte)(unsafe.Pointer(&tcpInfo)), unsafe.Sizeof(tcpInfo))

	body := fakeInetMsg(uint8(tcp.ESTABLISHED),
		rtattr(INET_DIAG_CONG, append([]byte("cubic"), 0)),
		rtattr(INET_DIAG_TOS, []byte{0x10}),
		rtattr(INET_DIAG_INFO, infoBytes),
	)

	s, err := ParseInet(body)
	if err != nil {
		t.Fatalf("ParseInet failed: %v", err)
	}
	if s.State() != tcp.ESTABLISHED {
		t.Errorf("State = %v, want ESTABLISHED", s.State())
	}
	if s.Congestion != "cubic" {
		t.Errorf("Congestion = %q, want cubic", s.Congestion)
	}
	if s.TOS != 0x10 {
		t.Errorf("TOS = %#x, want 0x10", s.TOS)
	}
	if s.TCPInfo == nil {
		t.Fatal("TCPInfo extension not decoded")
	}
	if s.TCPInfo.RTTMicros() != 1500 || s.TCPInfo.CongestionWindow() != 10 {
		t.Errorf("RTT/cwnd = %d/%d, want 1500/10", s.TCPInfo.RTT, s.TCPInfo.SndCwnd)
	}
	if s.Msg.ID.Cookie() != 0xC0FFEE {
		t.Errorf("Cookie = %#x", s.Msg.ID.Cookie())
	}
}

func TestParseInetShortTCPInfo(t *testing.T) {
	// Older kernels send a truncated tcp_info; the tail fields must come
	// back zero rather than the parse failing.
	short := make([]byte, 104)
	short[0] = uint8(tcp.LISTEN)
	body := fakeInetMsg(uint8(tcp.LISTEN), rtattr(INET_DIAG_INFO, short))

	s, err := ParseInet(body)
	if err != nil {
		t.Fatalf("ParseInet failed: %v", err)
	}
	if s.TCPInfo == nil {
		t.Fatal("short TCPInfo should still decode")
	}
	if tcp.State(s.TCPInfo.State) != tcp.LISTEN {
		t.Errorf("State = %d, want LISTEN", s.TCPInfo.State)
	}
	if s.TCPInfo.BytesSent != 0 {
		t.Error("fields past the truncation must stay zero")
	}
}

func TestParseInetTruncatedMsg(t *testing.T) {
	if _, err := ParseInet(make([]byte, 10)); err == nil {
		t.Error("expected an error for a short inet_diag_msg")
	}
}
