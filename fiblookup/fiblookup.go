// Package fiblookup issues single request/response lookups over
// NETLINK_FIB_LOOKUP, asking the kernel to resolve the route it
// would choose for a destination without installing anything. The wire
// struct (fib_result_nl) is a plain fixed-size request/result record with
// no netlink attributes at all, sent as the entire message payload and
// answered in place.
package fiblookup

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/m-lab/netlinkctl/netlink"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// SizeofFibResult is the encoded size of struct fib_result_nl.
const SizeofFibResult = 20

// Route types the kernel can report for a matched route.
const (
	RouteTypeUnspec      = 0
	RouteTypeUnicast     = 1
	RouteTypeLocal       = 2
	RouteTypeBroadcast   = 3
	RouteTypeAnycast     = 4
	RouteTypeMulticast   = 5
	RouteTypeBlackhole   = 6
	RouteTypeUnreachable = 7
	RouteTypeProhibit    = 8
	RouteTypeThrow       = 9
	RouteTypeNat         = 10
	RouteTypeXResolve    = 11
)

// Route scopes the kernel can report.
const (
	ScopeUniverse = 0
	ScopeSite     = 200
	ScopeLink     = 253
	ScopeHost     = 254
	ScopeNowhere  = 255
)

// Request carries the destination and optional selectors for a lookup.
type Request struct {
	Addr   net.IP // IPv4 destination
	Table  uint8
	FwMark uint32
	TOS    uint8
	Scope  uint8
}

// Result is the kernel's resolution for a Request.
type Result struct {
	Addr      net.IP
	Table     uint8
	PrefixLen uint8
	NhSel     uint8
	RouteType uint8
	Scope     uint8
	Err       int32
}

// IsSuccess reports whether the lookup resolved to a route (Err == 0).
func (r *Result) IsSuccess() bool { return r.Err == 0 }

// IsLocal reports whether the matched route is a local address.
func (r *Result) IsLocal() bool { return r.RouteType == RouteTypeLocal }

// IsUnicast reports whether the matched route is a unicast route.
func (r *Result) IsUnicast() bool { return r.RouteType == RouteTypeUnicast }

// IsBlackhole reports whether the matched route silently drops traffic.
func (r *Result) IsBlackhole() bool { return r.RouteType == RouteTypeBlackhole }

// Conn is a NETLINK_FIB_LOOKUP connection.
type Conn struct {
	sock *netlink.Socket
}

// Dial opens a FIB-lookup connection in the current network namespace.
func Dial() (*Conn, error) {
	sock, err := netlink.Open(netlink.ProtoFibLookup)
	if err != nil {
		return nil, err
	}
	return &Conn{sock: sock}, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error { return c.sock.Close() }

func encodeRequest(req Request) []byte {
	b := make([]byte, SizeofFibResult)
	var addr uint32
	if v4 := req.Addr.To4(); v4 != nil {
		addr = binary.BigEndian.Uint32(v4)
	}
	binary.NativeEndian.PutUint32(b[0:4], addr)
	binary.NativeEndian.PutUint32(b[4:8], req.FwMark)
	b[8] = req.TOS
	b[9] = req.Scope
	b[10] = req.Table
	return b
}

func decodeResult(b []byte) (*Result, error) {
	if len(b) < SizeofFibResult {
		return nil, nlerr.Truncated("fib_result_nl", SizeofFibResult, len(b))
	}
	addr := make(net.IP, 4)
	binary.BigEndian.PutUint32(addr, binary.NativeEndian.Uint32(b[0:4]))
	return &Result{
		Addr:      addr,
		Table:     b[11],
		PrefixLen: b[12],
		NhSel:     b[13],
		RouteType: b[14],
		Scope:     b[15],
		Err:       int32(binary.NativeEndian.Uint32(b[16:20])),
	}, nil
}

// Lookup resolves the route the kernel would pick for req.
func (c *Conn) Lookup(req Request) (*Result, error) {
	payload := encodeRequest(req)
	seq := c.sock.NextSeq()
	raw := c.sock.Raw()

	nlreq := &nl.NetlinkRequest{
		NlMsghdr: unix.NlMsghdr{
			Len:   uint32(unix.NLMSG_HDRLEN + len(payload)),
			Type:  0,
			Flags: unix.NLM_F_REQUEST,
			Seq:   seq,
			Pid:   c.sock.PortID(),
		},
	}
	nlreq.AddData(rawMessage(payload))

	if err := raw.Send(nlreq); err != nil {
		return nil, fmt.Errorf("fiblookup: send: %w", err)
	}

	for {
		msgs, _, err := raw.Receive()
		if err != nil {
			return nil, fmt.Errorf("fiblookup: receive: %w", err)
		}
		for _, m := range msgs {
			if m.Header.Seq != seq {
				continue
			}
			if m.Header.Type == unix.NLMSG_ERROR && len(m.Data) >= 4 {
				if errno := int32(binary.NativeEndian.Uint32(m.Data[0:4])); errno != 0 {
					return nil, &nlerr.KernelError{Errno: unix.Errno(-errno), Op: "fib_lookup"}
				}
			}
			return decodeResult(m.Data)
		}
	}
}

// rawMessage wraps the pre-encoded fib_result_nl payload so it satisfies
// nl.NetlinkRequestData without re-encoding.
type rawMessage []byte

func (m rawMessage) Len() int          { return len(m) }
func (m rawMessage) Serialize() []byte { return m }
