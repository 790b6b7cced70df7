// Package netlink owns the raw netlink file descriptor: opening it
// (optionally inside another network namespace), the per-socket sequence
// counter and port-id, and multicast group (un)subscription.
//
// It is a thin, namespace-aware wrapper around
// github.com/vishvananda/netlink/nl's own socket type.
package netlink

import (
	"fmt"
	"sync/atomic"

	"github.com/vishvananda/netlink/nl"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"
)

// Protocol identifies which netlink family a Socket speaks.
type Protocol int

// Supported protocol families.
const (
	ProtoRoute    Protocol = unix.NETLINK_ROUTE
	ProtoGeneric  Protocol = unix.NETLINK_GENERIC
	ProtoSockDiag Protocol = unix.NETLINK_SOCK_DIAG
	ProtoFibLookup Protocol = unix.NETLINK_FIB_LOOKUP
)

// Socket is a typed wrapper around a kernel netlink file descriptor.
// A Socket is owned by exactly one in-flight request at a time; it is
// not safe for concurrent use from multiple goroutines issuing overlapping
// requests.
type Socket struct {
	sock     *nl.NetlinkSocket
	protocol Protocol
	pid      uint32
	seq      uint32 // atomic; starts at 1
	groups   map[uint32]bool
}

// Open creates a datagram netlink socket of the given protocol in the
// current network namespace.
func Open(protocol Protocol) (*Socket, error) {
	return open(protocol, 0)
}

// OpenInNamespace creates a socket of the given protocol inside the
// network namespace referenced by nsFD, temporarily switching the calling
// OS thread's namespace to do so and restoring the origin namespace
// afterward. Restoration failure is logged, not
// returned: the fd already belongs to the target namespace and remains
// usable regardless.
func OpenInNamespace(protocol Protocol, nsFD int) (*Socket, error) {
	return open(protocol, nsFD)
}

func open(protocol Protocol, nsFD int) (*Socket, error) {
	var sock *nl.NetlinkSocket
	var err error

	if nsFD == 0 {
		sock, err = nl.Subscribe(int(protocol))
	} else {
		origin, nsErr := netns.Get()
		if nsErr != nil {
			return nil, fmt.Errorf("netlink: saving origin namespace: %w", nsErr)
		}
		defer func() {
			if restoreErr := netns.Set(origin); restoreErr != nil {
				logRestoreFailure(restoreErr)
			}
			origin.Close()
		}()
		if setErr := netns.Set(netns.NsHandle(nsFD)); setErr != nil {
			return nil, fmt.Errorf("netlink: entering target namespace: %w", setErr)
		}
		sock, err = nl.Subscribe(int(protocol))
	}
	if err != nil {
		return nil, fmt.Errorf("netlink: open: %w", err)
	}

	// Extended-ack reporting gives richer NLMSG_ERROR payloads on kernels
	// that support it; older kernels reject the option, which is fine.
	_ = unix.SetsockoptInt(sock.GetFd(), unix.SOL_NETLINK, unix.NETLINK_EXT_ACK, 1)

	pid, err := sock.GetPid()
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("netlink: reading bound port id: %w", err)
	}

	return &Socket{
		sock:     sock,
		protocol: protocol,
		pid:      pid,
		seq:      1,
		groups:   map[uint32]bool{},
	}, nil
}

// logRestoreFailure is a seam for tests; production code just logs.
var logRestoreFailure = func(err error) {
	defaultLogRestoreFailure(err)
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	s.sock.Close()
	return nil
}

// Protocol returns the netlink family this socket was opened with.
func (s *Socket) Protocol() Protocol { return s.protocol }

// PortID returns the port-id the kernel assigned at bind.
func (s *Socket) PortID() uint32 { return s.pid }

// NextSeq returns and increments the per-socket request-sequence counter
//. Sequence numbers wrap with modular arithmetic; this is safe
// because at most one request is ever in flight on a given socket.
func (s *Socket) NextSeq() uint32 {
	return atomic.AddUint32(&s.seq, 1) - 1
}

// Subscribe joins the multicast group with the given kernel group number.
func (s *Socket) Subscribe(group uint32) error {
	if err := joinGroup(s.sock, group); err != nil {
		return fmt.Errorf("netlink: subscribe to group %d: %w", group, err)
	}
	s.groups[group] = true
	return nil
}

// Unsubscribe leaves a previously subscribed multicast group.
func (s *Socket) Unsubscribe(group uint32) error {
	if err := leaveGroup(s.sock, group); err != nil {
		return fmt.Errorf("netlink: unsubscribe from group %d: %w", group, err)
	}
	delete(s.groups, group)
	return nil
}

// Groups returns the set of currently subscribed multicast group numbers.
func (s *Socket) Groups() []uint32 {
	out := make([]uint32, 0, len(s.groups))
	for g := range s.groups {
		out = append(out, g)
	}
	return out
}

// Raw returns the underlying vishvananda/netlink socket for use by the
// request package, which needs Send/Receive/GetFd directly.
func (s *Socket) Raw() *nl.NetlinkSocket { return s.sock }
