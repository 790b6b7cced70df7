// Package request is the request engine: it turns a built message
// into one of three interactions over a netlink.Socket — an ack-request,
// a single-response request, or a multi-part dump — and translates
// NLMSG_ERROR/NLMSG_DONE into typed results. The same loop serves every
// netlink family the module speaks, route and sock-diag alike.
package request

import (
	"fmt"
	"time"

	"github.com/m-lab/netlinkctl/metrics"
	"github.com/m-lab/netlinkctl/nlerr"
	ownnetlink "github.com/m-lab/netlinkctl/netlink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// familyLabel turns a raw RTM_*/family-specific message type into a coarse
// label for SyscallTimeHistogram so the cardinality stays small regardless
// of how many distinct message types a family defines.
func familyLabel(msgType uint16) string {
	switch {
	case msgType >= unix.RTM_NEWLINK && msgType <= unix.RTM_GETROUTE:
		return "rtnetlink"
	default:
		return "other"
	}
}

// Header flags, mirrored from the kernel's netlink.h.
const (
	FlagRequest = unix.NLM_F_REQUEST
	FlagMulti   = unix.NLM_F_MULTI
	FlagAck     = unix.NLM_F_ACK
	FlagEcho    = unix.NLM_F_ECHO
	FlagRoot    = unix.NLM_F_ROOT
	FlagMatch   = unix.NLM_F_MATCH
	FlagAtomic  = unix.NLM_F_ATOMIC
	FlagDump    = FlagRoot | FlagMatch

	FlagCreate  = unix.NLM_F_CREATE
	FlagExcl    = unix.NLM_F_EXCL
	FlagReplace = unix.NLM_F_REPLACE
)

// StandardBufferSize is the standard 32 KiB receive buffer size. Do,
// Single and Dump do not pass it on: they read through the socket's own
// Receive, which sizes its buffer itself.
const StandardBufferSize = 32 * 1024

// Do builds and sends a single request message, expecting exactly one
// NLMSG_ERROR reply with errno 0 (the "ack-request" mode). msgType
// is the RTM_* (or family-specific) message type; flags should include
// FlagRequest and usually FlagAck plus any of Create/Excl/Replace.
func Do(sock *ownnetlink.Socket, msgType uint16, flags uint16, payload []byte) error {
	start := time.Now()
	defer func() {
		metrics.SyscallTimeHistogram.With(prometheus.Labels{"family": familyLabel(msgType), "op": "ack"}).
			Observe(time.Since(start).Seconds())
	}()

	seq := sock.NextSeq()
	req := buildRaw(msgType, flags|FlagAck, seq, sock.PortID(), payload)

	raw := sock.Raw()
	if err := raw.Send(req); err != nil {
		return fmt.Errorf("request: send: %w", err)
	}

	for {
		msgs, _, err := raw.Receive()
		if err != nil {
			return fmt.Errorf("request: receive: %w", err)
		}
		for _, m := range msgs {
			if m.Header.Seq != seq {
				continue // stray/multicast delivery on the same fd
			}
			if m.Header.Pid != sock.PortID() {
				metrics.ErrorCount.With(prometheus.Labels{"type": "wrong pid"}).Inc()
				return nlerr.ErrBadPid
			}
			if m.Header.Type == unix.NLMSG_ERROR {
				return errnoFromError(m.Data, "ack")
			}
			// Any other message type while waiting for an ack is
			// unexpected but not fatal to the protocol; ignore it.
		}
	}
}

// Single sends a request expecting exactly one data message in reply,
// optionally followed by an ACK (the "single response" mode,
// used for get_by_index/get_by_name style requests).
func Single(sock *ownnetlink.Socket, msgType uint16, flags uint16, payload []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		metrics.SyscallTimeHistogram.With(prometheus.Labels{"family": familyLabel(msgType), "op": "single"}).
			Observe(time.Since(start).Seconds())
	}()

	seq := sock.NextSeq()
	req := buildRaw(msgType, flags, seq, sock.PortID(), payload)

	raw := sock.Raw()
	if err := raw.Send(req); err != nil {
		return nil, fmt.Errorf("request: send: %w", err)
	}

	for {
		msgs, _, err := raw.Receive()
		if err != nil {
			return nil, fmt.Errorf("request: receive: %w", err)
		}
		for _, m := range msgs {
			if m.Header.Seq != seq {
				continue
			}
			if m.Header.Pid != sock.PortID() {
				metrics.ErrorCount.With(prometheus.Labels{"type": "wrong pid"}).Inc()
				return nil, nlerr.ErrBadPid
			}
			if m.Header.Flags&unix.NLM_F_MULTI != 0 {
				return nil, nlerr.ErrUnexpectedMulti
			}
			if m.Header.Type == unix.NLMSG_ERROR {
				if err := errnoFromError(m.Data, "get"); err != nil {
					return nil, err
				}
				continue
			}
			return m.Data, nil
		}
	}
}

// Dump sends a request expecting a multi-part reply terminated by
// NLMSG_DONE. Each returned element is the raw payload of one data
// message, in the order the kernel sent them. An NLMSG_ERROR with a
// non-zero errno appearing mid-dump aborts the dump and returns that
// error along with whatever was collected so far.
func Dump(sock *ownnetlink.Socket, msgType uint16, payload []byte) ([][]byte, error) {
	start := time.Now()
	label := familyLabel(msgType)
	defer func() {
		metrics.SyscallTimeHistogram.With(prometheus.Labels{"family": label, "op": "dump"}).
			Observe(time.Since(start).Seconds())
	}()

	seq := sock.NextSeq()
	req := buildRaw(msgType, FlagRequest|FlagDump, seq, sock.PortID(), payload)

	raw := sock.Raw()
	if err := raw.Send(req); err != nil {
		return nil, fmt.Errorf("request: send: %w", err)
	}

	var out [][]byte
	for {
		msgs, _, err := raw.Receive()
		if err != nil {
			return out, fmt.Errorf("request: receive: %w", err)
		}
		for _, m := range msgs {
			if m.Header.Seq != seq {
				continue
			}
			if m.Header.Pid != sock.PortID() {
				metrics.ErrorCount.With(prometheus.Labels{"type": "wrong pid"}).Inc()
				return out, nlerr.ErrBadPid
			}
			if m.Header.Type == unix.NLMSG_DONE {
				metrics.DumpSizeHistogram.With(prometheus.Labels{"family": label}).Observe(float64(len(out)))
				return out, nil
			}
			if m.Header.Type == unix.NLMSG_ERROR {
				if err := errnoFromError(m.Data, "dump"); err != nil {
					return out, err
				}
				metrics.DumpSizeHistogram.With(prometheus.Labels{"family": label}).Observe(float64(len(out)))
				return out, nil
			}
			out = append(out, m.Data)
		}
	}
}

func buildRaw(msgType uint16, flags uint16, seq, pid uint32, payload []byte) *nl.NetlinkRequest {
	req := &nl.NetlinkRequest{
		NlMsghdr: unix.NlMsghdr{
			Len:   uint32(unix.NLMSG_HDRLEN + len(payload)),
			Type:  msgType,
			Flags: flags,
			Seq:   seq,
			Pid:   pid,
		},
	}
	req.AddData(rawData(payload))
	return req
}

// rawData wraps a pre-encoded payload so it satisfies nl.NetlinkRequestData
// without re-encoding (the rtmsg package already produced wire bytes).
type rawData []byte

func (d rawData) Len() int                 { return len(d) }
func (d rawData) Serialize() []byte        { return d }

func errnoFromError(data []byte, op string) error {
	if len(data) < 4 {
		metrics.ErrorCount.With(prometheus.Labels{"type": "short ack"}).Inc()
		return nlerr.ErrBadMsgData
	}
	errno := int32(nl.NativeEndian().Uint32(data[0:4]))
	if errno == 0 {
		return nil
	}
	metrics.ErrorCount.With(prometheus.Labels{"type": "NLMSG_ERROR"}).Inc()
	return &nlerr.KernelError{Errno: unix.Errno(-errno), Op: op}
}
