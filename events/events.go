// Package events is the multicast event stream: it subscribes a
// netlink.Socket to one or more RTNLGRP_* kernel groups and turns the
// asynchronous NEWLINK/DELLINK/NEWADDR/... notifications the kernel then
// pushes unsolicited into a channel of typed NetworkEvent values. The
// receive loop is read, decode-or-skip, keep going: a body that does not
// decode is dropped rather than terminating the stream.
package events

import (
	"errors"
	"fmt"

	"github.com/m-lab/netlinkctl/metrics"
	ownnetlink "github.com/m-lab/netlinkctl/netlink"
	"github.com/m-lab/netlinkctl/rtmsg"
	"golang.org/x/sys/unix"
)

// Kind identifies the object and action a NetworkEvent reports.
type Kind int

const (
	KindUnknown Kind = iota
	KindNewLink
	KindDelLink
	KindNewAddress
	KindDelAddress
	KindNewRoute
	KindDelRoute
	KindNewNeighbor
	KindDelNeighbor
	KindNewRule
	KindDelRule
	KindNewQdisc
	KindDelQdisc
	KindNewFilter
	KindDelFilter
)

// NetworkEvent is a decoded multicast notification: exactly one of
// the typed fields is non-nil, selected by Kind.
type NetworkEvent struct {
	Kind Kind

	Link     *rtmsg.Link
	Address  *rtmsg.Address
	Route    *rtmsg.Route
	Neighbor *rtmsg.Neighbor
	Rule     *rtmsg.Rule
	Qdisc    *rtmsg.Qdisc
	Filter   *rtmsg.Filter
}

// Well-known RTNLGRP_* kernel group numbers this package can subscribe to
// (a thin re-export of golang.org/x/sys/unix's constants so callers need
// not import unix just to call Stream.Subscribe).
const (
	GroupLink        = unix.RTNLGRP_LINK
	GroupIPv4IfAddr  = unix.RTNLGRP_IPV4_IFADDR
	GroupIPv6IfAddr  = unix.RTNLGRP_IPV6_IFADDR
	GroupIPv4Route   = unix.RTNLGRP_IPV4_ROUTE
	GroupIPv6Route   = unix.RTNLGRP_IPV6_ROUTE
	GroupIPv4Rule    = unix.RTNLGRP_IPV4_RULE
	GroupIPv6Rule    = unix.RTNLGRP_IPV6_RULE
	GroupNeigh       = unix.RTNLGRP_NEIGH
	GroupTC          = unix.RTNLGRP_TC
	GroupNsid        = unix.RTNLGRP_NSID
)

// Stream delivers decoded events from a subscribed netlink.Socket.
type Stream struct {
	sock    *ownnetlink.Socket
	events  chan NetworkEvent
	dropped chan int
	done    chan struct{}
}

// Open subscribes sock to groups and starts the background receive loop.
// sock must not be used for any other request afterward: the event loop
// owns it exclusively (one in-flight reader per socket).
func Open(sock *ownnetlink.Socket, groups ...uint32) (*Stream, error) {
	for _, g := range groups {
		if err := sock.Subscribe(g); err != nil {
			return nil, fmt.Errorf("events: subscribe to group %d: %w", g, err)
		}
	}
	s := &Stream{
		sock:    sock,
		events:  make(chan NetworkEvent, 64),
		dropped: make(chan int, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Events returns the channel of decoded events. It is closed when the
// stream's socket is closed or a fatal read error occurs.
func (s *Stream) Events() <-chan NetworkEvent { return s.events }

// Dropped reports overrun counts: the kernel's ENOBUFS signals that
// events were silently dropped at the socket layer before this process
// could read them. Each value is 1, one per ENOBUFS read error; while a
// value is still pending, further overruns are not queued (each one is
// still counted in metrics.EventStreamDroppedTotal). The kernel doesn't
// report the exact event count.
func (s *Stream) Dropped() <-chan int { return s.dropped }

// Close stops the receive loop and releases the underlying socket.
func (s *Stream) Close() error {
	close(s.done)
	return s.sock.Close()
}

func (s *Stream) run() {
	defer close(s.events)
	raw := s.sock.Raw()
	for {
		select {
		case <-s.done:
			return
		default:
		}
		msgs, _, err := raw.Receive()
		if err != nil {
			if isENOBUFS(err) {
				metrics.EventStreamDroppedTotal.Inc()
				select {
				case s.dropped <- 1:
				default:
				}
				continue
			}
			return
		}
		for _, m := range msgs {
			ev, ok := decode(m.Header.Type, m.Data)
			if !ok {
				continue // unparseable or uninteresting body: skip silently
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func isENOBUFS(err error) bool {
	return errors.Is(err, unix.ENOBUFS)
}

func decode(msgType uint16, data []byte) (NetworkEvent, bool) {
	switch msgType {
	case rtmsg.RTM_NEWLINK, rtmsg.RTM_DELLINK:
		l, err := rtmsg.ParseLink(data)
		if err != nil {
			return NetworkEvent{}, false
		}
		k := KindNewLink
		if msgType == rtmsg.RTM_DELLINK {
			k = KindDelLink
		}
		return NetworkEvent{Kind: k, Link: l}, true

	case rtmsg.RTM_NEWADDR, rtmsg.RTM_DELADDR:
		a, err := rtmsg.ParseAddress(data)
		if err != nil {
			return NetworkEvent{}, false
		}
		k := KindNewAddress
		if msgType == rtmsg.RTM_DELADDR {
			k = KindDelAddress
		}
		return NetworkEvent{Kind: k, Address: a}, true

	case rtmsg.RTM_NEWROUTE, rtmsg.RTM_DELROUTE:
		r, err := rtmsg.ParseRoute(data)
		if err != nil {
			return NetworkEvent{}, false
		}
		k := KindNewRoute
		if msgType == rtmsg.RTM_DELROUTE {
			k = KindDelRoute
		}
		return NetworkEvent{Kind: k, Route: r}, true

	case rtmsg.RTM_NEWNEIGH, rtmsg.RTM_DELNEIGH:
		n, err := rtmsg.ParseNeighbor(data)
		if err != nil {
			return NetworkEvent{}, false
		}
		k := KindNewNeighbor
		if msgType == rtmsg.RTM_DELNEIGH {
			k = KindDelNeighbor
		}
		return NetworkEvent{Kind: k, Neighbor: n}, true

	case rtmsg.RTM_NEWRULE, rtmsg.RTM_DELRULE:
		ru, err := rtmsg.ParseRule(data)
		if err != nil {
			return NetworkEvent{}, false
		}
		k := KindNewRule
		if msgType == rtmsg.RTM_DELRULE {
			k = KindDelRule
		}
		return NetworkEvent{Kind: k, Rule: ru}, true

	case rtmsg.RTM_NEWQDISC, rtmsg.RTM_DELQDISC:
		q, err := rtmsg.ParseQdisc(data)
		if err != nil {
			return NetworkEvent{}, false
		}
		k := KindNewQdisc
		if msgType == rtmsg.RTM_DELQDISC {
			k = KindDelQdisc
		}
		return NetworkEvent{Kind: k, Qdisc: q}, true

	case rtmsg.RTM_NEWTFILTER, rtmsg.RTM_DELTFILTER:
		f, err := rtmsg.ParseFilter(data)
		if err != nil {
			return NetworkEvent{}, false
		}
		k := KindNewFilter
		if msgType == rtmsg.RTM_DELTFILTER {
			k = KindDelFilter
		}
		return NetworkEvent{Kind: k, Filter: f}, true

	default:
		return NetworkEvent{}, false
	}
}
