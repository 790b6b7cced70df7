// Package rtnl is the high-level per-object operation catalog over
// NETLINK_ROUTE: a Conn composes a netlink.Socket, the rtmsg wire
// codecs, and the request engine's three interaction modes into one
// method per verb (list/add/modify/delete/...) per object kind.
package rtnl

import (
	"fmt"

	"github.com/m-lab/netlinkctl/netlink"
	"github.com/m-lab/netlinkctl/request"
	"github.com/m-lab/netlinkctl/rtmsg"
)

// Conn is a route-netlink connection bound to one socket (one request
// in flight at a time per Conn).
type Conn struct {
	sock *netlink.Socket
}

// Dial opens a route-netlink connection in the current network namespace.
func Dial() (*Conn, error) {
	sock, err := netlink.Open(netlink.ProtoRoute)
	if err != nil {
		return nil, err
	}
	return &Conn{sock: sock}, nil
}

// FromSocket wraps an already-open route-netlink socket, e.g. one created
// by the netns package's namespace-scoped factory.
func FromSocket(sock *netlink.Socket) *Conn { return &Conn{sock: sock} }

// DialInNamespace opens a route-netlink connection inside the namespace
// referenced by nsFD.
func DialInNamespace(nsFD int) (*Conn, error) {
	sock, err := netlink.OpenInNamespace(netlink.ProtoRoute, nsFD)
	if err != nil {
		return nil, err
	}
	return &Conn{sock: sock}, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error { return c.sock.Close() }

// Socket exposes the underlying socket, e.g. so callers can Subscribe to
// multicast groups for the events package.
func (c *Conn) Socket() *netlink.Socket { return c.sock }

func (c *Conn) do(msgType uint16, flags uint16, payload []byte) error {
	return request.Do(c.sock, msgType, flags, payload)
}

func (c *Conn) single(msgType uint16, flags uint16, payload []byte) ([]byte, error) {
	return request.Single(c.sock, msgType, flags, payload)
}

func (c *Conn) dump(msgType uint16, payload []byte) ([][]byte, error) {
	return request.Dump(c.sock, msgType, payload)
}

// ---- Links -----------------------------------------------------------

// LinkList returns every link visible in this connection's namespace.
func (c *Conn) LinkList() ([]*rtmsg.Link, error) {
	b, err := (&rtmsg.Link{}).Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETLINK, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: link list: %w", err)
	}
	out := make([]*rtmsg.Link, 0, len(raw))
	for _, b := range raw {
		l, err := rtmsg.ParseLink(b)
		if err != nil {
			return nil, fmt.Errorf("rtnl: link list: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}

// LinkByName resolves a link by its interface name.
func (c *Conn) LinkByName(name string) (*rtmsg.Link, error) {
	req := &rtmsg.Link{Name: name}
	b, err := req.Build()
	if err != nil {
		return nil, err
	}
	resp, err := c.single(rtmsg.RTM_GETLINK, request.FlagRequest, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: link by name %q: %w", name, err)
	}
	return rtmsg.ParseLink(resp)
}

// LinkByIndex resolves a link by its ifindex.
func (c *Conn) LinkByIndex(index int32) (*rtmsg.Link, error) {
	req := &rtmsg.Link{Header: rtmsg.IfInfomsg{Index: index}}
	b, err := req.Build()
	if err != nil {
		return nil, err
	}
	resp, err := c.single(rtmsg.RTM_GETLINK, request.FlagRequest, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: link by index %d: %w", index, err)
	}
	return rtmsg.ParseLink(resp)
}

// LinkAdd creates a new link from a kind-specific builder (e.g. veth,
// dummy, vlan); the caller sets l.Kind/l.Data for the link type.
func (c *Conn) LinkAdd(l *rtmsg.Link) error {
	b, err := l.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWLINK, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// LinkModify applies changes (up/down/mtu/name/address/master/txqlen/alias)
// to the link identified by ifindex via RTM_SETLINK.
func (c *Conn) LinkModify(ifindex int32, changes *rtmsg.LinkChanges) error {
	if changes.IsEmpty() {
		return nil
	}
	b, err := changes.Apply(ifindex).Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_SETLINK, request.FlagRequest, b)
}

// LinkDelete removes the link identified by ifindex.
func (c *Conn) LinkDelete(ifindex int32) error {
	l := &rtmsg.Link{Header: rtmsg.IfInfomsg{Index: ifindex}}
	b, err := l.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELLINK, request.FlagRequest, b)
}

// ---- Addresses ---------------------------------------------------------

// AddressList returns every address across all devices.
func (c *Conn) AddressList() ([]*rtmsg.Address, error) {
	return c.addressDump(0)
}

// AddressListForDevice returns the addresses configured on one device.
func (c *Conn) AddressListForDevice(ifindex int32) ([]*rtmsg.Address, error) {
	return c.addressDump(ifindex)
}

func (c *Conn) addressDump(ifindex int32) ([]*rtmsg.Address, error) {
	req := &rtmsg.Address{Header: rtmsg.IfAddrmsg{Index: uint32(ifindex)}}
	b, err := req.Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETADDR, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: address list: %w", err)
	}
	out := make([]*rtmsg.Address, 0, len(raw))
	for _, rb := range raw {
		a, err := rtmsg.ParseAddress(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: address list: %w", err)
		}
		if ifindex == 0 || a.Header.Index == uint32(ifindex) {
			out = append(out, a)
		}
	}
	return out, nil
}

// AddressAdd adds a new address (NLM_F_EXCL: fails if it already exists).
func (c *Conn) AddressAdd(a *rtmsg.Address) error {
	b, err := a.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWADDR, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// AddressReplace adds or replaces an address.
func (c *Conn) AddressReplace(a *rtmsg.Address) error {
	b, err := a.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWADDR, request.FlagRequest|request.FlagCreate|request.FlagReplace, b)
}

// AddressDelete removes an address.
func (c *Conn) AddressDelete(a *rtmsg.Address) error {
	b, err := a.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELADDR, request.FlagRequest, b)
}

// ---- Routes --------------------------------------------------------

// RouteList returns every route the kernel's unfiltered dump returns,
// across all tables.
func (c *Conn) RouteList() ([]*rtmsg.Route, error) {
	return c.routeDump(&rtmsg.Route{})
}

// RouteListByTable returns routes belonging to a specific table id.
func (c *Conn) RouteListByTable(family uint8, table uint32) ([]*rtmsg.Route, error) {
	return c.routeDump(&rtmsg.Route{Header: rtmsg.Rtmsg{Family: family}, Table: table})
}

func (c *Conn) routeDump(filter *rtmsg.Route) ([]*rtmsg.Route, error) {
	b, err := filter.Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETROUTE, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: route list: %w", err)
	}
	out := make([]*rtmsg.Route, 0, len(raw))
	for _, rb := range raw {
		r, err := rtmsg.ParseRoute(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: route list: %w", err)
		}
		if filter.Table != 0 && r.EffectiveTable() != filter.Table {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// RouteAdd installs a new route (fails if an equivalent route exists).
func (c *Conn) RouteAdd(r *rtmsg.Route) error {
	b, err := r.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWROUTE, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// RouteReplace installs or replaces a route.
func (c *Conn) RouteReplace(r *rtmsg.Route) error {
	b, err := r.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWROUTE, request.FlagRequest|request.FlagCreate|request.FlagReplace, b)
}

// RouteDelete removes a route.
func (c *Conn) RouteDelete(r *rtmsg.Route) error {
	b, err := r.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELROUTE, request.FlagRequest, b)
}

// RouteGet resolves the route the kernel would use for one destination.
func (c *Conn) RouteGet(dst *rtmsg.Route) (*rtmsg.Route, error) {
	b, err := dst.Build()
	if err != nil {
		return nil, err
	}
	resp, err := c.single(rtmsg.RTM_GETROUTE, request.FlagRequest, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: route get: %w", err)
	}
	return rtmsg.ParseRoute(resp)
}

// ---- Rules -----------------------------------------------------------

// RuleList returns every policy routing rule for a family.
func (c *Conn) RuleList(family uint8) ([]*rtmsg.Rule, error) {
	filter := &rtmsg.Rule{Header: rtmsg.Rtmsg{Family: family}}
	b, err := filter.Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETRULE, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: rule list: %w", err)
	}
	out := make([]*rtmsg.Rule, 0, len(raw))
	for _, rb := range raw {
		r, err := rtmsg.ParseRule(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: rule list: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// RuleAdd installs a new policy routing rule.
func (c *Conn) RuleAdd(r *rtmsg.Rule) error {
	b, err := r.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWRULE, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// RuleDelete removes a policy routing rule, matched by priority (the
// rule's stable identity).
func (c *Conn) RuleDelete(r *rtmsg.Rule) error {
	b, err := r.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELRULE, request.FlagRequest, b)
}

// ---- Neighbors and FDB -------------------------------------------------

// NeighborList returns every neighbor-cache entry across all devices.
func (c *Conn) NeighborList() ([]*rtmsg.Neighbor, error) {
	return c.neighborDump(&rtmsg.Neighbor{})
}

// NeighborListForDevice returns the neighbor-cache entries for one device.
func (c *Conn) NeighborListForDevice(ifindex int32) ([]*rtmsg.Neighbor, error) {
	return c.neighborDump(&rtmsg.Neighbor{Header: rtmsg.Ndmsg{Index: ifindex}})
}

func (c *Conn) neighborDump(filter *rtmsg.Neighbor) ([]*rtmsg.Neighbor, error) {
	b, err := filter.Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETNEIGH, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: neighbor list: %w", err)
	}
	out := make([]*rtmsg.Neighbor, 0, len(raw))
	for _, rb := range raw {
		n, err := rtmsg.ParseNeighbor(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: neighbor list: %w", err)
		}
		if filter.Header.Index == 0 || n.Header.Index == filter.Header.Index {
			out = append(out, n)
		}
	}
	return out, nil
}

// NeighborAdd installs a new neighbor cache entry.
func (c *Conn) NeighborAdd(n *rtmsg.Neighbor) error {
	b, err := n.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWNEIGH, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// NeighborReplace installs or replaces a neighbor cache entry.
func (c *Conn) NeighborReplace(n *rtmsg.Neighbor) error {
	b, err := n.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWNEIGH, request.FlagRequest|request.FlagCreate|request.FlagReplace, b)
}

// NeighborDelete removes a neighbor cache entry.
func (c *Conn) NeighborDelete(n *rtmsg.Neighbor) error {
	b, err := n.Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELNEIGH, request.FlagRequest, b)
}

// FDBList returns the bridge forwarding-database entries for a device (or
// every device's if ifindex is 0).
func (c *Conn) FDBList(ifindex int32) ([]*rtmsg.FDBEntry, error) {
	filter := &rtmsg.Neighbor{Header: rtmsg.Ndmsg{Family: rtmsg.AF_BRIDGE, Index: ifindex}}
	b, err := filter.Build()
	if err != nil {
		return nil, err
	}
	raw, err := c.dump(rtmsg.RTM_GETNEIGH, b)
	if err != nil {
		return nil, fmt.Errorf("rtnl: fdb list: %w", err)
	}
	out := make([]*rtmsg.FDBEntry, 0, len(raw))
	for _, rb := range raw {
		n, err := rtmsg.ParseNeighbor(rb)
		if err != nil {
			return nil, fmt.Errorf("rtnl: fdb list: %w", err)
		}
		if ifindex == 0 || n.Header.Index == ifindex {
			out = append(out, rtmsg.FDBEntryFromNeighbor(n))
		}
	}
	return out, nil
}

// FDBAdd installs a new bridge forwarding-database entry.
func (c *Conn) FDBAdd(f *rtmsg.FDBEntry) error {
	b, err := f.ToNeighbor().Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_NEWNEIGH, request.FlagRequest|request.FlagCreate|request.FlagExcl, b)
}

// FDBDelete removes a bridge forwarding-database entry.
func (c *Conn) FDBDelete(f *rtmsg.FDBEntry) error {
	b, err := f.ToNeighbor().Build()
	if err != nil {
		return err
	}
	return c.do(rtmsg.RTM_DELNEIGH, request.FlagRequest, b)
}

// FDBFlush removes every dynamic FDB entry learned on a device, leaving
// permanent/static entries in place.
func (c *Conn) FDBFlush(ifindex int32) error {
	entries, err := c.FDBList(ifindex)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Permanent {
			continue
		}
		if err := c.FDBDelete(e); err != nil {
			return err
		}
	}
	return nil
}
