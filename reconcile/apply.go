package reconcile

import (
	"fmt"
	"net"

	"github.com/m-lab/netlinkctl/metrics"
	"github.com/m-lab/netlinkctl/rtmsg"
	"github.com/m-lab/netlinkctl/rtnl"
	"github.com/prometheus/client_golang/prometheus"
)

// Observe snapshots the kernel state the diff needs: links, addresses,
// routes, and qdiscs, all read over one connection.
func Observe(conn *rtnl.Conn) (*Observed, error) {
	links, err := conn.LinkList()
	if err != nil {
		return nil, fmt.Errorf("reconcile: observing links: %w", err)
	}
	addrs, err := conn.AddressList()
	if err != nil {
		return nil, fmt.Errorf("reconcile: observing addresses: %w", err)
	}
	routes, err := conn.RouteList()
	if err != nil {
		return nil, fmt.Errorf("reconcile: observing routes: %w", err)
	}
	qdiscs, err := conn.QdiscList()
	if err != nil {
		return nil, fmt.Errorf("reconcile: observing qdiscs: %w", err)
	}
	return &Observed{Links: links, Addresses: addrs, Routes: routes, Qdiscs: qdiscs}, nil
}

func countChange(kind, action string) {
	metrics.ReconcileChangeCount.With(prometheus.Labels{"kind": kind, "action": action}).Inc()
}

// Apply executes the diff over conn in dependency order: links are
// created before anything that references them, and qdiscs are settled
// before the routes that steer traffic into them. Purge removals run
// last, in reverse dependency order.
func (d *ConfigDiff) Apply(conn *rtnl.Conn) error {
	for _, l := range d.LinksToAdd {
		link := &rtmsg.Link{Name: l.Name, Kind: l.Kind}
		if l.MTU != 0 {
			link.MTU = l.MTU
		}
		if err := conn.LinkAdd(link); err != nil {
			return fmt.Errorf("reconcile: adding link %s: %w", l.Name, err)
		}
		countChange("link", "add")
	}

	// Link creation may have changed the name->index map; resolve names
	// lazily from here on.
	idx := newIndexResolver(conn)

	for _, m := range d.LinksToModify {
		ifindex, err := idx.lookup(m.Name)
		if err != nil {
			return err
		}
		if err := conn.LinkModify(ifindex, m.Changes); err != nil {
			return fmt.Errorf("reconcile: modifying link %s: %w", m.Name, err)
		}
		countChange("link", "modify")
	}

	// Newly created links from LinksToAdd also honor their up/mtu
	// settings: the diff only emits LinksToModify for pre-existing
	// links, so handle the new ones here.
	for _, l := range d.LinksToAdd {
		if l.Up == nil || !*l.Up {
			continue
		}
		ifindex, err := idx.lookup(l.Name)
		if err != nil {
			return err
		}
		up := true
		if err := conn.LinkModify(ifindex, &rtmsg.LinkChanges{SetUp: &up}); err != nil {
			return fmt.Errorf("reconcile: bringing up link %s: %w", l.Name, err)
		}
	}

	for _, a := range d.AddressesToAdd {
		ifindex, err := idx.lookup(a.Dev)
		if err != nil {
			return err
		}
		msg, err := buildAddress(&a, ifindex)
		if err != nil {
			return err
		}
		if err := conn.AddressReplace(msg); err != nil {
			return fmt.Errorf("reconcile: adding address %s/%d on %s: %w", a.Address, a.PrefixLen, a.Dev, err)
		}
		countChange("address", "add")
	}

	for _, q := range d.QdiscsToReplace {
		if err := applyQdisc(conn, idx, q, true); err != nil {
			return err
		}
		countChange("qdisc", "replace")
	}
	for _, q := range d.QdiscsToAdd {
		if err := applyQdisc(conn, idx, q, true); err != nil {
			return err
		}
		countChange("qdisc", "add")
	}

	for _, r := range d.RoutesToAdd {
		msg, err := buildRoute(&r, idx)
		if err != nil {
			return err
		}
		if err := conn.RouteReplace(msg); err != nil {
			return fmt.Errorf("reconcile: adding route %s/%d: %w", r.Destination, r.PrefixLen, err)
		}
		countChange("route", "add")
	}

	for _, r := range d.RoutesToRemove {
		msg := &rtmsg.Route{
			Header: rtmsg.Rtmsg{Family: r.Family, DstLen: r.PrefixLen},
			Dst:    r.Destination,
		}
		setRouteTable(msg, r.Table)
		if err := conn.RouteDelete(msg); err != nil {
			return fmt.Errorf("reconcile: removing route %v/%d: %w", r.Destination, r.PrefixLen, err)
		}
		countChange("route", "remove")
	}

	for _, a := range d.AddressesToRemove {
		ifindex, err := idx.lookup(a.Dev)
		if err != nil {
			return err
		}
		msg := &rtmsg.Address{
			Header: rtmsg.IfAddrmsg{
				Family:    a.Family,
				PrefixLen: a.PrefixLen,
				Index:     uint32(ifindex),
			},
			Local:   a.Address,
			Address: a.Address,
		}
		if err := conn.AddressDelete(msg); err != nil {
			return fmt.Errorf("reconcile: removing address %s/%d on %s: %w", a.Address, a.PrefixLen, a.Dev, err)
		}
		countChange("address", "remove")
	}

	for _, q := range d.QdiscsToRemove {
		ifindex, err := idx.lookup(q.Dev)
		if err != nil {
			return err
		}
		if err := conn.QdiscDelete(qdiscAt(ifindex, q.Ingress, q.Kind)); err != nil {
			return fmt.Errorf("reconcile: removing qdisc on %s: %w", q.Dev, err)
		}
		countChange("qdisc", "remove")
	}

	for _, name := range d.LinksToRemove {
		ifindex, err := idx.lookup(name)
		if err != nil {
			return err
		}
		if err := conn.LinkDelete(ifindex); err != nil {
			return fmt.Errorf("reconcile: removing link %s: %w", name, err)
		}
		countChange("link", "remove")
	}

	return nil
}

// indexResolver caches name->ifindex lookups for one Apply pass.
type indexResolver struct {
	conn  *rtnl.Conn
	cache map[string]int32
}

func newIndexResolver(conn *rtnl.Conn) *indexResolver {
	return &indexResolver{conn: conn, cache: make(map[string]int32)}
}

func (r *indexResolver) lookup(name string) (int32, error) {
	if idx, ok := r.cache[name]; ok {
		return idx, nil
	}
	link, err := r.conn.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("reconcile: resolving link %s: %w", name, err)
	}
	r.cache[name] = link.Header.Index
	return link.Header.Index, nil
}

func buildAddress(a *Address, ifindex int32) (*rtmsg.Address, error) {
	ip := a.IP()
	if ip == nil {
		return nil, fmt.Errorf("reconcile: invalid address %q on %s", a.Address, a.Dev)
	}
	family := uint8(rtmsg.AF_INET6)
	if ip.To4() != nil {
		family = rtmsg.AF_INET
	}
	msg := &rtmsg.Address{
		Header: rtmsg.IfAddrmsg{
			Family:    family,
			PrefixLen: a.PrefixLen,
			Scope:     rtmsg.RT_SCOPE_UNIVERSE,
			Index:     uint32(ifindex),
		},
		Local:   ip,
		Address: ip,
		Label:   a.Label,
	}
	if a.Broadcast != "" {
		msg.Broadcast = net.ParseIP(a.Broadcast)
	}
	return msg, nil
}

func buildRoute(r *Route, idx *indexResolver) (*rtmsg.Route, error) {
	typeCode, ok := r.TypeCode()
	if !ok {
		return nil, fmt.Errorf("reconcile: unsupported route type %q", r.Type)
	}
	dst := net.ParseIP(r.Destination)
	if dst == nil {
		return nil, fmt.Errorf("reconcile: invalid route destination %q", r.Destination)
	}
	family := uint8(rtmsg.AF_INET6)
	if dst.To4() != nil {
		family = rtmsg.AF_INET
	}
	msg := &rtmsg.Route{
		Header: rtmsg.Rtmsg{
			Family:   family,
			DstLen:   r.PrefixLen,
			Protocol: rtmsg.RTPROT_STATIC,
			Scope:    rtmsg.RT_SCOPE_UNIVERSE,
			Type:     typeCode,
		},
		Dst: dst,
	}
	setRouteTable(msg, r.EffectiveTable())
	if r.Gateway != "" {
		gw := net.ParseIP(r.Gateway)
		if gw == nil {
			return nil, fmt.Errorf("reconcile: invalid gateway %q", r.Gateway)
		}
		msg.Gateway = gw
	}
	if r.Dev != "" {
		ifindex, err := idx.lookup(r.Dev)
		if err != nil {
			return nil, err
		}
		msg.OutIface = ifindex
		if r.Gateway == "" && typeCode == rtmsg.RTN_UNICAST {
			msg.Header.Scope = rtmsg.RT_SCOPE_LINK
		}
	}
	return msg, nil
}

// setRouteTable stores a table id in the header byte when it fits, and in
// the RTA_TABLE attribute when it does not.
func setRouteTable(msg *rtmsg.Route, table uint32) {
	if table < 256 {
		msg.Header.Table = uint8(table)
	} else {
		msg.Table = table
	}
}

// ingressHandle is the conventional handle for the ingress qdisc
// (ffff:0000), matching what `tc qdisc add dev X ingress` installs.
const ingressHandle = 0xFFFF0000

func qdiscAt(ifindex int32, ingress bool, kind string) *rtmsg.Qdisc {
	q := &rtmsg.Qdisc{
		Header: rtmsg.Tcmsg{Index: ifindex, Parent: rtmsg.TcHandleRoot},
		Kind:   kind,
	}
	if ingress {
		q.Header.Parent = rtmsg.TcHandleIngress
		q.Header.Handle = ingressHandle
	}
	return q
}

func applyQdisc(conn *rtnl.Conn, idx *indexResolver, q QdiscChange, replace bool) error {
	ifindex, err := idx.lookup(q.Dev)
	if err != nil {
		return err
	}
	msg := qdiscAt(ifindex, q.Ingress, q.Kind)
	if replace {
		err = conn.QdiscReplace(msg)
	} else {
		err = conn.QdiscAdd(msg)
	}
	if err != nil {
		return fmt.Errorf("reconcile: installing %s qdisc on %s: %w", q.Kind, q.Dev, err)
	}
	return nil
}
