package reconcile

import (
	"fmt"
	"net"
	"strings"

	"github.com/m-lab/netlinkctl/rtmsg"
)

// Observed is a snapshot of the kernel state the diff runs against. It is
// a plain value so the diff itself needs no live connection; Observe
// (apply.go) fills it from an rtnl.Conn.
type Observed struct {
	Links     []*rtmsg.Link
	Addresses []*rtmsg.Address
	Routes    []*rtmsg.Route
	Qdiscs    []*rtmsg.Qdisc
}

// linkByName indexes the observed links by interface name.
func (o *Observed) linkByName() map[string]*rtmsg.Link {
	m := make(map[string]*rtmsg.Link, len(o.Links))
	for _, l := range o.Links {
		m[l.Name] = l
	}
	return m
}

// nameByIndex indexes the observed links by ifindex.
func (o *Observed) nameByIndex() map[int32]string {
	m := make(map[int32]string, len(o.Links))
	for _, l := range o.Links {
		m[l.Header.Index] = l.Name
	}
	return m
}

// LinkModify pairs a link name with the attribute changes that bring the
// observed link to its desired state.
type LinkModify struct {
	Name    string
	Changes *rtmsg.LinkChanges
}

// AddressRemoval identifies one observed address scheduled for removal.
type AddressRemoval struct {
	Dev       string
	Address   net.IP
	PrefixLen uint8
	Family    uint8
}

// RouteRemoval identifies one observed route scheduled for removal.
type RouteRemoval struct {
	Destination net.IP
	PrefixLen   uint8
	Table       uint32
	Family      uint8
}

// QdiscChange identifies a qdisc position (device root or ingress) and the
// desired kind to install there.
type QdiscChange struct {
	Dev     string
	Kind    string
	Ingress bool
}

// ConfigDiff is the ordered set of changes that brings observed state to
// desired state. The removal lists stay empty unless the diff was
// computed in purge mode; physical links never appear in LinksToAdd or
// LinksToRemove regardless of mode.
type ConfigDiff struct {
	LinksToAdd    []Link
	LinksToRemove []string
	LinksToModify []LinkModify

	AddressesToAdd    []Address
	AddressesToRemove []AddressRemoval

	RoutesToAdd    []Route
	RoutesToRemove []RouteRemoval

	QdiscsToAdd     []QdiscChange
	QdiscsToReplace []QdiscChange
	QdiscsToRemove  []QdiscChange
}

// Options modify diff behavior.
type Options struct {
	// Purge schedules removal of observed-but-undesired addresses and
	// qdiscs on devices the config mentions, and of undesired non-kernel
	// routes on any device or none. It is off by
	// default: the reconciler never removes state it does not own unless
	// explicitly told to.
	Purge bool
}

// IsEmpty reports whether the diff contains no changes.
func (d *ConfigDiff) IsEmpty() bool { return d.ChangeCount() == 0 }

// ChangeCount returns the total number of scheduled changes.
func (d *ConfigDiff) ChangeCount() int {
	return len(d.LinksToAdd) + len(d.LinksToRemove) + len(d.LinksToModify) +
		len(d.AddressesToAdd) + len(d.AddressesToRemove) +
		len(d.RoutesToAdd) + len(d.RoutesToRemove) +
		len(d.QdiscsToAdd) + len(d.QdiscsToReplace) + len(d.QdiscsToRemove)
}

// Summary renders one line per change, prefixed with "+", "-", or "~" for
// add, remove, and modify.
func (d *ConfigDiff) Summary() string {
	var b strings.Builder
	for _, l := range d.LinksToAdd {
		fmt.Fprintf(&b, "+ link %s kind %s\n", l.Name, l.Kind)
	}
	for _, m := range d.LinksToModify {
		fmt.Fprintf(&b, "~ link %s%s\n", m.Name, describeLinkChanges(m.Changes))
	}
	for _, name := range d.LinksToRemove {
		fmt.Fprintf(&b, "- link %s\n", name)
	}
	for _, a := range d.AddressesToAdd {
		fmt.Fprintf(&b, "+ address %s/%d dev %s\n", a.Address, a.PrefixLen, a.Dev)
	}
	for _, a := range d.AddressesToRemove {
		fmt.Fprintf(&b, "- address %s/%d dev %s\n", a.Address, a.PrefixLen, a.Dev)
	}
	for _, r := range d.RoutesToAdd {
		fmt.Fprintf(&b, "+ route %s/%d table %d\n", r.Destination, r.PrefixLen, r.EffectiveTable())
	}
	for _, r := range d.RoutesToRemove {
		fmt.Fprintf(&b, "- route %s/%d table %d\n", r.Destination, r.PrefixLen, r.Table)
	}
	for _, q := range d.QdiscsToReplace {
		fmt.Fprintf(&b, "~ qdisc %s dev %s%s\n", q.Kind, q.Dev, ingressSuffix(q.Ingress))
	}
	for _, q := range d.QdiscsToAdd {
		fmt.Fprintf(&b, "+ qdisc %s dev %s%s\n", q.Kind, q.Dev, ingressSuffix(q.Ingress))
	}
	for _, q := range d.QdiscsToRemove {
		fmt.Fprintf(&b, "- qdisc %s dev %s%s\n", q.Kind, q.Dev, ingressSuffix(q.Ingress))
	}
	return b.String()
}

func ingressSuffix(ingress bool) string {
	if ingress {
		return " ingress"
	}
	return ""
}

func describeLinkChanges(c *rtmsg.LinkChanges) string {
	var parts []string
	if c.SetUp != nil {
		if *c.SetUp {
			parts = append(parts, "up")
		} else {
			parts = append(parts, "down")
		}
	}
	if c.SetMTU != nil {
		parts = append(parts, fmt.Sprintf("mtu %d", *c.SetMTU))
	}
	if c.SetMaster != nil {
		if *c.SetMaster == 0 {
			parts = append(parts, "nomaster")
		} else {
			parts = append(parts, fmt.Sprintf("master %d", *c.SetMaster))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " set " + strings.Join(parts, ", ")
}

// Diff computes the changes that bring observed to desired.
func Diff(desired *NetworkConfig, observed *Observed, opts Options) *ConfigDiff {
	d := &ConfigDiff{}
	byName := observed.linkByName()
	nameOf := observed.nameByIndex()

	diffLinks(d, desired, byName)
	diffAddresses(d, desired, observed, byName, nameOf, opts)
	diffRoutes(d, desired, observed, opts)
	diffQdiscs(d, desired, observed, nameOf, opts)
	return d
}

func diffLinks(d *ConfigDiff, desired *NetworkConfig, byName map[string]*rtmsg.Link) {
	for i := range desired.Links {
		want := &desired.Links[i]
		have, exists := byName[want.Name]
		if !exists {
			// Physical interfaces are a property of the host, not of
			// user configuration: an absent one is not created.
			if !want.IsPhysical() {
				d.LinksToAdd = append(d.LinksToAdd, *want)
			}
			continue
		}

		changes := &rtmsg.LinkChanges{}
		if want.Up != nil && *want.Up != have.IsUp() {
			up := *want.Up
			changes.SetUp = &up
		}
		if want.MTU != 0 && want.MTU != have.MTU {
			mtu := want.MTU
			changes.SetMTU = &mtu
		}
		if want.Master != nil {
			var wantIdx int32
			if *want.Master != "" {
				if master, ok := byName[*want.Master]; ok {
					wantIdx = master.Header.Index
				}
			}
			if wantIdx != have.Master {
				idx := wantIdx
				changes.SetMaster = &idx
			}
		}
		if !changes.IsEmpty() {
			d.LinksToModify = append(d.LinksToModify, LinkModify{Name: want.Name, Changes: changes})
		}
	}
}

type addrKey struct {
	dev    string
	addr   string
	prefix uint8
}

func diffAddresses(d *ConfigDiff, desired *NetworkConfig, observed *Observed, byName map[string]*rtmsg.Link, nameOf map[int32]string, opts Options) {
	have := make(map[addrKey]bool)
	for _, a := range observed.Addresses {
		dev := nameOf[int32(a.Header.Index)]
		ip := a.Address
		if ip == nil {
			ip = a.Local
		}
		if dev == "" || ip == nil {
			continue
		}
		have[addrKey{dev, ip.String(), a.Header.PrefixLen}] = true
	}

	want := make(map[addrKey]bool)
	managedDevs := make(map[string]bool)
	for i := range desired.Addresses {
		a := &desired.Addresses[i]
		ip := a.IP()
		if ip == nil {
			continue
		}
		k := addrKey{a.Dev, ip.String(), a.PrefixLen}
		want[k] = true
		managedDevs[a.Dev] = true
		if !have[k] {
			// The link may also be pending creation; the apply order
			// (links first) makes that safe.
			d.AddressesToAdd = append(d.AddressesToAdd, *a)
		}
	}

	if !opts.Purge {
		return
	}
	for _, a := range observed.Addresses {
		dev := nameOf[int32(a.Header.Index)]
		ip := a.Address
		if ip == nil {
			ip = a.Local
		}
		if dev == "" || ip == nil || !managedDevs[dev] {
			continue
		}
		// Kernel-managed addresses are left alone even in purge mode:
		// link-local IPv6 comes back on its own, and loopback is not
		// user configuration.
		if ip.IsLinkLocalUnicast() || ip.IsLoopback() {
			continue
		}
		k := addrKey{dev, ip.String(), a.Header.PrefixLen}
		if !want[k] {
			d.AddressesToRemove = append(d.AddressesToRemove, AddressRemoval{
				Dev:       dev,
				Address:   ip,
				PrefixLen: a.Header.PrefixLen,
				Family:    a.Header.Family,
			})
		}
	}
}

type routeKey struct {
	dst    string
	prefix uint8
	table  uint32
}

// dstString normalizes a route destination for matching: a zero-length
// prefix is "default" regardless of how the all-zeros address is spelled.
func dstString(ip net.IP, prefixLen uint8) string {
	if prefixLen == 0 || ip == nil {
		return "default"
	}
	return ip.String()
}

// reconcilableRouteType reports whether the diff manages routes of this
// type (unicast, blackhole, unreachable, prohibit only).
func reconcilableRouteType(t uint8) bool {
	switch t {
	case rtmsg.RTN_UNICAST, rtmsg.RTN_BLACKHOLE, rtmsg.RTN_UNREACHABLE, rtmsg.RTN_PROHIBIT:
		return true
	}
	return false
}

func diffRoutes(d *ConfigDiff, desired *NetworkConfig, observed *Observed, opts Options) {
	have := make(map[routeKey]bool)
	for _, r := range observed.Routes {
		if !reconcilableRouteType(r.Header.Type) {
			continue
		}
		have[routeKey{dstString(r.Dst, r.Header.DstLen), r.Header.DstLen, r.EffectiveTable()}] = true
	}

	want := make(map[routeKey]bool)
	for i := range desired.Routes {
		r := &desired.Routes[i]
		if _, ok := r.TypeCode(); !ok {
			continue
		}
		k := routeKey{dstString(net.ParseIP(r.Destination), r.PrefixLen), r.PrefixLen, r.EffectiveTable()}
		want[k] = true
		if !have[k] {
			d.RoutesToAdd = append(d.RoutesToAdd, *r)
		}
	}

	if !opts.Purge {
		return
	}
	for _, r := range observed.Routes {
		if !reconcilableRouteType(r.Header.Type) {
			continue
		}
		// Kernel-installed routes (connected subnets) regenerate from
		// address state; purging them would fight the kernel.
		if r.Header.Protocol == rtmsg.RTPROT_KERNEL {
			continue
		}
		k := routeKey{dstString(r.Dst, r.Header.DstLen), r.Header.DstLen, r.EffectiveTable()}
		if !want[k] {
			d.RoutesToRemove = append(d.RoutesToRemove, RouteRemoval{
				Destination: r.Dst,
				PrefixLen:   r.Header.DstLen,
				Table:       r.EffectiveTable(),
				Family:      r.Header.Family,
			})
		}
	}
}

// defaultQdiscKinds are the qdiscs the kernel attaches on its own; their
// presence at root is the "nothing configured" state, not user state.
var defaultQdiscKinds = map[string]bool{
	"noqueue":    true,
	"pfifo_fast": true,
	"mq":         true,
	"noop":       true,
}

func diffQdiscs(d *ConfigDiff, desired *NetworkConfig, observed *Observed, nameOf map[int32]string, opts Options) {
	type pos struct {
		dev     string
		ingress bool
	}
	have := make(map[pos]string)
	for _, q := range observed.Qdiscs {
		dev := nameOf[q.Header.Index]
		if dev == "" {
			continue
		}
		if q.IsRoot() {
			have[pos{dev, false}] = q.Kind
		} else if q.IsIngress() {
			have[pos{dev, true}] = q.Kind
		}
		// Child qdiscs under classes are not reconciled.
	}

	want := make(map[pos]bool)
	for i := range desired.Qdiscs {
		q := &desired.Qdiscs[i]
		p := pos{q.Dev, q.IsIngress()}
		want[p] = true
		change := QdiscChange{Dev: q.Dev, Kind: q.Kind, Ingress: q.IsIngress()}
		haveKind, exists := have[p]
		switch {
		case !exists || defaultQdiscKinds[haveKind]:
			d.QdiscsToAdd = append(d.QdiscsToAdd, change)
		case haveKind != q.Kind:
			d.QdiscsToReplace = append(d.QdiscsToReplace, change)
		}
	}

	if !opts.Purge {
		return
	}
	managed := make(map[string]bool)
	for i := range desired.Qdiscs {
		managed[desired.Qdiscs[i].Dev] = true
	}
	for _, q := range observed.Qdiscs {
		dev := nameOf[q.Header.Index]
		if dev == "" || !managed[dev] || defaultQdiscKinds[q.Kind] {
			continue
		}
		var p pos
		if q.IsRoot() {
			p = pos{dev, false}
		} else if q.IsIngress() {
			p = pos{dev, true}
		} else {
			continue
		}
		if !want[p] {
			d.QdiscsToRemove = append(d.QdiscsToRemove, QdiscChange{Dev: dev, Kind: q.Kind, Ingress: p.ingress})
		}
	}
}
