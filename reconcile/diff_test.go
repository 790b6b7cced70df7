package reconcile

import (
	"net"
	"strings"
	"testing"

	"github.com/m-lab/netlinkctl/rtmsg"
)

func boolPtr(b bool) *bool       { return &b }
func strPtr(s string) *string    { return &s }

// observedHost builds a kernel snapshot with one physical NIC (eth0, up,
// addressed) and one bridge.
func observedHost() *Observed {
	return &Observed{
		Links: []*rtmsg.Link{
			{Header: rtmsg.IfInfomsg{Index: 1, Flags: rtmsg.IFF_UP | rtmsg.IFF_LOOPBACK}, Name: "lo"},
			{Header: rtmsg.IfInfomsg{Index: 2, Flags: rtmsg.IFF_UP}, Name: "eth0", MTU: 1500},
			{Header: rtmsg.IfInfomsg{Index: 3}, Name: "br0", MTU: 1500, Kind: "bridge"},
		},
		Addresses: []*rtmsg.Address{
			{
				Header:  rtmsg.IfAddrmsg{Family: rtmsg.AF_INET, PrefixLen: 24, Index: 2},
				Local:   net.IPv4(192, 168, 1, 10).To4(),
				Address: net.IPv4(192, 168, 1, 10).To4(),
			},
		},
		Routes: []*rtmsg.Route{
			{
				Header: rtmsg.Rtmsg{
					Family:   rtmsg.AF_INET,
					Table:    rtmsg.RT_TABLE_MAIN,
					Protocol: rtmsg.RTPROT_KERNEL,
					Type:     rtmsg.RTN_UNICAST,
					DstLen:   24,
				},
				Dst:      net.IPv4(192, 168, 1, 0).To4(),
				OutIface: 2,
			},
		},
		Qdiscs: []*rtmsg.Qdisc{
			{Header: rtmsg.Tcmsg{Index: 2, Parent: rtmsg.TcHandleRoot}, Kind: "pfifo_fast"},
		},
	}
}

func TestDiffEmptyWhenConverged(t *testing.T) {
	desired := &NetworkConfig{
		Links: []Link{
			{Name: "eth0", Up: boolPtr(true), MTU: 1500},
			{Name: "br0", Kind: "bridge", MTU: 1500},
		},
		Addresses: []Address{
			{Dev: "eth0", Address: "192.168.1.10", PrefixLen: 24},
		},
	}
	d := Diff(desired, observedHost(), Options{})
	if !d.IsEmpty() {
		t.Errorf("converged state should produce an empty diff, got:\n%s", d.Summary())
	}
	if d.ChangeCount() != 0 {
		t.Errorf("ChangeCount() = %d, want 0", d.ChangeCount())
	}
}

func TestDiffCreatesVirtualNotPhysical(t *testing.T) {
	desired := &NetworkConfig{
		Links: []Link{
			{Name: "dummy0", Kind: "dummy"}, // virtual: create
			{Name: "eth1"},                  // physical: must NOT be created
		},
	}
	d := Diff(desired, observedHost(), Options{})
	if len(d.LinksToAdd) != 1 || d.LinksToAdd[0].Name != "dummy0" {
		t.Errorf("LinksToAdd = %+v, want just dummy0", d.LinksToAdd)
	}
}

func TestDiffLinkModify(t *testing.T) {
	desired := &NetworkConfig{
		Links: []Link{
			{Name: "br0", Kind: "bridge", Up: boolPtr(true), MTU: 9000},
		},
	}
	d := Diff(desired, observedHost(), Options{})
	if len(d.LinksToModify) != 1 {
		t.Fatalf("LinksToModify = %+v, want one entry", d.LinksToModify)
	}
	c := d.LinksToModify[0].Changes
	if c.SetUp == nil || !*c.SetUp {
		t.Error("br0 is down and desired up; SetUp should be true")
	}
	if c.SetMTU == nil || *c.SetMTU != 9000 {
		t.Error("MTU change to 9000 not scheduled")
	}
}

func TestDiffEnslaveAndRelease(t *testing.T) {
	desired := &NetworkConfig{
		Links: []Link{{Name: "eth0", Master: strPtr("br0")}},
	}
	d := Diff(desired, observedHost(), Options{})
	if len(d.LinksToModify) != 1 {
		t.Fatalf("LinksToModify = %+v", d.LinksToModify)
	}
	c := d.LinksToModify[0].Changes
	if c.SetMaster == nil || *c.SetMaster != 3 {
		t.Errorf("SetMaster = %v, want br0's ifindex 3", c.SetMaster)
	}

	// A link already enslaved with master "" desired gets released.
	obs := observedHost()
	obs.Links[1].Master = 3
	d = Diff(&NetworkConfig{Links: []Link{{Name: "eth0", Master: strPtr("")}}}, obs, Options{})
	if len(d.LinksToModify) != 1 {
		t.Fatalf("LinksToModify = %+v", d.LinksToModify)
	}
	c = d.LinksToModify[0].Changes
	if c.SetMaster == nil || *c.SetMaster != 0 {
		t.Errorf("SetMaster = %v, want explicit 0 to clear", c.SetMaster)
	}
}

func TestDiffAddressesAddAndPurge(t *testing.T) {
	desired := &NetworkConfig{
		Addresses: []Address{
			{Dev: "eth0", Address: "10.0.0.1", PrefixLen: 8},
		},
	}

	d := Diff(desired, observedHost(), Options{})
	if len(d.AddressesToAdd) != 1 || d.AddressesToAdd[0].Address != "10.0.0.1" {
		t.Errorf("AddressesToAdd = %+v", d.AddressesToAdd)
	}
	if len(d.AddressesToRemove) != 0 {
		t.Errorf("default mode must not remove: %+v", d.AddressesToRemove)
	}

	d = Diff(desired, observedHost(), Options{Purge: true})
	if len(d.AddressesToRemove) != 1 {
		t.Fatalf("purge should remove the undesired 192.168.1.10: %+v", d.AddressesToRemove)
	}
	rm := d.AddressesToRemove[0]
	if rm.Dev != "eth0" || rm.PrefixLen != 24 || !rm.Address.Equal(net.IPv4(192, 168, 1, 10)) {
		t.Errorf("removal identity = %+v", rm)
	}
}

func TestDiffRoutes(t *testing.T) {
	desired := &NetworkConfig{
		Routes: []Route{
			{Destination: "10.0.0.0", PrefixLen: 8, Gateway: "192.168.1.254", Dev: "eth0"},
			{Destination: "10.255.0.0", PrefixLen: 16, Type: "blackhole"},
		},
	}
	d := Diff(desired, observedHost(), Options{})
	if len(d.RoutesToAdd) != 2 {
		t.Fatalf("RoutesToAdd = %+v, want both", d.RoutesToAdd)
	}

	// In purge mode the kernel's connected route must survive: it is
	// protocol kernel and regenerates from address state anyway.
	d = Diff(desired, observedHost(), Options{Purge: true})
	if len(d.RoutesToRemove) != 0 {
		t.Errorf("kernel-installed route must not be purged: %+v", d.RoutesToRemove)
	}
}

func TestDiffRoutePurgeRemovesStatic(t *testing.T) {
	obs := observedHost()
	obs.Routes = append(obs.Routes, &rtmsg.Route{
		Header: rtmsg.Rtmsg{
			Family:   rtmsg.AF_INET,
			Table:    rtmsg.RT_TABLE_MAIN,
			Protocol: rtmsg.RTPROT_STATIC,
			Type:     rtmsg.RTN_UNICAST,
			DstLen:   8,
		},
		Dst: net.IPv4(10, 0, 0, 0).To4(),
	})
	d := Diff(&NetworkConfig{}, obs, Options{Purge: true})
	if len(d.RoutesToRemove) != 1 {
		t.Fatalf("RoutesToRemove = %+v, want the static 10/8", d.RoutesToRemove)
	}
	if d.RoutesToRemove[0].Table != rtmsg.RT_TABLE_MAIN {
		t.Errorf("removal table = %d", d.RoutesToRemove[0].Table)
	}
}

func TestDiffRouteTypesOutsideSetIgnored(t *testing.T) {
	obs := observedHost()
	obs.Routes = append(obs.Routes, &rtmsg.Route{
		Header: rtmsg.Rtmsg{Family: rtmsg.AF_INET, Type: rtmsg.RTN_LOCAL, DstLen: 32, Protocol: rtmsg.RTPROT_BOOT},
		Dst:    net.IPv4(192, 168, 1, 10).To4(),
	})
	d := Diff(&NetworkConfig{}, obs, Options{Purge: true})
	if len(d.RoutesToRemove) != 0 {
		t.Errorf("local routes are outside the reconciled type set: %+v", d.RoutesToRemove)
	}
}

func TestDiffQdiscs(t *testing.T) {
	// pfifo_fast at eth0's root is the kernel default, so a desired netem
	// there is an add, not a replace.
	desired := &NetworkConfig{
		Qdiscs: []Qdisc{{Dev: "eth0", Kind: "netem"}},
	}
	d := Diff(desired, observedHost(), Options{})
	if len(d.QdiscsToAdd) != 1 || len(d.QdiscsToReplace) != 0 {
		t.Errorf("add/replace = %+v / %+v, want one add", d.QdiscsToAdd, d.QdiscsToReplace)
	}

	// A real qdisc of a different kind gets replaced.
	obs := observedHost()
	obs.Qdiscs[0].Kind = "fq_codel"
	d = Diff(desired, obs, Options{})
	if len(d.QdiscsToReplace) != 1 || len(d.QdiscsToAdd) != 0 {
		t.Errorf("add/replace = %+v / %+v, want one replace", d.QdiscsToAdd, d.QdiscsToReplace)
	}

	// Same kind at the same position: converged.
	obs.Qdiscs[0].Kind = "netem"
	d = Diff(desired, obs, Options{})
	if !d.IsEmpty() {
		t.Errorf("matching qdisc should be empty diff:\n%s", d.Summary())
	}
}

func TestDiffSummaryPrefixes(t *testing.T) {
	desired := &NetworkConfig{
		Links: []Link{
			{Name: "dummy0", Kind: "dummy"},
			{Name: "br0", Kind: "bridge", Up: boolPtr(true)},
		},
		Addresses: []Address{{Dev: "dummy0", Address: "10.1.1.1", PrefixLen: 24}},
	}
	d := Diff(desired, observedHost(), Options{})
	s := d.Summary()
	for _, want := range []string{
		"+ link dummy0 kind dummy",
		"~ link br0 set up",
		"+ address 10.1.1.1/24 dev dummy0",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "- ") {
		t.Errorf("non-purge summary must contain no removals:\n%s", s)
	}
}
