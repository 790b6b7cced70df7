package rtmsg_test

import (
	"net"
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestNexthopSingleRoundTrip(t *testing.T) {
	n := &rtmsg.Nexthop{
		Header:   rtmsg.Nhmsg{Family: rtmsg.AF_INET},
		ID:       10,
		OutIface: 2,
		Gateway:  net.IPv4(10, 0, 0, 1).To4(),
	}
	b, err := n.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := rtmsg.ParseNexthop(b)
	if err != nil {
		t.Fatalf("ParseNexthop failed: %v", err)
	}
	if diff := deep.Equal(n, got); diff != nil {
		t.Error(diff)
	}
	if got.IsGroup() {
		t.Error("single nexthop should not report IsGroup")
	}
}

func TestNexthopBlackhole(t *testing.T) {
	n := &rtmsg.Nexthop{Header: rtmsg.Nhmsg{Family: rtmsg.AF_INET}, ID: 66, Blackhole: true}
	b, err := n.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := rtmsg.ParseNexthop(b)
	if err != nil {
		t.Fatalf("ParseNexthop failed: %v", err)
	}
	if !got.Blackhole {
		t.Error("blackhole flag lost in round trip")
	}
	if got.Gateway != nil || got.OutIface != 0 {
		t.Error("blackhole nexthop must carry no gateway or device")
	}
}

func TestNexthopGroupRoundTrip(t *testing.T) {
	n := &rtmsg.Nexthop{
		Header: rtmsg.Nhmsg{Family: rtmsg.AF_UNSPEC},
		ID:     100,
		Group: []rtmsg.NexthopGroupMember{
			{ID: 10, Weight: 1},
			{ID: 11, Weight: 3},
		},
		GroupType: rtmsg.NexthopGroupTypeMultipath,
	}
	b, err := n.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := rtmsg.ParseNexthop(b)
	if err != nil {
		t.Fatalf("ParseNexthop failed: %v", err)
	}
	if diff := deep.Equal(n, got); diff != nil {
		t.Error(diff)
	}
	if !got.IsGroup() {
		t.Error("group nexthop should report IsGroup")
	}
}
