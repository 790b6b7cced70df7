package events

import (
	"net"
	"testing"

	"github.com/m-lab/netlinkctl/rtmsg"
)

func mustBuild(t *testing.T, build func() ([]byte, error)) []byte {
	t.Helper()
	b, err := build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return b
}

func TestDecodeLinkEvents(t *testing.T) {
	link := &rtmsg.Link{Header: rtmsg.IfInfomsg{Index: 5}, Name: "dummy0", Kind: "dummy"}
	body := mustBuild(t, link.Build())

	ev, ok := decode(rtmsg.RTM_NEWLINK, body)
	if !ok {
		t.Fatal("NEWLINK did not decode")
	}
	if ev.Kind != KindNewLink || ev.Link == nil || ev.Link.Name != "dummy0" {
		t.Errorf("event = %+v, want NewLink dummy0", ev)
	}

	ev, ok = decode(rtmsg.RTM_DELLINK, body)
	if !ok || ev.Kind != KindDelLink {
		t.Errorf("DELLINK decoded as %v", ev.Kind)
	}
}

func TestDecodeAddressAndRouteEvents(t *testing.T) {
	addr := &rtmsg.Address{
		Header: rtmsg.IfAddrmsg{Family: rtmsg.AF_INET, PrefixLen: 24, Index: 5},
		Local:  net.IPv4(192, 168, 1, 100).To4(),
	}
	ev, ok := decode(rtmsg.RTM_NEWADDR, mustBuild(t, addr.Build()))
	if !ok || ev.Kind != KindNewAddress || ev.Address == nil {
		t.Errorf("NEWADDR event = %+v", ev)
	}

	route := &rtmsg.Route{
		Header: rtmsg.Rtmsg{Family: rtmsg.AF_INET, DstLen: 8, Type: rtmsg.RTN_UNICAST},
		Dst:    net.IPv4(10, 0, 0, 0).To4(),
	}
	ev, ok = decode(rtmsg.RTM_DELROUTE, mustBuild(t, route.Build()))
	if !ok || ev.Kind != KindDelRoute || ev.Route == nil {
		t.Errorf("DELROUTE event = %+v", ev)
	}
}

func TestDecodeUnknownTypeSkipped(t *testing.T) {
	if _, ok := decode(0xABC, []byte{1, 2, 3}); ok {
		t.Error("unknown message type must be skipped, not decoded")
	}
}

func TestDecodeGarbageBodySkipped(t *testing.T) {
	// A body shorter than its fixed header is unparseable; the stream
	// drops it silently rather than erroring out.
	if _, ok := decode(rtmsg.RTM_NEWLINK, []byte{1, 2}); ok {
		t.Error("truncated body must be skipped")
	}
}

func TestDecodeNeighborEvent(t *testing.T) {
	n := &rtmsg.Neighbor{
		Header: rtmsg.Ndmsg{Family: rtmsg.AF_INET, Index: 2, State: rtmsg.NUD_REACHABLE},
		Dst:    net.IPv4(192, 168, 1, 1).To4(),
	}
	ev, ok := decode(rtmsg.RTM_NEWNEIGH, mustBuild(t, n.Build()))
	if !ok || ev.Kind != KindNewNeighbor || ev.Neighbor == nil {
		t.Errorf("NEWNEIGH event = %+v", ev)
	}
	if !ev.Neighbor.IsReachable() {
		t.Error("decoded neighbor lost its state")
	}
}
