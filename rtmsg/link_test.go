package rtmsg_test

import (
	"net"
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestLinkRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		link rtmsg.Link
	}{
		{
			name: "dummy with attrs",
			link: rtmsg.Link{
				Header:  rtmsg.IfInfomsg{Index: 7, Flags: rtmsg.IFF_UP | rtmsg.IFF_BROADCAST},
				Name:    "dummy0",
				Address: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
				MTU:     1500,
				TxQLen:  1000,
				Kind:    "dummy",
			},
		},
		{
			name: "veth with master and alias",
			link: rtmsg.Link{
				Header: rtmsg.IfInfomsg{Index: 12},
				Name:   "veth0",
				Link:   13,
				Master: 4,
				Alias:  "uplink",
				Group:  9,
				Kind:   "veth",
			},
		},
		{
			name: "bare header only",
			link: rtmsg.Link{Header: rtmsg.IfInfomsg{Index: 1}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.link.Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			got, err := rtmsg.ParseLink(b)
			if err != nil {
				t.Fatalf("ParseLink failed: %v", err)
			}
			if diff := deep.Equal(&tt.link, got); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestLinkIsUp(t *testing.T) {
	up := &rtmsg.Link{Header: rtmsg.IfInfomsg{Flags: rtmsg.IFF_UP}}
	if !up.IsUp() {
		t.Error("IFF_UP link should report IsUp")
	}
	down := &rtmsg.Link{}
	if down.IsUp() {
		t.Error("flagless link should not report IsUp")
	}
}

func TestLinkParseTruncated(t *testing.T) {
	if _, err := rtmsg.ParseLink(make([]byte, 10)); err == nil {
		t.Error("expected a truncation error for a short ifinfomsg")
	}
}

func TestLinkChangesApply(t *testing.T) {
	up := true
	mtu := uint32(9000)
	clear := int32(0)
	c := &rtmsg.LinkChanges{SetUp: &up, SetMTU: &mtu, SetMaster: &clear}
	if c.IsEmpty() {
		t.Fatal("changes should not be empty")
	}
	l := c.Apply(5)
	if l.Header.Index != 5 {
		t.Errorf("Apply(5) index = %d", l.Header.Index)
	}
	if l.Header.Flags&rtmsg.IFF_UP == 0 || l.Header.Change&rtmsg.IFF_UP == 0 {
		t.Error("SetUp should set both Flags and Change for IFF_UP")
	}
	if l.MTU != 9000 {
		t.Errorf("MTU = %d, want 9000", l.MTU)
	}

	if !(&rtmsg.LinkChanges{}).IsEmpty() {
		t.Error("zero LinkChanges should be empty")
	}
}

func TestLinkChangesDown(t *testing.T) {
	down := false
	l := (&rtmsg.LinkChanges{SetUp: &down}).Apply(3)
	if l.Header.Flags&rtmsg.IFF_UP != 0 {
		t.Error("SetUp=false must not set IFF_UP in Flags")
	}
	if l.Header.Change&rtmsg.IFF_UP == 0 {
		t.Error("SetUp=false must still mark IFF_UP in Change")
	}
}
