package rtmsg_test

import (
	"net"
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestRuleRoundTrip(t *testing.T) {
	r := &rtmsg.Rule{
		Header: rtmsg.Rtmsg{
			Family: rtmsg.AF_INET,
			SrcLen: 24,
		},
		Priority: 1000,
		Table:    100,
		Src:      net.IPv4(10, 1, 2, 0).To4(),
		IifName:  "eth0",
		FwMark:   0x20,
		FwMask:   0xFF,
	}
	b, err := r.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := rtmsg.ParseRule(b)
	if err != nil {
		t.Fatalf("ParseRule failed: %v", err)
	}
	if diff := deep.Equal(r, got); diff != nil {
		t.Error(diff)
	}
}
