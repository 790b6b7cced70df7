package rtmsg_test

import (
	"errors"
	"net"
	"testing"

	"github.com/m-lab/netlinkctl/nlerr"
	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestAddressRoundTrip(t *testing.T) {
	a := &rtmsg.Address{
		Header: rtmsg.IfAddrmsg{
			Family:    rtmsg.AF_INET,
			PrefixLen: 24,
			Scope:     rtmsg.RT_SCOPE_UNIVERSE,
			Index:     3,
		},
		Local:     net.IPv4(192, 168, 1, 100).To4(),
		Address:   net.IPv4(192, 168, 1, 100).To4(),
		Broadcast: net.IPv4(192, 168, 1, 255).To4(),
		Label:     "dummy0",
		Flags:     rtmsg.IFA_F_PERMANENT,
	}
	b, err := a.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := rtmsg.ParseAddress(b)
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	if !got.Local.Equal(a.Local) || !got.Broadcast.Equal(a.Broadcast) {
		t.Errorf("addresses did not round-trip: got local %v broadcast %v", got.Local, got.Broadcast)
	}
	if got.Label != "dummy0" {
		t.Errorf("Label = %q, want dummy0", got.Label)
	}
	if got.Header.PrefixLen != 24 {
		t.Errorf("PrefixLen = %d, want 24", got.Header.PrefixLen)
	}
	if !got.IsPermanent() {
		t.Error("IFA_F_PERMANENT address should report IsPermanent")
	}
}

func TestAddressIPv6BroadcastRejected(t *testing.T) {
	a := &rtmsg.Address{
		Header:    rtmsg.IfAddrmsg{Family: rtmsg.AF_INET6, PrefixLen: 64},
		Local:     net.ParseIP("2001:db8::1"),
		Broadcast: net.ParseIP("2001:db8::ff"),
	}
	_, err := a.Build()
	if err == nil {
		t.Fatal("an IPv6 broadcast must be rejected at build time")
	}
	var verr *nlerr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error is %T, want *nlerr.ValidationError", err)
	}
	if verr.Field != "broadcast" {
		t.Errorf("Field = %q, want broadcast", verr.Field)
	}
}

func TestAddressHeaderFlagFallback(t *testing.T) {
	// Older kernels report flags only in the fixed header byte.
	a := &rtmsg.Address{Header: rtmsg.IfAddrmsg{Flags: rtmsg.IFA_F_PERMANENT}}
	if !a.IsPermanent() {
		t.Error("header-byte permanent flag should count without IFA_FLAGS")
	}
}

func TestAddressParseTruncated(t *testing.T) {
	if _, err := rtmsg.ParseAddress(make([]byte, 4)); err == nil {
		t.Error("expected a truncation error for a short ifaddrmsg")
	}
}
