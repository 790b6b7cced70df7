package rtmsg_test

import (
	"testing"

	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestQdiscRoundTrip(t *testing.T) {
	q := &rtmsg.Qdisc{
		Header: rtmsg.Tcmsg{
			Index:  3,
			Handle: rtmsg.MakeHandle(1, 0),
			Parent: rtmsg.TcHandleRoot,
		},
		Kind:    "netem",
		Options: []byte{1, 2, 3, 4},
	}
	b, err := q.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := rtmsg.ParseQdisc(b)
	if err != nil {
		t.Fatalf("ParseQdisc failed: %v", err)
	}
	if got.Kind != "netem" {
		t.Errorf("Kind = %q, want netem", got.Kind)
	}
	if len(got.Options) != 4 {
		t.Errorf("Options length = %d, want 4", len(got.Options))
	}
	if !got.IsRoot() {
		t.Error("root-parent qdisc should report IsRoot")
	}
	if got.IsIngress() {
		t.Error("root-parent qdisc should not report IsIngress")
	}
}

func TestQdiscIngress(t *testing.T) {
	q := &rtmsg.Qdisc{Header: rtmsg.Tcmsg{Parent: rtmsg.TcHandleIngress}, Kind: "ingress"}
	if !q.IsIngress() || q.IsRoot() {
		t.Error("ingress-parent qdisc misclassified")
	}
}

func TestMakeHandle(t *testing.T) {
	if h := rtmsg.MakeHandle(1, 0); h != 0x10000 {
		t.Errorf("MakeHandle(1, 0) = %#x, want 0x10000", h)
	}
	if h := rtmsg.MakeHandle(0xFFFF, 0xFFF1); h != 0xFFFFFFF1 {
		t.Errorf("MakeHandle(ffff, fff1) = %#x", h)
	}
}

func TestClassRoundTrip(t *testing.T) {
	c := &rtmsg.Class{
		Header: rtmsg.Tcmsg{Index: 2, Handle: rtmsg.MakeHandle(1, 10), Parent: rtmsg.MakeHandle(1, 0)},
		Kind:   "htb",
	}
	b, err := c.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := rtmsg.ParseClass(b)
	if err != nil {
		t.Fatalf("ParseClass failed: %v", err)
	}
	if got.Kind != "htb" || got.Header.Handle != rtmsg.MakeHandle(1, 10) {
		t.Errorf("class did not round-trip: %+v", got)
	}
}

func TestTcmsgTruncated(t *testing.T) {
	if _, err := rtmsg.ParseQdisc(make([]byte, 12)); err == nil {
		t.Error("expected a truncation error for a short tcmsg")
	}
}
