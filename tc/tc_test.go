package tc_test

import (
	"testing"

	"github.com/m-lab/netlinkctl/rtmsg"
	"github.com/m-lab/netlinkctl/tc"
)

func TestNewNetemQdisc(t *testing.T) {
	q, err := tc.NewNetemQdisc(3, rtmsg.MakeHandle(1, 0), rtmsg.TcHandleRoot,
		&rtmsg.NetemOptions{Latency: 100000, Limit: 1000})
	if err != nil {
		t.Fatalf("NewNetemQdisc failed: %v", err)
	}
	if q.Kind != tc.KindNetem || !q.IsRoot() {
		t.Errorf("qdisc = %+v", q)
	}
	opts, err := rtmsg.DecodeNetemOptions(q.Options)
	if err != nil {
		t.Fatalf("options did not decode: %v", err)
	}
	if opts.Latency != 100000 {
		t.Errorf("Latency = %d", opts.Latency)
	}
}

func TestNewHTBClass(t *testing.T) {
	cl, err := tc.NewHTBClass(2, rtmsg.MakeHandle(1, 0), rtmsg.MakeHandle(1, 10),
		&rtmsg.HTBClassOptions{Rate: 125000, Ceil: 250000})
	if err != nil {
		t.Fatalf("NewHTBClass failed: %v", err)
	}
	if cl.Kind != tc.KindHTB || cl.Header.Handle != rtmsg.MakeHandle(1, 10) {
		t.Errorf("class = %+v", cl)
	}
	opts, err := rtmsg.DecodeHTBClassOptions(cl.Options)
	if err != nil {
		t.Fatalf("options did not decode: %v", err)
	}
	if opts.Rate != 125000 || opts.Ceil != 250000 {
		t.Errorf("rate/ceil = %d/%d", opts.Rate, opts.Ceil)
	}
}

func TestGactAction(t *testing.T) {
	a := tc.NewGactAction(tc.ActShot)
	if a.Kind != tc.ActionGact {
		t.Errorf("Kind = %q", a.Kind)
	}
	if got := rtmsg.NativeEndian.Uint32(a.Options[8:12]); got != tc.ActShot {
		t.Errorf("tc_gen.action = %d, want shot", got)
	}
}

func TestMirredAction(t *testing.T) {
	a := tc.NewMirredAction(tc.MirredEgressRedirect, 7)
	if a.Kind != tc.ActionMirred {
		t.Errorf("Kind = %q", a.Kind)
	}
	if got := rtmsg.NativeEndian.Uint32(a.Options[20:24]); got != tc.MirredEgressRedirect {
		t.Errorf("eaction = %d", got)
	}
	if got := rtmsg.NativeEndian.Uint32(a.Options[24:28]); got != 7 {
		t.Errorf("ifindex = %d", got)
	}
}
