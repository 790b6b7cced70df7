package rtmsg_test

import (
	"testing"

	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestHTBRoundTrip(t *testing.T) {
	o := &rtmsg.HTBClassOptions{
		Rate:    125000, // 1 Mbit/s in bytes/sec
		Ceil:    250000,
		Burst:   2000,
		CBurst:  2000,
		Quantum: 1514,
	}
	b, err := o.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := rtmsg.DecodeHTBClassOptions(b)
	if err != nil {
		t.Fatalf("DecodeHTBClassOptions failed: %v", err)
	}
	if got.Rate != o.Rate || got.Ceil != o.Ceil {
		t.Errorf("rate/ceil = %d/%d, want %d/%d", got.Rate, got.Ceil, o.Rate, o.Ceil)
	}
	if got.Burst != 2000 || got.CBurst != 2000 {
		t.Errorf("burst/cburst = %d/%d, want 2000/2000", got.Burst, got.CBurst)
	}
	if got.Quantum != 1514 {
		t.Errorf("quantum = %d, want 1514", got.Quantum)
	}
}

func TestHTBOverflowRateEmits64Bit(t *testing.T) {
	// A rate that does not fit in 32 bits must survive via TCA_HTB_RATE64
	// while the 32-bit field saturates.
	o := &rtmsg.HTBClassOptions{
		Rate: 5 << 30, // 5 GiB/s
		Ceil: 6 << 30,
	}
	b, err := o.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := rtmsg.DecodeHTBClassOptions(b)
	if err != nil {
		t.Fatalf("DecodeHTBClassOptions failed: %v", err)
	}
	if got.Rate != o.Rate {
		t.Errorf("Rate = %d, want %d (64-bit attribute must supersede the saturated field)", got.Rate, o.Rate)
	}
	if got.Ceil != o.Ceil {
		t.Errorf("Ceil = %d, want %d", got.Ceil, o.Ceil)
	}
}

func TestHTBBurstDefaults(t *testing.T) {
	// Leaving burst/cburst zero derives them from rate and MTU; the
	// derived values must never be below one MTU.
	o := &rtmsg.HTBClassOptions{Rate: 1000, Ceil: 1000, MTU: 1500}
	b, err := o.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := rtmsg.DecodeHTBClassOptions(b)
	if err != nil {
		t.Fatalf("DecodeHTBClassOptions failed: %v", err)
	}
	if got.Burst < 1500 || got.CBurst < 1500 {
		t.Errorf("derived burst/cburst = %d/%d, want >= MTU", got.Burst, got.CBurst)
	}
}
