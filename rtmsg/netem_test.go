package rtmsg_test

import (
	"math"
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestNetemRoundTrip(t *testing.T) {
	o := &rtmsg.NetemOptions{
		Latency:   100000, // 100ms in usec
		Jitter:    10000,
		Limit:     1000,
		LossPct:   42949672, // ~1%
		Correlation: &rtmsg.NetemCorrelation{DelayCorr: 25, LossCorr: 10, DupCorr: 5},
		Reorder:   &rtmsg.NetemReorder{Probability: 100, Correlation: 50},
		Corrupt:   &rtmsg.NetemCorrupt{Probability: 10, Correlation: 1},
		Rate:      &rtmsg.NetemRate{Rate: 125000, PacketOverhead: 14, CellSize: 0, CellOverhead: 0},
	}
	b, err := o.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := rtmsg.DecodeNetemOptions(b)
	if err != nil {
		t.Fatalf("DecodeNetemOptions failed: %v", err)
	}
	if diff := deep.Equal(o, got); diff != nil {
		t.Error(diff)
	}
}

func TestNetemLatency64Supersedes(t *testing.T) {
	lat64 := int64(100 * 1000 * 1000) // 100ms in nsec
	o := &rtmsg.NetemOptions{
		Latency:   1, // stale 32-bit value the 64-bit attribute must override
		Latency64: &lat64,
	}
	b, err := o.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := rtmsg.DecodeNetemOptions(b)
	if err != nil {
		t.Fatalf("DecodeNetemOptions failed: %v", err)
	}
	if got.Latency64 == nil {
		t.Fatal("Latency64 attribute was lost")
	}
	if got.EffectiveLatencyNS() != lat64 {
		t.Errorf("EffectiveLatencyNS() = %d, want %d", got.EffectiveLatencyNS(), lat64)
	}
}

func TestNetemEffectiveLatency32(t *testing.T) {
	o := &rtmsg.NetemOptions{Latency: 100000}
	if got := o.EffectiveLatencyNS(); got != 100000*1000 {
		t.Errorf("EffectiveLatencyNS() = %d, want %d", got, 100000*1000)
	}
}

func TestNetemLossPercent(t *testing.T) {
	o := &rtmsg.NetemOptions{LossPct: uint32(float64(math.MaxUint32) * 0.01)}
	if got := o.LossPercent(); math.Abs(got-1.0) > 0.001 {
		t.Errorf("LossPercent() = %f, want ~1.0", got)
	}
	full := &rtmsg.NetemOptions{LossPct: math.MaxUint32}
	if got := full.LossPercent(); math.Abs(got-100.0) > 0.001 {
		t.Errorf("LossPercent() = %f, want 100.0", got)
	}
}

func TestNetemDecodeTruncated(t *testing.T) {
	if _, err := rtmsg.DecodeNetemOptions(make([]byte, 10)); err == nil {
		t.Error("expected a truncation error for a short tc_netem_qopt")
	}
}
