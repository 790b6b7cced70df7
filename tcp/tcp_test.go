package tcp_test

import (
	"testing"

	"github.com/m-lab/netlinkctl/tcp"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state tcp.State
		want  string
	}{
		{tcp.ESTABLISHED, "ESTABLISHED"},
		{tcp.LISTEN, "LISTEN"},
		{tcp.TIME_WAIT, "TIME_WAIT"},
		{tcp.State(99), "UNKNOWN_STATE_99"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestAccessors(t *testing.T) {
	info := &tcp.LinuxTCPInfo{
		RTT:          1500,
		RTTVar:       300,
		SndCwnd:      10,
		SndSsThresh:  7,
		MinRTT:       900,
		PacingRate:   125000,
		DeliveryRate: 100000,
	}
	if info.RTTMicros() != 1500 || info.RTTVarMicros() != 300 {
		t.Error("RTT accessors wrong")
	}
	if info.CongestionWindow() != 10 || info.SlowStartThreshold() != 7 {
		t.Error("cwnd/ssthresh accessors wrong")
	}
	if info.MinRTTMicros() != 900 {
		t.Error("MinRTT accessor wrong")
	}
	if rate, ok := info.PacingRateBps(); !ok || rate != 125000 {
		t.Errorf("PacingRateBps = %d/%v", rate, ok)
	}
	if info.DeliveryRateBps() != 100000 {
		t.Error("DeliveryRateBps wrong")
	}
}

func TestPacingRateUnknown(t *testing.T) {
	info := &tcp.LinuxTCPInfo{PacingRate: -1}
	if _, ok := info.PacingRateBps(); ok {
		t.Error("a negative pacing rate means unknown")
	}
}
