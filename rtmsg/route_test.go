package rtmsg_test

import (
	"net"
	"testing"

	"github.com/go-test/deep"
	"github.com/m-lab/netlinkctl/rtmsg"
)

func TestRouteRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		route rtmsg.Route
	}{
		{
			name: "gateway route",
			route: rtmsg.Route{
				Header: rtmsg.Rtmsg{
					Family:   rtmsg.AF_INET,
					DstLen:   8,
					Table:    rtmsg.RT_TABLE_MAIN,
					Protocol: rtmsg.RTPROT_STATIC,
					Scope:    rtmsg.RT_SCOPE_UNIVERSE,
					Type:     rtmsg.RTN_UNICAST,
				},
				Dst:      net.IPv4(10, 0, 0, 0).To4(),
				Gateway:  net.IPv4(192, 168, 1, 254).To4(),
				OutIface: 3,
				Priority: 100,
			},
		},
		{
			name: "blackhole without device",
			route: rtmsg.Route{
				Header: rtmsg.Rtmsg{
					Family: rtmsg.AF_INET,
					DstLen: 16,
					Table:  rtmsg.RT_TABLE_MAIN,
					Type:   rtmsg.RTN_BLACKHOLE,
				},
				Dst: net.IPv4(10, 255, 0, 0).To4(),
			},
		},
		{
			name: "route with metrics",
			route: rtmsg.Route{
				Header:  rtmsg.Rtmsg{Family: rtmsg.AF_INET, DstLen: 24, Type: rtmsg.RTN_UNICAST},
				Dst:     net.IPv4(172, 16, 5, 0).To4(),
				Metrics: &rtmsg.RouteMetrics{MTU: 1400, InitCwnd: 10},
			},
		},
		{
			name: "multipath route",
			route: rtmsg.Route{
				Header: rtmsg.Rtmsg{Family: rtmsg.AF_INET, DstLen: 24, Type: rtmsg.RTN_UNICAST},
				Dst:    net.IPv4(172, 16, 9, 0).To4(),
				MultiPath: []rtmsg.NextHop{
					{Weight: 1, IfIndex: 2, Gateway: net.IPv4(10, 1, 0, 1).To4()},
					{Weight: 3, IfIndex: 4, Gateway: net.IPv4(10, 2, 0, 1).To4()},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.route.Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			got, err := rtmsg.ParseRoute(b)
			if err != nil {
				t.Fatalf("ParseRoute failed: %v", err)
			}
			if diff := deep.Equal(&tt.route, got); diff != nil {
				t.Error(diff)
			}
		})
	}
}

func TestRoutePredicates(t *testing.T) {
	def := &rtmsg.Route{Header: rtmsg.Rtmsg{Family: rtmsg.AF_INET}}
	if !def.IsDefault() || !def.IsIPv4() {
		t.Error("0-length IPv4 route should be default and IPv4")
	}
	v6 := &rtmsg.Route{Header: rtmsg.Rtmsg{Family: rtmsg.AF_INET6, DstLen: 64}}
	if v6.IsDefault() || v6.IsIPv4() {
		t.Error("a /64 IPv6 route is neither default nor IPv4")
	}
}

func TestRouteEffectiveTable(t *testing.T) {
	tests := []struct {
		name  string
		route rtmsg.Route
		want  uint32
	}{
		{"unset defaults to main", rtmsg.Route{}, rtmsg.RT_TABLE_MAIN},
		{"header byte", rtmsg.Route{Header: rtmsg.Rtmsg{Table: 100}}, 100},
		{"attribute supersedes", rtmsg.Route{Header: rtmsg.Rtmsg{Table: 252}, Table: 1000}, 1000},
	}
	for _, tt := range tests {
		if got := tt.route.EffectiveTable(); got != tt.want {
			t.Errorf("%s: EffectiveTable() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRouteLargeTableRoundTrip(t *testing.T) {
	r := &rtmsg.Route{
		Header: rtmsg.Rtmsg{Family: rtmsg.AF_INET, DstLen: 24},
		Dst:    net.IPv4(10, 9, 8, 0).To4(),
		Table:  5000,
	}
	b, err := r.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	got, err := rtmsg.ParseRoute(b)
	if err != nil {
		t.Fatalf("ParseRoute failed: %v", err)
	}
	if got.EffectiveTable() != 5000 {
		t.Errorf("EffectiveTable() = %d, want 5000", got.EffectiveTable())
	}
}

func TestRouteParseTruncated(t *testing.T) {
	if _, err := rtmsg.ParseRoute(make([]byte, 8)); err == nil {
		t.Error("expected a truncation error for a short rtmsg")
	}
}
