package metrics_test

import (
	"strings"
	"testing"

	"github.com/m-lab/netlinkctl/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// TestMetricsRegistered verifies that loading the package registers every
// metric with the default registry under its expected name, and that the
// vector metrics accept their documented label sets.
func TestMetricsRegistered(t *testing.T) {
	// Touch each metric so the vectors materialize at least one child.
	metrics.SyscallTimeHistogram.With(prometheus.Labels{"family": "rtnetlink", "op": "dump"}).Observe(0.001)
	metrics.DumpSizeHistogram.With(prometheus.Labels{"family": "rtnetlink"}).Observe(3)
	metrics.ErrorCount.With(prometheus.Labels{"type": "test"}).Inc()
	metrics.CacheSizeHistogram.Observe(10)
	metrics.EventStreamDroppedTotal.Inc()
	metrics.GenlFamilyResolveHistogram.With(prometheus.Labels{"family": "ethtool"}).Observe(0.002)
	metrics.ReconcileChangeCount.With(prometheus.Labels{"kind": "link", "action": "add"}).Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Could not gather metrics: %v", err)
	}

	want := []string{
		"netlinkctl_syscall_time_histogram",
		"netlinkctl_dump_size_histogram",
		"netlinkctl_error_total",
		"netlinkctl_cache_size_histogram",
		"netlinkctl_event_stream_dropped_total",
		"netlinkctl_genl_family_resolve_histogram",
		"netlinkctl_reconcile_change_total",
	}
	got := make(map[string]bool, len(families))
	for _, f := range families {
		got[f.GetName()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("Metric %s is not registered", name)
		}
		if !strings.HasPrefix(name, "netlinkctl_") {
			t.Errorf("Metric %s does not carry the module prefix", name)
		}
	}
}
