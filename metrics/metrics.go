// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the netlink pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or going out of the system: requests, dumps, events.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyscallTimeHistogram tracks the latency of a single netlink
	// request/reply round trip. It does NOT include time spent
	// decoding the returned messages.
	SyscallTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "netlinkctl_syscall_time_histogram",
			Help: "netlink syscall latency distribution (seconds)",
			Buckets: []float64{
				0.001, 0.00125, 0.0016, 0.002, 0.0025, 0.0032, 0.004, 0.005, 0.0063, 0.0079,
				0.01, 0.0125, 0.016, 0.02, 0.025, 0.032, 0.04, 0.05, 0.063, 0.079,
				0.1, 0.125, 0.16, 0.2,
			},
		},
		[]string{"family", "op"})

	// DumpSizeHistogram tracks the number of messages returned by a single
	// dump request.
	DumpSizeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "netlinkctl_dump_size_histogram",
			Help: "message count returned per dump request",
			Buckets: []float64{
				1, 2, 3, 4, 5, 6, 8,
				10, 12.5, 16, 20, 25, 32, 40, 50, 63, 79,
				100, 125, 160, 200, 250, 320, 400, 500, 630, 790,
				1000, 1250, 1600, 2000, 2500, 3200, 4000, 5000, 6300, 7900,
				10000000,
			},
		},
		[]string{"family"})

	// ErrorCount measures the number of errors encountered while talking to
	// the kernel over netlink.
	//
	// Example usage:
	//    metrics.ErrorCount.With(prometheus.Labels{"type": "wrong seq num"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netlinkctl_error_total",
			Help: "The total number of errors encountered talking to the kernel.",
		}, []string{"type"})

	// CacheSizeHistogram tracks the socket-table size observed per
	// SocketCache polling round.
	CacheSizeHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "netlinkctl_cache_size_histogram",
			Help: "Number of sockets cached per polling round",
			Buckets: []float64{
				1, 2, 3, 4, 5, 6, 8,
				10, 12.5, 16, 20, 25, 32, 40, 50, 63, 79,
				100, 125, 160, 200, 250, 320, 400, 500, 630, 790,
				1000, 1250, 1600, 2000, 2500, 3200, 4000, 5000, 6300, 7900,
				10000, 12500, 16000, 20000, 25000, 32000, 40000, 50000,
			},
		})

	// EventStreamDroppedTotal counts ENOBUFS overruns reported by the
	// kernel on a multicast event socket: each increment means at
	// least one notification was lost before this process could read it.
	EventStreamDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netlinkctl_event_stream_dropped_total",
			Help: "Number of multicast event read overruns (ENOBUFS) observed.",
		},
	)

	// GenlFamilyResolveHistogram tracks the latency of a CTRL_CMD_GETFAMILY
	// lookup on cache miss.
	GenlFamilyResolveHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netlinkctl_genl_family_resolve_histogram",
			Help:    "generic-netlink family resolution latency distribution (seconds)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"})

	// ReconcileChangeCount counts the changes the declarative reconciler
	// applies to the kernel, by object kind and action.
	//
	// Example usage:
	//    metrics.ReconcileChangeCount.With(prometheus.Labels{"kind": "route", "action": "add"}).Inc()
	ReconcileChangeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netlinkctl_reconcile_change_total",
			Help: "Number of changes applied by the declarative reconciler.",
		}, []string{"kind", "action"})
)

// init() prints a log message to let the user know that the package has been
// loaded and the metrics registered. The metrics are auto-registered, which
// means they are registered as soon as this package is loaded, and the exact
// time this occurs (and whether this occurs at all in a given context) can be
// opaque.
func init() {
	log.Println("Prometheus metrics in netlinkctl/metrics are registered.")
}
