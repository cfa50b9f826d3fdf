// Package metrics exports node counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query sources.
const (
	SourceLocal     = "local"
	SourceCache     = "cache"
	SourceRecursion = "recursion"
	SourceMiss      = "miss"
)

// Merge outcomes.
const (
	MergeNoop      = "noop"
	MergeSwap      = "swap"
	MergeReconcile = "reconcile"
	// MergeOverflow is a merge refused because the union would not fit in
	// one Response.
	MergeOverflow = "overflow"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marp",
			Subsystem: "node",
			Name:      "frames_received_total",
			Help:      "Frames received, by frame type.",
		},
		[]string{"type"},
	)
	queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marp",
			Subsystem: "resolver",
			Name:      "queries_total",
			Help:      "Resolved queries, by the source that answered first.",
		},
		[]string{"source"},
	)
	merges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marp",
			Subsystem: "resolver",
			Name:      "merges_total",
			Help:      "Response merges, by outcome.",
		},
		[]string{"outcome"},
	)
	parseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marp",
			Subsystem: "node",
			Name:      "parse_failures_total",
			Help:      "Inputs that failed to decode, by kind.",
		},
		[]string{"kind"},
	)
	peerReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marp",
			Subsystem: "resolver",
			Name:      "peer_replies_total",
			Help:      "Replies from recursion peers, by result.",
		},
		[]string{"result"},
	)
	recursionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "marp",
			Subsystem: "resolver",
			Name:      "recursion_duration_seconds",
			Help:      "Time spent fanning a query out to peers.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesReceived, queries, merges, parseFailures, peerReplies,
			recursionDuration, httpRequests, httpDuration)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrame(frameType string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(frameType).Inc()
}

func RecordQuery(source string) {
	RegisterMetrics()
	queries.WithLabelValues(source).Inc()
}

func RecordMerge(outcome string) {
	RegisterMetrics()
	merges.WithLabelValues(outcome).Inc()
}

func RecordParseFailure(kind string) {
	RegisterMetrics()
	parseFailures.WithLabelValues(kind).Inc()
}

func RecordPeerReply(result string) {
	RegisterMetrics()
	peerReplies.WithLabelValues(result).Inc()
}

func RecordRecursion(duration time.Duration) {
	RegisterMetrics()
	recursionDuration.Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
