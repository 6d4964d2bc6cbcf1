// Package telemetry holds the Prometheus metrics for election,
// heartbeat, and retry activity, plus the HTTP instrumentation
// middleware used by pkg/httpapi.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served by a member's HTTP API.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flock",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests served by a member's HTTP API.",
			// Tune buckets to your SLOs. This covers 1ms .. ~4s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flock",
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Election / heartbeat ----

	ElectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "elections_total",
			Help:      "Elections triggered, by channel.",
		},
		[]string{"channel"},
	)

	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "claims_total",
			Help:      "Claim envelopes processed, by channel and outcome.",
		},
		[]string{"channel", "outcome"}, // outcome: accepted|asserted
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent or received, by channel and direction.",
		},
		[]string{"channel", "direction"}, // direction: sent|received
	)

	LeadershipTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "leadership_transitions_total",
			Help:      "Leadership changes observed locally, by channel.",
		},
		[]string{"channel"},
	)

	// ---- Member pending/retry ----

	MemberPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flock",
			Name:      "member_pending",
			Help:      "Pending request/message entries awaiting a response, by channel.",
		},
		[]string{"channel"},
	)

	MemberRetry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flock",
			Name:      "member_retry",
			Help:      "Entries currently queued for retry, by channel.",
		},
		[]string{"channel"},
	)

	RetriesExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flock",
			Name:      "member_retries_exhausted_total",
			Help:      "Entries that exhausted MAX_RETRIES (requests rejected, leader messages dropped), by channel.",
		},
		[]string{"channel"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flock",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "flock",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		ElectionsTotal, ClaimsTotal, HeartbeatsTotal, LeadershipTransitions,
		MemberPending, MemberRetry, RetriesExhaustedTotal,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.HandleFunc("/info", telemetry.Instrument("info", http.HandlerFunc(s.info)).ServeHTTP)
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
