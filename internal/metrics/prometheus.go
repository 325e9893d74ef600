// Package metrics exposes Prometheus self-metrics for the traffic audit engine:
// poll cycles, per-source fetch health, parse failures, counter resets,
// reconstructed records and the HTTP query surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "trafficaudit"
)

// LatencyBuckets defines histogram buckets for fetch and poll latency (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 3.0, 5.0, 7.5, 10.0, 15.0, 30.0,
}

// Fetch outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeBreakerOpen = "breaker_open"
)

// =============================================================================
// Poll Metrics
// =============================================================================

var (
	// PollCyclesTotal counts completed poll cycles by the source that won arbitration.
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Total number of completed poll cycles by authoritative source",
		},
		[]string{"authoritative_source"},
	)

	// PollDuration tracks poll cycle latency including fetches.
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Poll cycle latency in seconds",
			Buckets:   LatencyBuckets,
		},
	)

	// PollsSkipped counts polls rejected because another cycle was running.
	PollsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_skipped_total",
			Help:      "Polls skipped because a cycle was already in progress",
		},
	)

	// RefreshThrottled counts on-demand refreshes rejected by the rate limiter.
	RefreshThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_throttled_total",
			Help:      "On-demand refreshes rejected by the refresh rate limiter",
		},
	)
)

// =============================================================================
// Source Metrics
// =============================================================================

var (
	// FetchTotal counts fetches by source and outcome.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_total",
			Help:      "Telemetry source fetches by outcome",
		},
		[]string{"source", "outcome"},
	)

	// FetchLatency tracks fetch latency by source.
	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_latency_seconds",
			Help:      "Telemetry source fetch latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"source"},
	)

	// SourceUp is 1 when the last fetch of a source succeeded.
	SourceUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_up",
			Help:      "Whether the last fetch of a telemetry source succeeded",
		},
		[]string{"source"},
	)

	// ParseErrors counts malformed payloads by source.
	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Telemetry payloads that could not be parsed",
		},
		[]string{"source"},
	)

	// CounterResets counts counter regressions absorbed as baseline resets.
	CounterResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_resets_total",
			Help:      "Counter decreases treated as a source restart",
		},
		[]string{"source"},
	)

	// CircuitBreakerState tracks breaker state per source.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"source"},
	)
)

// =============================================================================
// Record Metrics
// =============================================================================

var (
	// RecordsProduced counts reconstructed records by origin and attributed source.
	RecordsProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_produced_total",
			Help:      "Request records added to the window",
		},
		[]string{"origin", "source"},
	)

	// RecordsDropped counts counted requests not synthesized because of the batch cap.
	RecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Counted requests not synthesized because a batch exceeded the cap",
		},
	)

	// Decisions counts reconstructed decisions by team.
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Reconstructed request decisions by team",
		},
		[]string{"team", "decision"},
	)

	// WindowRecords is the current rolling window size.
	WindowRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_records",
			Help:      "Records currently held in the rolling window",
		},
	)
)
