package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maasdash/trafficaudit/pkg/types"
)

var (
	// HTTPRequestsTotal counts query surface requests by route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"route", "status"},
	)

	// HTTPRequestLatency tracks query surface latency.
	HTTPRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"route"},
	)
)

// RecordFetch records the outcome of one source fetch.
func RecordFetch(source types.SourceKind, outcome string, latency time.Duration) {
	FetchTotal.WithLabelValues(string(source), outcome).Inc()
	FetchLatency.WithLabelValues(string(source)).Observe(latency.Seconds())
	up := 0.0
	if outcome == OutcomeSuccess {
		up = 1
	}
	SourceUp.WithLabelValues(string(source)).Set(up)
}

// RecordParseError records a malformed payload.
func RecordParseError(source types.SourceKind) {
	ParseErrors.WithLabelValues(string(source)).Inc()
}

// RecordCounterReset records an absorbed counter regression.
func RecordCounterReset(source types.SourceKind) {
	CounterResets.WithLabelValues(string(source)).Inc()
}

// RecordPoll records a completed poll cycle. authoritative is "" when no
// source produced records.
func RecordPoll(authoritative types.SourceKind, latency time.Duration) {
	label := string(authoritative)
	if label == "" {
		label = "none"
	}
	PollCyclesTotal.WithLabelValues(label).Inc()
	PollDuration.Observe(latency.Seconds())
}

// RecordRecords records records added to the window.
func RecordRecords(records []types.RequestRecord) {
	for _, r := range records {
		RecordsProduced.WithLabelValues(string(r.Origin), string(r.Source)).Inc()
		Decisions.WithLabelValues(sanitizeLabel(r.Team), string(r.Decision)).Inc()
	}
}

// SetBreakerState records a circuit breaker transition.
func SetBreakerState(source types.SourceKind, state int) {
	CircuitBreakerState.WithLabelValues(string(source)).Set(float64(state))
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware returns an HTTP middleware that records request metrics.
// Routes are labelled with the ServeMux pattern to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.statusCode)).Inc()
		HTTPRequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

const maxLabelLen = 64

// sanitizeLabel keeps team names usable as label values.
func sanitizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(min(len(value), maxLabelLen))
	for _, r := range value {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' || r == ':' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= maxLabelLen {
			break
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
