// Package testutil provides a mock of the gateway's telemetry endpoints for
// tests that exercise the full fetch and aggregation path.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/maasdash/trafficaudit/internal/telemetry"
)

// Endpoint paths served by MockTelemetryServer.
const (
	PathLimiter = "/limiter/metrics"
	PathGateway = "/gateway/metrics"
	PathAuth    = "/auth/metrics"
	PathLogs    = "/logs"
	PathQuery   = "/api/v1/query"
)

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Time    time.Time
}

type limiterCounters struct {
	total   int64
	limited int64
}

// MockTelemetryServer serves rate limiter, gateway and auth expositions, an
// access log tail and a minimal Prometheus query API. All counters can be
// changed while the server runs.
type MockTelemetryServer struct {
	server *httptest.Server

	mu         sync.Mutex
	requests   []RecordedRequest
	limiter    map[string]limiterCounters
	limiterUp  *bool
	gateway    map[int]int64
	authOK     int64
	authFailed int64
	logLines   []string
	statuses   map[string]int
	latency    time.Duration
}

// NewMockTelemetryServer creates and starts the server.
func NewMockTelemetryServer() *MockTelemetryServer {
	m := &MockTelemetryServer{
		limiter:  make(map[string]limiterCounters),
		gateway:  make(map[int]int64),
		statuses: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(PathLimiter, m.wrap(m.handleLimiter))
	mux.HandleFunc(PathGateway, m.wrap(m.handleGateway))
	mux.HandleFunc(PathAuth, m.wrap(m.handleAuth))
	mux.HandleFunc(PathLogs, m.wrap(m.handleLogs))
	mux.HandleFunc(PathQuery, m.wrap(m.handleQuery))

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the server's base URL.
func (m *MockTelemetryServer) URL() string {
	return m.server.URL
}

// Close shuts down the server.
func (m *MockTelemetryServer) Close() {
	m.server.Close()
}

// SetCounter sets the cumulative counters of one limiter namespace.
func (m *MockTelemetryServer) SetCounter(namespace string, total, limited int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiter[namespace] = limiterCounters{total: total, limited: limited}
}

// SetLimiterUp sets the limiter liveness gauge.
func (m *MockTelemetryServer) SetLimiterUp(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiterUp = &up
}

// SetGatewayCode sets the cumulative count of one response code.
func (m *MockTelemetryServer) SetGatewayCode(code int, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateway[code] = n
}

// SetAuth sets the cumulative auth outcomes.
func (m *MockTelemetryServer) SetAuth(ok, failed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authOK = ok
	m.authFailed = failed
}

// AppendLog appends access log lines, oldest first.
func (m *MockTelemetryServer) AppendLog(lines ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logLines = append(m.logLines, lines...)
}

// SetStatus forces an error status on one path. Zero restores normal service.
func (m *MockTelemetryServer) SetStatus(path string, code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code == 0 {
		delete(m.statuses, path)
		return
	}
	m.statuses[path] = code
}

// SetLatency delays every response.
func (m *MockTelemetryServer) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// GetRequests returns all recorded requests.
func (m *MockTelemetryServer) GetRequests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// RequestCount returns how many requests hit path.
func (m *MockTelemetryServer) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (m *MockTelemetryServer) wrap(h func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Headers: r.Header.Clone(),
			Time:    time.Now(),
		})
		latency := m.latency
		status := m.statuses[r.URL.Path]
		m.mu.Unlock()

		if latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}
		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		h(w, r)
	}
}

func (m *MockTelemetryServer) handleLimiter(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(m.LimiterExposition()))
}

func (m *MockTelemetryServer) handleGateway(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(m.GatewayExposition()))
}

func (m *MockTelemetryServer) handleAuth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(m.AuthExposition()))
}

func (m *MockTelemetryServer) handleLogs(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	body := strings.Join(m.logLines, "\n")
	m.mu.Unlock()
	if body != "" {
		body += "\n"
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(body))
}

// LimiterExposition renders the limiter counters in exposition format.
func (m *MockTelemetryServer) LimiterExposition() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	b.WriteString("# TYPE total_calls counter\n")
	for _, ns := range sortedKeys(m.limiter) {
		fmt.Fprintf(&b, "total_calls{limitador_namespace=%q} %d\n", ns+"/llm-route", m.limiter[ns].total)
	}
	b.WriteString("# TYPE limited_calls counter\n")
	for _, ns := range sortedKeys(m.limiter) {
		fmt.Fprintf(&b, "limited_calls{limitador_namespace=%q} %d\n", ns+"/llm-route", m.limiter[ns].limited)
	}
	if m.limiterUp != nil {
		up := 0
		if *m.limiterUp {
			up = 1
		}
		fmt.Fprintf(&b, "# TYPE limitador_up gauge\nlimitador_up %d\n", up)
	}
	return b.String()
}

// GatewayExposition renders the gateway response code counters.
func (m *MockTelemetryServer) GatewayExposition() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]int, 0, len(m.gateway))
	for code := range m.gateway {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	var b strings.Builder
	b.WriteString("# TYPE istio_requests_total counter\n")
	for _, code := range codes {
		fmt.Fprintf(&b, "istio_requests_total{response_code=\"%d\"} %d\n", code, m.gateway[code])
	}
	return b.String()
}

// AuthExposition renders the auth outcome counters.
func (m *MockTelemetryServer) AuthExposition() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	b.WriteString("# TYPE auth_server_authconfig_response_status counter\n")
	fmt.Fprintf(&b, "auth_server_authconfig_response_status{status=\"OK\"} %d\n", m.authOK)
	fmt.Fprintf(&b, "auth_server_authconfig_response_status{status=\"PERMISSION_DENIED\"} %d\n", m.authFailed)
	return b.String()
}

// handleQuery answers instant queries whose expression names a limiter
// series, e.g. "sum by (limitador_namespace) (total_calls)".
func (m *MockTelemetryServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	expr := r.URL.Query().Get("query")
	now := float64(time.Now().Unix())

	m.mu.Lock()
	var result []telemetry.VectorSample
	for _, ns := range sortedKeys(m.limiter) {
		c := m.limiter[ns]
		var v int64
		switch {
		case strings.Contains(expr, "limited_calls"):
			v = c.limited
		case strings.Contains(expr, "total_calls"):
			v = c.total
		default:
			continue
		}
		result = append(result, telemetry.VectorSample{
			Metric: map[string]string{"limitador_namespace": ns + "/llm-route"},
			Value:  []any{now, fmt.Sprintf("%d", v)},
		})
	}
	m.mu.Unlock()

	resp, err := telemetry.NewVectorResponse(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
