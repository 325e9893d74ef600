package accesslog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const istioLine = `[2025-01-01T10:00:02.123Z] "POST /llm/qwen3-0-6b-instruct/v1/chat/completions HTTP/1.1" 200 - via_upstream - "-" 312 1480 842 838 "10.0.0.7" "curl/8.4.0" "4f1c-aa" "gateway.example.com" "10.128.2.14:8000" outbound|8000||qwen.llm.svc.cluster.local 10.128.0.5:41234 10.128.0.5:8080 10.0.0.7:52311 - default`

func TestParseLine_ScenarioLine(t *testing.T) {
	e, ok := ParseLine(`[2025-01-01T00:00:00Z] "GET /v1/models HTTP/1.1" 401 0 NR - "id-1" "host" "upstream" 12 5 3`)
	require.True(t, ok)

	assert.Equal(t, "2025-01-01T00:00:00Z", e.Timestamp)
	assert.Equal(t, "GET", e.Method)
	assert.Equal(t, "/v1/models", e.Path)
	assert.Equal(t, "HTTP/1.1", e.Protocol)
	assert.Equal(t, 401, e.Code)
	assert.Equal(t, "NR", e.Flags)
	assert.True(t, e.HasFlag("NR"))
	assert.Equal(t, "", e.Route)

	assert.Equal(t, "id-1", e.RequestID)
	assert.Equal(t, "host", e.Host)
	assert.Equal(t, "upstream", e.UpstreamHost)
	assert.Equal(t, "", e.UserAgent)

	assert.Equal(t, int64(12), e.DurationMs)
	assert.Equal(t, int64(0), e.BytesReceived)
	assert.Equal(t, int64(5), e.UpstreamTimeMs)
	assert.Equal(t, []int64{0, 12, 5, 3}, e.Numbers)
}

func TestParseLine_IstioDefaultFormat(t *testing.T) {
	e, ok := ParseLine(istioLine)
	require.True(t, ok)

	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, 200, e.Code)
	assert.Equal(t, "", e.Flags)
	assert.Equal(t, "via_upstream", e.Route)

	assert.Equal(t, "10.0.0.7", e.ClientIP)
	assert.Equal(t, "curl/8.4.0", e.UserAgent)
	assert.Equal(t, "4f1c-aa", e.RequestID)
	assert.Equal(t, "gateway.example.com", e.Host)
	assert.Equal(t, "10.128.2.14:8000", e.UpstreamHost)

	// Heuristic: the first positive integer is taken as the duration.
	assert.Equal(t, int64(312), e.DurationMs)
	assert.Equal(t, []int64{312, 1480, 842, 838}, e.Numbers)
}

func TestParseLine_RouteNotFound(t *testing.T) {
	e, ok := ParseLine(`[2025-01-01T00:00:01Z] "GET /nope HTTP/1.1" 404 NR route_not_found - "-" 0 0 1 - "-" "ua" "rid" "h" "-"`)
	require.True(t, ok)
	assert.Equal(t, "NR", e.Flags)
	assert.Equal(t, "route_not_found", e.Route)
	assert.Equal(t, int64(1), e.DurationMs)
	assert.Equal(t, "", e.UpstreamHost)
}

func TestParseLine_CombinedFlags(t *testing.T) {
	e, ok := ParseLine(`[t] "GET /v1/models HTTP/2" 503 UF,URX - 0 0 30 - "a" "b" "c" "d" "e"`)
	require.True(t, ok)
	assert.Equal(t, "UF,URX", e.Flags)
	assert.True(t, e.HasFlag("URX"))
	assert.False(t, e.HasFlag("NR"))
	assert.Equal(t, "a", e.ClientIP)
}

func TestParseLine_Rejects(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"not an access log line",
		`[2025-01-01T00:00:00Z] GET /v1/models 200`,
		`[2025-01-01T00:00:00Z] "GET /v1/models HTTP/1.1" abc`,
		`2025-01-01T00:00:00Z "GET / HTTP/1.1" 200 0`,
	}
	for _, line := range tests {
		_, ok := ParseLine(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestParseLine_NoRest(t *testing.T) {
	e, ok := ParseLine(`[2025-01-01T00:00:00Z] "GET /healthz" 200`)
	require.True(t, ok)
	assert.Equal(t, "", e.Protocol)
	assert.Equal(t, int64(0), e.DurationMs)
	assert.Empty(t, e.Numbers)
}

func TestParse_NewestFirstAndSkipsGarbage(t *testing.T) {
	raw := strings.Join([]string{
		`[2025-01-01T00:00:01Z] "GET /v1/models HTTP/1.1" 200 - 0 10 4 - "a" "b" "first" "d" "e"`,
		`garbage`,
		`[2025-01-01T00:00:03Z] "GET /v1/models HTTP/1.1" 200 - 0 10 4 - "a" "b" "third" "d" "e"`,
		`[2025-01-01T00:00:02Z] "GET /v1/models HTTP/1.1" 200 - 0 10 4 - "a" "b" "second" "d" "e"`,
		`[2025-01-01T00:00:03Z] "GET /v1/models HTTP/1.1" 200 - 0 10 4 - "a" "b" "fourth" "d" "e"`,
		``,
	}, "\n")

	entries := Parse(raw)
	require.Len(t, entries, 4)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.RequestID
	}
	assert.Equal(t, []string{"fourth", "third", "second", "first"}, ids)
}

func TestParse_Empty(t *testing.T) {
	assert.Empty(t, Parse(""))
}
