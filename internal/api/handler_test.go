package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maasdash/trafficaudit/internal/aggregator"
	"github.com/maasdash/trafficaudit/internal/config"
	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

type stubEngine struct {
	records    []types.RequestRecord
	status     types.Status
	summary    types.DashboardSummary
	ready      bool
	cycle      aggregator.CycleResult
	refreshErr error
	refreshes  int
}

func (s *stubEngine) ListRequests(context.Context) []types.RequestRecord { return s.records }
func (s *stubEngine) Status() types.Status                               { return s.status }
func (s *stubEngine) Summary() types.DashboardSummary                    { return s.summary }
func (s *stubEngine) Ready() bool                                        { return s.ready }

func (s *stubEngine) Refresh(context.Context) (aggregator.CycleResult, error) {
	s.refreshes++
	return s.cycle, s.refreshErr
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorDetail    `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

func newServer(t *testing.T, engine Engine, mgr *config.Manager) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(engine, mgr, nil).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func sampleRecords() []types.RequestRecord {
	return []types.RequestRecord{
		{ID: "c", Team: "free", StatusCode: 429, Decision: types.DecisionReject, Origin: types.OriginSynthesized, Source: types.SourceRateLimiter},
		{ID: "b", Team: "premium", StatusCode: 200, Decision: types.DecisionAccept, Origin: types.OriginSynthesized, Source: types.SourceRateLimiter},
		{ID: "a", Team: "premium", StatusCode: 200, Decision: types.DecisionAccept, Origin: types.OriginSynthesized, Source: types.SourceRateLimiter},
	}
}

func TestLiveRequests(t *testing.T) {
	srv := newServer(t, &stubEngine{records: sampleRecords()}, nil)

	resp, env := doRequest(t, http.MethodGet, srv.URL+PathLiveRequests, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.True(t, env.Success)
	assert.False(t, env.Timestamp.IsZero())

	var records []types.RequestRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 3)
	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, types.DecisionReject, records[0].Decision)
}

func TestLiveRequests_Limit(t *testing.T) {
	srv := newServer(t, &stubEngine{records: sampleRecords()}, nil)

	_, env := doRequest(t, http.MethodGet, srv.URL+PathLiveRequests+"?limit=2", "")
	var records []types.RequestRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "b", records[1].ID)

	for _, bad := range []string{"abc", "0", "-1"} {
		resp, env := doRequest(t, http.MethodGet, srv.URL+PathLiveRequests+"?limit="+bad, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
		assert.False(t, env.Success)
		require.NotNil(t, env.Error)
		assert.Equal(t, auditerrors.TypeInvalidRequest, env.Error.Type)
	}
}

func TestLiveRequests_EmptyIsArray(t *testing.T) {
	srv := newServer(t, &stubEngine{}, nil)

	_, env := doRequest(t, http.MethodGet, srv.URL+PathLiveRequests, "")
	assert.True(t, env.Success)
	assert.JSONEq(t, "[]", string(env.Data))
}

func TestStatus(t *testing.T) {
	up := true
	engine := &stubEngine{status: types.Status{
		SourceConnected:     map[types.SourceKind]bool{types.SourceRateLimiter: true, types.SourceProxy: false},
		HasRealTraffic:      true,
		AuthoritativeSource: types.SourceRateLimiter,
		LimiterUp:           &up,
		PollCount:           3,
	}}
	srv := newServer(t, engine, nil)

	resp, env := doRequest(t, http.MethodGet, srv.URL+PathStatus, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st types.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.SourceConnected[types.SourceRateLimiter])
	assert.False(t, st.SourceConnected[types.SourceProxy])
	assert.True(t, st.HasRealTraffic)
	require.NotNil(t, st.LimiterUp)
	assert.True(t, *st.LimiterUp)
	assert.Equal(t, int64(3), st.PollCount)
}

func TestDashboard(t *testing.T) {
	engine := &stubEngine{summary: types.DashboardSummary{
		TotalRequests:       12,
		AcceptedRequests:    8,
		RejectedRequests:    4,
		AuthFailedRequests:  1,
		RateLimitedRequests: 3,
		Source:              types.SourceMesh,
		Policy:              types.PolicyConnectivity{MeshConnected: true},
	}}
	srv := newServer(t, engine, nil)

	resp, env := doRequest(t, http.MethodGet, srv.URL+PathDashboard, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.EqualValues(t, 12, got["totalRequests"])
	assert.EqualValues(t, 4, got["rejectedRequests"])
	assert.EqualValues(t, 3, got["rateLimitedRequests"])
	assert.Equal(t, "mesh", got["source"])
	policy, ok := got["policyStatus"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, policy["meshConnected"])
	assert.Equal(t, false, policy["limiterConnected"])
}

func TestRefresh(t *testing.T) {
	engine := &stubEngine{
		records: sampleRecords(),
		cycle:   aggregator.CycleResult{Authoritative: types.SourceRateLimiter, Added: 3, Duration: 1500 * time.Microsecond},
	}
	srv := newServer(t, engine, nil)

	resp, env := doRequest(t, http.MethodPost, srv.URL+PathRefresh, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, engine.refreshes)

	var out refreshResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, types.SourceRateLimiter, out.AuthoritativeSource)
	assert.Equal(t, 3, out.Added)
	assert.InDelta(t, 1.5, out.DurationMs, 1e-9)
	assert.Len(t, out.Requests, 3)
}

func TestRefresh_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantType string
	}{
		{"throttled", auditerrors.NewRateLimited("refresh requested too often"), http.StatusTooManyRequests, auditerrors.TypeRateLimited},
		{"in progress", aggregator.ErrPollInProgress, http.StatusConflict, "poll_in_progress"},
		{"no sources", auditerrors.NewNoSources(), http.StatusServiceUnavailable, auditerrors.TypeNoSources},
		{"unclassified", context.Canceled, http.StatusInternalServerError, auditerrors.TypeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &stubEngine{refreshErr: tt.err}, nil)

			resp, env := doRequest(t, http.MethodPost, srv.URL+PathRefresh, "")
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantType, env.Error.Type)
		})
	}
}

func TestRefresh_MethodNotAllowed(t *testing.T) {
	srv := newServer(t, &stubEngine{}, nil)

	resp, err := http.Get(srv.URL + PathRefresh)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	engine := &stubEngine{}
	srv := newServer(t, engine, nil)

	resp, err := http.Get(srv.URL + PathHealthLive)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + PathHealthReady)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	engine.ready = true
	resp, err = http.Get(srv.URL + PathHealthReady)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigEndpoints(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	mgr, err := config.NewManager(path, nil)
	require.NoError(t, err)
	srv := newServer(t, &stubEngine{}, mgr)

	resp, env := doRequest(t, http.MethodGet, srv.URL+PathConfigStatus, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var before config.Status
	require.NoError(t, json.Unmarshal(env.Data, &before))
	assert.Equal(t, path, before.Path)
	assert.NotEmpty(t, before.Checksum)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	resp, env = doRequest(t, http.MethodPost, srv.URL+PathConfigReload, `{"expected_checksum":"stale"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "checksum_mismatch", env.Error.Type)

	resp, env = doRequest(t, http.MethodPost, srv.URL+PathConfigReload, `{"expected_checksum":"`+before.Checksum+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var after config.Status
	require.NoError(t, json.Unmarshal(env.Data, &after))
	assert.NotEqual(t, before.Checksum, after.Checksum)
	assert.Equal(t, 9090, mgr.Get().Server.Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644))
	resp, env = doRequest(t, http.MethodPost, srv.URL+PathConfigReload, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, auditerrors.TypeInvalidRequest, env.Error.Type)
	assert.Equal(t, 9090, mgr.Get().Server.Port)
}

func TestConfigEndpoints_NoManager(t *testing.T) {
	srv := newServer(t, &stubEngine{}, nil)

	resp, env := doRequest(t, http.MethodGet, srv.URL+PathConfigStatus, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestRoutesListed(t *testing.T) {
	paths := map[string]bool{}
	for _, r := range Routes() {
		paths[r.Path] = true
	}
	for _, p := range []string{PathLiveRequests, PathStatus, PathDashboard, PathRefresh, PathHealthLive, PathHealthReady} {
		assert.True(t, paths[p], p)
	}
}
