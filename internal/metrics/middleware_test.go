package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/maasdash/trafficaudit/pkg/types"
)

func TestSanitizeLabel_ReplacesInvalidChars(t *testing.T) {
	got := sanitizeLabel("team a\n\t🚨")
	if strings.ContainsAny(got, " \n\t") {
		t.Fatalf("sanitizeLabel contains whitespace: %q", got)
	}
	if got != "team_a" {
		t.Fatalf("sanitizeLabel = %q, want %q", got, "team_a")
	}
}

func TestSanitizeLabel_CapsLength(t *testing.T) {
	long := strings.Repeat("a", maxLabelLen+50)
	got := sanitizeLabel(long)
	if len(got) != maxLabelLen {
		t.Fatalf("sanitizeLabel len=%d, want %d", len(got), maxLabelLen)
	}
}

func TestSanitizeLabel_EmptyFallback(t *testing.T) {
	if got := sanitizeLabel("   "); got != "unknown" {
		t.Fatalf("sanitizeLabel = %q, want %q", got, "unknown")
	}
}

func TestMiddleware_LabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := Middleware(mux)

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET /items/{id}", "418"))
	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d, want 418", rec.Code)
		}
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET /items/{id}", "418"))
	if after-before != 2 {
		t.Fatalf("counter delta = %v, want 2", after-before)
	}
}

func TestRecordFetch_SetsSourceUp(t *testing.T) {
	RecordFetch(types.SourceMesh, OutcomeSuccess, 10*time.Millisecond)
	if got := testutil.ToFloat64(SourceUp.WithLabelValues("mesh")); got != 1 {
		t.Fatalf("source_up = %v, want 1", got)
	}
	RecordFetch(types.SourceMesh, OutcomeTimeout, time.Second)
	if got := testutil.ToFloat64(SourceUp.WithLabelValues("mesh")); got != 0 {
		t.Fatalf("source_up = %v, want 0", got)
	}
}

func TestRecordRecords_CountsByOriginAndDecision(t *testing.T) {
	before := testutil.ToFloat64(RecordsProduced.WithLabelValues("synthesized", "rate-limiter"))
	RecordRecords([]types.RequestRecord{
		{Origin: types.OriginSynthesized, Source: types.SourceRateLimiter, Team: "free", Decision: types.DecisionAccept},
		{Origin: types.OriginSynthesized, Source: types.SourceRateLimiter, Team: "free", Decision: types.DecisionReject},
	})
	after := testutil.ToFloat64(RecordsProduced.WithLabelValues("synthesized", "rate-limiter"))
	if after-before != 2 {
		t.Fatalf("records delta = %v, want 2", after-before)
	}
}
