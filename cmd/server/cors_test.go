package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maasdash/trafficaudit/internal/config"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	cfg := config.CORSConfig{Enabled: true, AllowedOrigins: []string{"http://localhost:3000"}}

	called := false
	handler := corsMiddleware(cfg, okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "http://localhost/api/v1/metrics/live-requests", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called {
		t.Fatal("expected handler to be called")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSMiddleware_DisallowedOriginGetsNoHeaders(t *testing.T) {
	cfg := config.CORSConfig{Enabled: true, AllowedOrigins: []string{"http://localhost:3000"}}

	called := false
	handler := corsMiddleware(cfg, okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "http://localhost/api/v1/metrics/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	cfg := config.CORSConfig{Enabled: true, AllowedOrigins: []string{"http://localhost:3000"}, AllowCredentials: true}

	called := false
	handler := corsMiddleware(cfg, okHandler(&called))

	req := httptest.NewRequest(http.MethodOptions, "http://localhost/api/v1/metrics/refresh", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if called {
		t.Fatal("preflight should not reach the handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if got := rr.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("Access-Control-Allow-Credentials = %q", got)
	}
}

func TestCORSMiddleware_Disabled(t *testing.T) {
	called := false
	handler := corsMiddleware(config.CORSConfig{}, okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "http://localhost/health/live", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called {
		t.Fatal("expected handler to be called")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}
