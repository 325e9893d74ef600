package errors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/maasdash/trafficaudit/pkg/types"
)

func TestErrorMessageFormat(t *testing.T) {
	err := NewSourceUnavailable(types.SourceMesh, "fetch failed", context.DeadlineExceeded)
	msg := err.Error()

	for _, s := range []string{"source_unavailable", "mesh", "fetch failed", "deadline"} {
		if !strings.Contains(msg, s) {
			t.Errorf("error message should contain %q, got %q", s, msg)
		}
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want int
	}{
		{"rate limited", NewRateLimited("slow down"), http.StatusTooManyRequests},
		{"invalid request", NewInvalidRequest("bad"), http.StatusBadRequest},
		{"source unavailable", NewSourceUnavailable(types.SourceProxy, "down", nil), http.StatusServiceUnavailable},
		{"no sources", NewNoSources(), http.StatusServiceUnavailable},
		{"malformed", NewMalformedPayload(types.SourceRateLimiter, "bad json", nil), http.StatusBadGateway},
		{"internal", NewInternalError("boom", nil), http.StatusInternalServerError},
		{"regression", NewCounterRegression(types.SourceMesh, 10, 3), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsTypeThroughWrapping(t *testing.T) {
	base := NewMalformedPayload(types.SourceAuthService, "unexpected status", nil)
	wrapped := fmt.Errorf("parse auth payload: %w", base)

	if !IsType(wrapped, TypeMalformedPayload) {
		t.Fatal("expected wrapped error to match malformed_payload")
	}
	if IsType(wrapped, TypeSourceUnavailable) {
		t.Fatal("did not expect source_unavailable match")
	}
	if IsType(fmt.Errorf("plain"), TypeMalformedPayload) {
		t.Fatal("plain errors carry no type")
	}

	source, ok := SourceOf(wrapped)
	if !ok || source != types.SourceAuthService {
		t.Fatalf("SourceOf() = %q, %v", source, ok)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	err := NewSourceUnavailable(types.SourceMesh, "timeout", context.DeadlineExceeded)
	if !IsType(err, TypeSourceUnavailable) {
		t.Fatal("expected source_unavailable")
	}
	if err.Unwrap() != context.DeadlineExceeded {
		t.Fatalf("Unwrap() = %v", err.Unwrap())
	}
}
