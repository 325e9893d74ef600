// Package errors defines the error taxonomy of the traffic reconstruction engine.
// Every failure crossing a package boundary is one of these types so callers can
// decide between "log and continue" and "surface to the dashboard".
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// Error is a classified engine error.
type Error struct {
	Type    string           `json:"type"`
	Source  types.SourceKind `json:"source,omitempty"`
	Message string           `json:"message"`
	Cause   error            `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (source=%s): %v", e.Type, e.Message, e.Source, e.Cause)
	}
	return fmt.Sprintf("[%s] %s (source=%s)", e.Type, e.Message, e.Source)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the status the API layer should answer with.
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeInvalidRequest:
		return http.StatusBadRequest
	case TypeSourceUnavailable, TypeNoSources:
		return http.StatusServiceUnavailable
	case TypeMalformedPayload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error types.
const (
	TypeSourceUnavailable = "source_unavailable"
	TypeMalformedPayload  = "malformed_payload"
	TypeCounterRegression = "counter_regression"
	TypeNoSources         = "no_sources"
	TypeRateLimited       = "rate_limited"
	TypeInvalidRequest    = "invalid_request"
	TypeInternalError     = "internal_error"
)

// NewSourceUnavailable reports a network failure, timeout or open breaker.
func NewSourceUnavailable(source types.SourceKind, message string, cause error) *Error {
	return &Error{Type: TypeSourceUnavailable, Source: source, Message: message, Cause: cause}
}

// NewMalformedPayload reports a payload the parser could not decode.
func NewMalformedPayload(source types.SourceKind, message string, cause error) *Error {
	return &Error{Type: TypeMalformedPayload, Source: source, Message: message, Cause: cause}
}

// NewCounterRegression reports a counter that went backwards.
func NewCounterRegression(source types.SourceKind, previous, current int64) *Error {
	return &Error{
		Type:    TypeCounterRegression,
		Source:  source,
		Message: fmt.Sprintf("counter decreased from %d to %d", previous, current),
	}
}

// NewNoSources reports a cycle in which no source could be reached.
func NewNoSources() *Error {
	return &Error{Type: TypeNoSources, Message: "no telemetry source reachable"}
}

// NewRateLimited reports a throttled on-demand request.
func NewRateLimited(message string) *Error {
	return &Error{Type: TypeRateLimited, Message: message}
}

// NewInvalidRequest reports a bad API request.
func NewInvalidRequest(message string) *Error {
	return &Error{Type: TypeInvalidRequest, Message: message}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *Error {
	return &Error{Type: TypeInternalError, Message: message, Cause: cause}
}

// IsType reports whether err is (or wraps) an *Error of the given type.
func IsType(err error, errType string) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == errType
	}
	return false
}

// SourceOf returns the source attached to err, if any.
func SourceOf(err error) (types.SourceKind, bool) {
	var e *Error
	if stderrors.As(err, &e) && e.Source != "" {
		return e.Source, true
	}
	return "", false
}
