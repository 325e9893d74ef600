package api //nolint:revive // package name is intentional

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
)

// Envelope wraps every API response.
type Envelope struct {
	Success   bool         `json:"success"`
	Data      any          `json:"data"`
	Error     *ErrorDetail `json:"error,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ErrorDetail describes the error payload.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

var now = time.Now

func (h *Handler) writeData(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, Envelope{Success: true, Data: data, Timestamp: now().UTC()})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var e *auditerrors.Error
	if !errors.As(err, &e) {
		h.logger.Error("unclassified handler error", "error", err)
		e = auditerrors.NewInternalError("internal error", err)
	}
	h.writeJSON(w, e.HTTPStatusCode(), Envelope{
		Error: &ErrorDetail{
			Type:    e.Type,
			Message: e.Message,
			Source:  string(e.Source),
		},
		Timestamp: now().UTC(),
	})
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, status int, errType, message string) {
	h.writeJSON(w, status, Envelope{
		Error:     &ErrorDetail{Type: errType, Message: message},
		Timestamp: now().UTC(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}
