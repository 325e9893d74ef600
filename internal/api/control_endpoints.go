package api //nolint:revive // package name is intentional

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
)

type configReloadRequest struct {
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
}

// ConfigStatus handles GET /api/v1/config/status.
func (h *Handler) ConfigStatus(w http.ResponseWriter, _ *http.Request) {
	if h.configManager == nil {
		h.writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "config manager not available")
		return
	}
	h.writeData(w, http.StatusOK, h.configManager.Status())
}

// ReloadConfig handles POST /api/v1/config/reload. When expected_checksum is
// given the reload only happens if it matches the loaded file.
func (h *Handler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.configManager == nil {
		h.writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "config manager not available")
		return
	}

	var req configReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.writeError(w, auditerrors.NewInvalidRequest("invalid request body"))
		return
	}

	before := h.configManager.Status()
	if req.ExpectedChecksum != "" && req.ExpectedChecksum != before.Checksum {
		h.writeErrorStatus(w, http.StatusConflict, "checksum_mismatch", "config checksum mismatch")
		return
	}

	if err := h.configManager.Reload(); err != nil {
		h.logger.Warn("config reload rejected", "path", before.Path, "error", err)
		h.writeError(w, auditerrors.NewInvalidRequest("config reload failed: "+err.Error()))
		return
	}

	after := h.configManager.Status()
	h.logger.Info("config reloaded via api",
		"previous_checksum", before.Checksum,
		"checksum", after.Checksum,
	)
	h.writeData(w, http.StatusOK, after)
}
