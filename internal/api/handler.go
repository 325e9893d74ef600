// Package api exposes the reconstructed traffic window and engine status to
// the dashboard over HTTP.
package api //nolint:revive // package name is intentional

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maasdash/trafficaudit/internal/aggregator"
	"github.com/maasdash/trafficaudit/internal/config"
	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// Engine is the part of the aggregation engine the handlers need.
type Engine interface {
	ListRequests(ctx context.Context) []types.RequestRecord
	Status() types.Status
	Summary() types.DashboardSummary
	Refresh(ctx context.Context) (aggregator.CycleResult, error)
	Ready() bool
}

// Handler serves the dashboard API.
type Handler struct {
	engine        Engine
	configManager *config.Manager
	logger        *slog.Logger
}

// NewHandler creates a handler. cfgManager may be nil, in which case the
// config endpoints answer 503.
func NewHandler(engine Engine, cfgManager *config.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:        engine,
		configManager: cfgManager,
		logger:        logger,
	}
}

// LiveRequests handles GET /api/v1/metrics/live-requests.
// An optional limit query parameter truncates the newest-first list.
func (h *Handler) LiveRequests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, auditerrors.NewInvalidRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	records := h.engine.ListRequests(r.Context())
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	if records == nil {
		records = []types.RequestRecord{}
	}
	h.writeData(w, http.StatusOK, records)
}

// Status handles GET /api/v1/metrics/status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	h.writeData(w, http.StatusOK, h.engine.Status())
}

// Dashboard handles GET /api/v1/metrics/dashboard: cumulative totals of the
// metrics source that currently carries traffic.
func (h *Handler) Dashboard(w http.ResponseWriter, _ *http.Request) {
	h.writeData(w, http.StatusOK, h.engine.Summary())
}

type refreshResponse struct {
	AuthoritativeSource types.SourceKind      `json:"authoritativeSource,omitempty"`
	Added               int                   `json:"added"`
	Estimated           bool                  `json:"estimated"`
	Seeded              bool                  `json:"seeded"`
	NoSources           bool                  `json:"noSources"`
	DurationMs          float64               `json:"durationMs"`
	Requests            []types.RequestRecord `json:"requests"`
}

// Refresh handles POST /api/v1/metrics/refresh: it runs a poll now and
// returns the updated window.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.engine.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, aggregator.ErrPollInProgress) {
			h.writeErrorStatus(w, http.StatusConflict, "poll_in_progress", err.Error())
			return
		}
		h.writeError(w, err)
		return
	}

	records := h.engine.ListRequests(r.Context())
	if records == nil {
		records = []types.RequestRecord{}
	}
	h.writeData(w, http.StatusOK, refreshResponse{
		AuthoritativeSource: cycle.Authoritative,
		Added:               cycle.Added,
		Estimated:           cycle.Estimated,
		Seeded:              cycle.Seeded,
		NoSources:           cycle.NoSources,
		DurationMs:          float64(cycle.Duration.Microseconds()) / 1000,
		Requests:            records,
	})
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. The service is ready once one poll cycle
// has completed.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if !h.engine.Ready() {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
