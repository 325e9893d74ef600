package api //nolint:revive // package name is intentional

import (
	"net/http"
)

// Route paths.
const (
	PathLiveRequests = "/api/v1/metrics/live-requests"
	PathStatus       = "/api/v1/metrics/status"
	PathDashboard    = "/api/v1/metrics/dashboard"
	PathRefresh      = "/api/v1/metrics/refresh"
	PathConfigStatus = "/api/v1/config/status"
	PathConfigReload = "/api/v1/config/reload"
	PathHealthLive   = "/health/live"
	PathHealthReady  = "/health/ready"
)

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+PathLiveRequests, h.LiveRequests)
	mux.HandleFunc("GET "+PathStatus, h.Status)
	mux.HandleFunc("GET "+PathDashboard, h.Dashboard)
	mux.HandleFunc("POST "+PathRefresh, h.Refresh)

	mux.HandleFunc("GET "+PathConfigStatus, h.ConfigStatus)
	mux.HandleFunc("POST "+PathConfigReload, h.ReloadConfig)

	mux.HandleFunc("GET "+PathHealthLive, h.Live)
	mux.HandleFunc("GET "+PathHealthReady, h.Ready)
}

// RouteInfo describes an API route.
type RouteInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Routes lists the registered routes, for startup logging.
func Routes() []RouteInfo {
	return []RouteInfo{
		{http.MethodGet, PathLiveRequests, "Reconstructed requests, newest first"},
		{http.MethodGet, PathStatus, "Source connectivity and traffic state"},
		{http.MethodGet, PathDashboard, "Cumulative request totals by outcome"},
		{http.MethodPost, PathRefresh, "Poll all sources now"},
		{http.MethodGet, PathConfigStatus, "Loaded configuration file status"},
		{http.MethodPost, PathConfigReload, "Reload the configuration file"},
		{http.MethodGet, PathHealthLive, "Liveness check"},
		{http.MethodGet, PathHealthReady, "Readiness check"},
	}
}
