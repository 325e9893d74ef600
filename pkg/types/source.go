package types //nolint:revive // package name is intentional

import "time"

// SourceKind identifies a telemetry source or the component a record is
// attributed to.
type SourceKind string

const (
	// SourceRateLimiter is the rate limiter's per-namespace call counters.
	SourceRateLimiter SourceKind = "rate-limiter"
	// SourceAuthService is the auth service's attempt/success counters.
	SourceAuthService SourceKind = "auth-service"
	// SourceProxy is the proxy access log.
	SourceProxy SourceKind = "proxy"
	// SourceMesh is the mesh gateway's per-response-code counters.
	SourceMesh SourceKind = "mesh"
	// SourceModelServer is reserved for records attributed to the model server.
	SourceModelServer SourceKind = "model-server"
)

// FetchSources lists the polled sources in arbitration priority order.
var FetchSources = []SourceKind{
	SourceProxy,
	SourceMesh,
	SourceRateLimiter,
	SourceAuthService,
}

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceRateLimiter, SourceAuthService, SourceProxy, SourceMesh, SourceModelServer:
		return true
	default:
		return false
	}
}

// Status describes source connectivity and traffic state.
type Status struct {
	SourceConnected     map[SourceKind]bool   `json:"sourceConnected"`
	SourceErrors        map[SourceKind]string `json:"sourceErrors,omitempty"`
	HasRealTraffic      bool                  `json:"hasRealTraffic"`
	LastUpdate          time.Time             `json:"lastUpdate"`
	AuthoritativeSource SourceKind            `json:"authoritativeSource,omitempty"`
	Estimated           bool                  `json:"estimated"`
	Seeded              bool                  `json:"seeded"`
	LimiterUp           *bool                 `json:"limiterUp,omitempty"`
	PollCount           int64                 `json:"pollCount"`
	WindowSize          int                   `json:"windowSize"`
}

// DashboardSummary holds cumulative request totals by policy outcome, read
// from the latest snapshot of the metrics source that carries traffic.
type DashboardSummary struct {
	TotalRequests       int64              `json:"totalRequests"`
	AcceptedRequests    int64              `json:"acceptedRequests"`
	RejectedRequests    int64              `json:"rejectedRequests"`
	AuthFailedRequests  int64              `json:"authFailedRequests"`
	RateLimitedRequests int64              `json:"rateLimitedRequests"`
	NotFoundRequests    int64              `json:"notFoundRequests"`
	Source              SourceKind         `json:"source,omitempty"`
	Estimated           bool               `json:"estimated"`
	Policy              PolicyConnectivity `json:"policyStatus"`
	LastUpdate          time.Time          `json:"lastUpdate"`
}

// PolicyConnectivity reports which policy components answered the last poll.
type PolicyConnectivity struct {
	MeshConnected    bool `json:"meshConnected"`
	AuthConnected    bool `json:"authConnected"`
	LimiterConnected bool `json:"limiterConnected"`
}
