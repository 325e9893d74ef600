// Package inference derives policy decisions, authentication outcomes and
// model usage estimates from what the proxy observed about a request.
//
// The functions in decision.go are pure. Everything that needs configuration
// (team and model naming, pricing) hangs off Inferrer.
package inference

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// Proxy markers for a request that never matched a route.
const (
	FlagNoRoute      = "NR"
	RouteNotFound    = "route_not_found"
	AuthMethodAPIKey = "api-key"
)

// Policy identifiers attached to synthesized decisions.
const (
	PolicyIDRouting   = "gateway-route"
	PolicyIDAuth      = "api-key-auth"
	PolicyIDRateLimit = "tier-rate-limit"
)

// RoutingFailed reports whether the proxy rejected the request before any
// policy ran.
func RoutingFailed(flags, route string) bool {
	if route == RouteNotFound {
		return true
	}
	for _, f := range strings.Split(flags, ",") {
		if f == FlagNoRoute {
			return true
		}
	}
	return false
}

// Decide returns the final verdict for a request.
func Decide(code int, flags, route string) types.Decision {
	if RoutingFailed(flags, route) {
		return types.DecisionReject
	}
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return types.DecisionReject
	case code == http.StatusOK:
		return types.DecisionAccept
	case code >= 400:
		return types.DecisionReject
	default:
		return types.DecisionAccept
	}
}

func authFailed(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// FinalReason explains the verdict in one sentence.
func FinalReason(code int, flags, route string) string {
	if RoutingFailed(flags, route) {
		if authFailed(code) {
			return fmt.Sprintf("Authentication failed (HTTP %d) at the gateway: no route matched, so no policy was evaluated", code)
		}
		return fmt.Sprintf("No route matched (HTTP %d): rejected by the proxy before policy evaluation", code)
	}
	switch {
	case code == http.StatusUnauthorized:
		return "Authentication failed: missing or invalid API key"
	case code == http.StatusForbidden:
		return "Authentication succeeded but the principal is not authorized for this model"
	case code == http.StatusTooManyRequests:
		return "Rate limit exceeded"
	case code == http.StatusOK:
		return "Accepted: all policies passed"
	case code >= 500:
		return fmt.Sprintf("Upstream error (HTTP %d)", code)
	case code >= 400:
		return fmt.Sprintf("Rejected by the gateway (HTTP %d)", code)
	default:
		return fmt.Sprintf("Completed with HTTP %d", code)
	}
}

// IsAPIPath reports whether the path goes through the authenticated API.
func IsAPIPath(path string) bool {
	return strings.Contains(path, "/v1/") ||
		strings.HasPrefix(path, "/api/") ||
		strings.HasPrefix(path, "/llm/")
}

// IsModelEndpoint reports whether the path invokes a model.
func IsModelEndpoint(path string) bool {
	return strings.Contains(path, "v1/")
}

// Authenticate derives the auth service's view of a request. It returns nil
// when the request never reached the auth service.
func Authenticate(code int, flags, route, path string) *types.AuthenticationOutcome {
	if RoutingFailed(flags, route) || !IsAPIPath(path) {
		return nil
	}
	out := &types.AuthenticationOutcome{Method: AuthMethodAPIKey, IsValid: true}
	switch code {
	case http.StatusUnauthorized:
		out.IsValid = false
		out.ValidationErrors = []string{"missing or invalid API key"}
	case http.StatusForbidden:
		out.ValidationErrors = []string{"principal not authorized for the requested model"}
	}
	return out
}

// PolicyDecisions lists the decisions taken for a request in evaluation
// order. A routing failure short-circuits everything else.
func PolicyDecisions(code int, flags, route, path string) []types.PolicyDecisionRecord {
	if RoutingFailed(flags, route) {
		reason := "no route matched the request"
		if flags != "" {
			reason = fmt.Sprintf("no route matched the request (flags %s)", flags)
		}
		return []types.PolicyDecisionRecord{{
			PolicyID:         PolicyIDRouting,
			PolicyName:       "Gateway route resolution",
			PolicyType:       types.PolicyTypeRouting,
			Decision:         types.PolicyDeny,
			Reason:           reason,
			EnforcementPoint: types.EnforcementProxy,
		}}
	}

	decisions := make([]types.PolicyDecisionRecord, 0, 2)
	if IsAPIPath(path) {
		d := types.PolicyDecisionRecord{
			PolicyID:         PolicyIDAuth,
			PolicyName:       "API key authentication",
			PolicyType:       types.PolicyTypeAuth,
			Decision:         types.PolicyAllow,
			Reason:           "valid API key",
			EnforcementPoint: types.EnforcementAuthService,
		}
		if authFailed(code) {
			d.Decision = types.PolicyDeny
			d.Reason = http.StatusText(code)
		}
		decisions = append(decisions, d)
	}
	if authFailed(code) {
		return decisions
	}

	d := types.PolicyDecisionRecord{
		PolicyID:         PolicyIDRateLimit,
		PolicyName:       "Tier rate limit",
		PolicyType:       types.PolicyTypeRateLimit,
		Decision:         types.PolicyAllow,
		Reason:           "within tier limits",
		EnforcementPoint: types.EnforcementRateLimiter,
	}
	if code == http.StatusTooManyRequests {
		d.Decision = types.PolicyDeny
		d.Reason = "tier request limit exceeded"
	}
	return append(decisions, d)
}
