package types //nolint:revive // package name is intentional

// Decision is the final verdict for a single request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// PolicyOutcome is the verdict of a single policy evaluation.
type PolicyOutcome string

const (
	PolicyAllow PolicyOutcome = "allow"
	PolicyDeny  PolicyOutcome = "deny"
)

// PolicyType classifies the policy that produced a decision.
type PolicyType string

const (
	PolicyTypeAuth      PolicyType = "Auth"
	PolicyTypeRateLimit PolicyType = "RateLimit"
	PolicyTypeContent   PolicyType = "Content"
	PolicyTypeCost      PolicyType = "Cost"
	// PolicyTypeRouting marks the gateway's route resolution step. It is only
	// ever emitted alone, since nothing downstream runs without a route.
	PolicyTypeRouting PolicyType = "Routing"
)

// EnforcementPoint is the component that executed a policy decision.
type EnforcementPoint string

const (
	EnforcementAuthService  EnforcementPoint = "auth-service"
	EnforcementRateLimiter  EnforcementPoint = "rate-limiter"
	EnforcementProxy        EnforcementPoint = "proxy"
	EnforcementPolicyEngine EnforcementPoint = "policy-engine"
)

// Origin tells consumers how a record came to exist.
type Origin string

const (
	// OriginObserved records map one-to-one to a real access log line.
	OriginObserved Origin = "observed"
	// OriginSynthesized records were fabricated from a counter delta.
	OriginSynthesized Origin = "synthesized"
	// OriginSeed records are illustrative placeholders shown before any
	// telemetry source has produced data.
	OriginSeed Origin = "seed"
)

// AuthenticationOutcome describes how the auth service judged a request.
type AuthenticationOutcome struct {
	Method           string   `json:"method"`
	Principal        *string  `json:"principal,omitempty"`
	Groups           []string `json:"groups,omitempty"`
	IsValid          bool     `json:"isValid"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// PolicyDecisionRecord is one enforcement point's verdict on a request.
type PolicyDecisionRecord struct {
	PolicyID         string           `json:"policyId"`
	PolicyName       string           `json:"policyName"`
	PolicyType       PolicyType       `json:"policyType"`
	Decision         PolicyOutcome    `json:"decision"`
	Reason           string           `json:"reason"`
	EnforcementPoint EnforcementPoint `json:"enforcementPoint"`
	ProcessingTimeMs *float64         `json:"processingTimeMs,omitempty"`
}

// ModelInferenceRecord summarizes a successful model invocation.
// Token counts are always estimates: the gateway does not expose them.
type ModelInferenceRecord struct {
	RequestID      string  `json:"requestId"`
	ModelName      string  `json:"modelName"`
	InputTokens    int     `json:"inputTokens"`
	OutputTokens   int     `json:"outputTokens"`
	TotalTokens    int     `json:"totalTokens"`
	ResponseTimeMs float64 `json:"responseTimeMs"`
	FinishReason   string  `json:"finishReason"`
	Estimated      bool    `json:"estimated"`
}

// RequestRecord is the unit exposed to the dashboard.
type RequestRecord struct {
	ID                  string                 `json:"id"`
	Timestamp           string                 `json:"timestamp"`
	Team                string                 `json:"team"`
	Model               string                 `json:"model"`
	Endpoint            string                 `json:"endpoint"`
	HTTPMethod          string                 `json:"httpMethod"`
	StatusCode          int                    `json:"statusCode"`
	Decision            Decision               `json:"decision"`
	FinalReason         string                 `json:"finalReason"`
	Authentication      *AuthenticationOutcome `json:"authentication,omitempty"`
	PolicyDecisions     []PolicyDecisionRecord `json:"policyDecisions"`
	ModelInference      *ModelInferenceRecord  `json:"modelInference,omitempty"`
	QueryText           string                 `json:"queryText"`
	TotalResponseTimeMs *float64               `json:"totalResponseTimeMs,omitempty"`
	EstimatedCost       *float64               `json:"estimatedCost,omitempty"`
	Source              SourceKind             `json:"source"`
	TraceID             string                 `json:"traceId,omitempty"`
	Origin              Origin                 `json:"origin"`
}

// IsReal reports whether the record reflects actual telemetry.
func (r RequestRecord) IsReal() bool {
	return r.Origin != OriginSeed
}
