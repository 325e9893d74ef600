package observability

import (
	"regexp"
)

// Redactor masks credentials that can leak into log lines, mostly through
// telemetry fetch errors that echo URLs or headers.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
	name        string
}

// NewRedactor creates a new redactor with default patterns.
func NewRedactor() *Redactor {
	r := &Redactor{}
	r.addDefaultPatterns()
	return r
}

func (r *Redactor) addDefaultPatterns() {
	// Bearer tokens (Prometheus/Thanos behind an auth proxy, service account tokens)
	r.AddPattern(`Bearer\s+[a-zA-Z0-9\-_\.=]+`, "Bearer [REDACTED]", "bearer_token")
	r.AddPattern(`Authorization:\s*[^\s]+`, "Authorization: [REDACTED]", "auth_header")

	// Service account tokens and other JWTs
	r.AddPattern(`eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]*`, "[REDACTED_JWT]", "jwt")

	// Credentials embedded in URLs
	r.AddPattern(`://[^/\s:@]+:[^/\s@]+@`, "://[REDACTED]@", "url_userinfo")
	r.AddPattern(`(?i)((?:access_)?token|api_key|apikey)=[^&\s]+`, "$1=[REDACTED]", "query_token")

	// Gateway API keys
	r.AddPattern(`\b[a-f0-9]{32,64}\b`, "[REDACTED_API_KEY]", "hex_api_key")
	r.AddPattern(`(?i)APIKEY\s+[a-zA-Z0-9\-_]{16,}`, "APIKEY [REDACTED]", "apikey_header")
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern, replacement, name string) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return
	}
	r.patterns = append(r.patterns, &redactPattern{
		regex:       regex,
		replacement: replacement,
		name:        name,
	})
}

// Redact applies all redaction patterns to the input string.
func (r *Redactor) Redact(input string) string {
	result := input
	for _, p := range r.patterns {
		result = p.regex.ReplaceAllString(result, p.replacement)
	}
	return result
}
