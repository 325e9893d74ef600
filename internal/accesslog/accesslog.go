// Package accesslog parses Envoy/Istio proxy access log lines.
//
// Only the head of a line has a fixed grammar:
//
//	[timestamp] "METHOD path PROTOCOL" code rest...
//
// The rest mixes quoted strings with unquoted flag, route and numeric fields
// whose order depends on the proxy's access log configuration. Quoted fields
// are pulled out first and assigned from the right (upstream host, authority,
// request id, user agent, client ip); the remaining tokens are classified by
// shape.
package accesslog

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	headPattern   = regexp.MustCompile(`^\[([^\]]+)\]\s+"(\S+)\s+(\S+)(?:\s+(\S+))?"\s+(\d{3})(?:\s+(.*))?$`)
	quotedPattern = regexp.MustCompile(`"([^"]*)"`)
	flagsPattern  = regexp.MustCompile(`^[A-Z]{2,4}(,[A-Z]{2,4})*$`)
	routePattern  = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)+$|^[a-z]+$`)
	numberPattern = regexp.MustCompile(`^\d+$`)
)

// Entry is one request as printed by the proxy. Exact fields (method, path,
// code, timestamp) are kept verbatim; the numeric fields are best effort.
type Entry struct {
	// Timestamp is the log's own timestamp string, never renormalized.
	Timestamp string
	Method    string
	Path      string
	Protocol  string
	Code      int
	// Flags holds the proxy response flags, "" when the log printed "-".
	Flags string
	// Route is the first lower-case word token, typically the response code
	// details (via_upstream, route_not_found) or the route name.
	Route string

	BytesReceived int64
	BytesSent     int64
	// DurationMs is the first strictly positive integer token. See Parse.
	DurationMs int64
	// UpstreamTimeMs is the numeric token following the duration, if any.
	UpstreamTimeMs int64

	ClientIP     string
	UserAgent    string
	RequestID    string
	Host         string
	UpstreamHost string

	// Numbers lists every unquoted integer token in order, for callers that
	// know the exact field layout of their proxy.
	Numbers []int64
	// Rest is the raw text after the response code.
	Rest string
	Raw  string
}

// HasFlag reports whether the proxy set the given response flag.
func (e Entry) HasFlag(flag string) bool {
	if e.Flags == "" {
		return false
	}
	for _, f := range strings.Split(e.Flags, ",") {
		if f == flag {
			return true
		}
	}
	return false
}

// Parse splits raw log text into entries, newest first. Lines that do not
// match the access log grammar are skipped.
//
// The duration is the first strictly positive integer left after quoted
// fields are removed. This is a heuristic: with a zero byte count ahead of
// it the real duration is found, but a non-zero byte count printed before the
// duration will be taken instead. Entry.Numbers keeps every numeric token so
// the choice can be revisited once the proxy's log format is pinned down.
func Parse(raw string) []Entry {
	lines := strings.Split(raw, "\n")
	entries := make([]Entry, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		if e, ok := ParseLine(lines[i]); ok {
			entries = append(entries, e)
		}
	}
	// Lexical order of the printed timestamps is authoritative. Lines are
	// already reversed, so equal timestamps keep the later line first.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	return entries
}

// ParseLine parses a single access log line.
func ParseLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, false
	}
	m := headPattern.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}
	code, err := strconv.Atoi(m[5])
	if err != nil {
		return Entry{}, false
	}

	e := Entry{
		Timestamp: m[1],
		Method:    m[2],
		Path:      m[3],
		Protocol:  m[4],
		Code:      code,
		Rest:      m[6],
		Raw:       line,
	}
	e.assignQuoted(quotedPattern.FindAllStringSubmatch(e.Rest, -1))
	e.assignTokens(strings.Fields(quotedPattern.ReplaceAllString(e.Rest, " ")))
	return e, true
}

func (e *Entry) assignQuoted(matches [][]string) {
	targets := []*string{&e.UpstreamHost, &e.Host, &e.RequestID, &e.UserAgent, &e.ClientIP}
	for i := 0; i < len(targets) && i < len(matches); i++ {
		v := matches[len(matches)-1-i][1]
		if v == "-" {
			v = ""
		}
		*targets[i] = v
	}
}

func (e *Entry) assignTokens(tokens []string) {
	durationIdx := -1
	for _, tok := range tokens {
		switch {
		case numberPattern.MatchString(tok):
			n, err := strconv.ParseInt(tok, 10, 64)
			if err != nil {
				continue
			}
			if durationIdx < 0 && n > 0 {
				durationIdx = len(e.Numbers)
			}
			e.Numbers = append(e.Numbers, n)
		case e.Flags == "" && flagsPattern.MatchString(tok):
			e.Flags = tok
		case e.Route == "" && routePattern.MatchString(tok):
			e.Route = tok
		}
	}

	if durationIdx < 0 {
		return
	}
	e.DurationMs = e.Numbers[durationIdx]
	before := e.Numbers[:durationIdx]
	if len(before) > 0 {
		e.BytesReceived = before[0]
	}
	if len(before) > 1 {
		e.BytesSent = before[1]
	}
	if durationIdx+1 < len(e.Numbers) {
		e.UpstreamTimeMs = e.Numbers[durationIdx+1]
	}
}
