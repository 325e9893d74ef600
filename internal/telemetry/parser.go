package telemetry

import (
	"fmt"
	"sync"
	"time"

	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// Parser turns decoded samples into a snapshot for one source kind.
type Parser interface {
	Kind() types.SourceKind
	Parse(samples []Sample, at time.Time) (Snapshot, error)
	// Empty returns the zeroed snapshot handed out when a payload is malformed.
	Empty(at time.Time) Snapshot
}

// Registry holds exactly one parser per source kind.
type Registry struct {
	mu      sync.RWMutex
	parsers map[types.SourceKind]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[types.SourceKind]Parser)}
}

// DefaultRegistry returns a registry with the counter, gateway and auth parsers.
func DefaultRegistry(authRateWindow time.Duration) *Registry {
	r := NewRegistry()
	r.Register(CounterParser{})
	r.Register(GatewayParser{})
	r.Register(AuthParser{RateWindow: authRateWindow})
	return r
}

// Register adds or replaces the parser for p.Kind().
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Kind()] = p
}

// Parser returns the parser registered for kind.
func (r *Registry) Parser(kind types.SourceKind) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[kind]
	return p, ok
}

// Parse decodes raw and builds a snapshot for kind. On any failure it returns
// the zeroed snapshot for kind together with a malformed_payload error.
func (r *Registry) Parse(kind types.SourceKind, raw []byte, at time.Time) (Snapshot, error) {
	p, ok := r.Parser(kind)
	if !ok {
		return nil, auditerrors.NewInvalidRequest(fmt.Sprintf("no parser registered for source %q", kind))
	}

	samples, err := DecodeSamples(raw)
	if err != nil {
		return p.Empty(at), auditerrors.NewMalformedPayload(kind, "undecodable metrics payload", err)
	}

	snap, err := p.Parse(samples, at)
	if err != nil || snap == nil {
		return p.Empty(at), auditerrors.NewMalformedPayload(kind, "unusable metrics payload", err)
	}
	return snap, nil
}
