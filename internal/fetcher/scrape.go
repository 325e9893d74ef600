package fetcher

import (
	"context"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// expositionAccept asks for the text format; protobuf is not decoded.
const expositionAccept = "text/plain;version=0.0.4;q=1,*/*;q=0.1"

// ScrapeFetcher GETs a Prometheus text exposition endpoint such as the rate
// limiter's /metrics.
type ScrapeFetcher struct {
	kind types.SourceKind
	url  string
	opts HTTPOptions
}

// NewScrapeFetcher creates a scrape fetcher for kind.
func NewScrapeFetcher(kind types.SourceKind, url string, opts HTTPOptions) *ScrapeFetcher {
	return &ScrapeFetcher{kind: kind, url: url, opts: opts}
}

// Kind implements Fetcher.
func (f *ScrapeFetcher) Kind() types.SourceKind { return f.kind }

// Fetch implements Fetcher.
func (f *ScrapeFetcher) Fetch(ctx context.Context) ([]byte, error) {
	return f.opts.get(ctx, f.kind, f.url, expositionAccept, readFull)
}
