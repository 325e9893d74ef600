// Package fetcher retrieves raw telemetry payloads from the gateway stack:
// Prometheus text scrapes, Prometheus HTTP API queries and access log tails.
// Fetchers return bytes only; parsing belongs to the telemetry and accesslog
// packages.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/maasdash/trafficaudit/internal/httputil"
	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 5 * time.Second

// Fetcher retrieves the current payload of one telemetry source.
type Fetcher interface {
	Kind() types.SourceKind
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPOptions configures the HTTP side of a fetcher.
type HTTPOptions struct {
	// BearerToken is sent as "Authorization: Bearer <token>" when set.
	BearerToken string
	// Headers are added to every request.
	Headers map[string]string
	// MaxBodyBytes caps the response body. Zero means the httputil default.
	MaxBodyBytes int64
	// Client overrides the HTTP client. Timeouts come from the context.
	Client *http.Client
}

func (o HTTPOptions) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

func (o HTTPOptions) maxBody() int64 {
	if o.MaxBodyBytes > 0 {
		return o.MaxBodyBytes
	}
	return httputil.DefaultMaxResponseBodyBytes
}

func (o HTTPOptions) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range o.Headers {
		req.Header.Set(k, v)
	}
	if o.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+o.BearerToken)
	}
	return req, nil
}

// get performs a GET and returns the bounded body. read chooses how the body
// is consumed (full body or tail).
func (o HTTPOptions) get(ctx context.Context, kind types.SourceKind, url string, accept string,
	read func(resp *http.Response, max int64) ([]byte, error),
) ([]byte, error) {
	req, err := o.newRequest(ctx, url)
	if err != nil {
		return nil, auditerrors.NewSourceUnavailable(kind, "build request", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := o.client().Do(req)
	if err != nil {
		return nil, auditerrors.NewSourceUnavailable(kind, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := httputil.ReadLimitedBody(resp.Body, 512)
		return nil, auditerrors.NewSourceUnavailable(kind,
			fmt.Sprintf("unexpected status %d", resp.StatusCode),
			fmt.Errorf("%s", body))
	}

	body, err := read(resp, o.maxBody())
	if err != nil {
		return nil, auditerrors.NewSourceUnavailable(kind, "read body", err)
	}
	return body, nil
}

func readFull(resp *http.Response, max int64) ([]byte, error) {
	return httputil.ReadLimitedBody(resp.Body, max)
}

func readTail(resp *http.Response, max int64) ([]byte, error) {
	return httputil.ReadTail(resp.Body, max)
}
