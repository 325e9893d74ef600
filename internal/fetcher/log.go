package fetcher

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/maasdash/trafficaudit/internal/httputil"
	auditerrors "github.com/maasdash/trafficaudit/pkg/errors"
	"github.com/maasdash/trafficaudit/pkg/types"
)

// DefaultLogTailBytes is how much of the access log is read each poll.
const DefaultLogTailBytes int64 = 256 * 1024

// LogFetcher reads the tail of the proxy access log from a local file
// ("file:///var/log/envoy/access.log" or a bare path) or an HTTP endpoint.
type LogFetcher struct {
	location  string
	tailBytes int64
	opts      HTTPOptions
}

// NewLogFetcher creates a log fetcher. tailBytes <= 0 uses DefaultLogTailBytes.
func NewLogFetcher(location string, tailBytes int64, opts HTTPOptions) *LogFetcher {
	if tailBytes <= 0 {
		tailBytes = DefaultLogTailBytes
	}
	return &LogFetcher{location: location, tailBytes: tailBytes, opts: opts}
}

// Kind implements Fetcher.
func (f *LogFetcher) Kind() types.SourceKind { return types.SourceProxy }

// Fetch implements Fetcher.
func (f *LogFetcher) Fetch(ctx context.Context) ([]byte, error) {
	if strings.HasPrefix(f.location, "http://") || strings.HasPrefix(f.location, "https://") {
		opts := f.opts
		opts.MaxBodyBytes = f.tailBytes
		return opts.get(ctx, types.SourceProxy, f.location, "text/plain", readTail)
	}
	if err := ctx.Err(); err != nil {
		return nil, auditerrors.NewSourceUnavailable(types.SourceProxy, "log read canceled", err)
	}
	return f.readFile(strings.TrimPrefix(f.location, "file://"))
}

func (f *LogFetcher) readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, auditerrors.NewSourceUnavailable(types.SourceProxy, "open access log", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, auditerrors.NewSourceUnavailable(types.SourceProxy, "stat access log", err)
	}

	offset := int64(0)
	if info.Size() > f.tailBytes {
		offset = info.Size() - f.tailBytes
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, auditerrors.NewSourceUnavailable(types.SourceProxy, "seek access log", err)
	}

	data, err := io.ReadAll(io.LimitReader(file, f.tailBytes))
	if err != nil {
		return nil, auditerrors.NewSourceUnavailable(types.SourceProxy, "read access log", err)
	}
	if offset > 0 {
		data = httputil.DropPartialLine(data)
	}
	return data, nil
}
