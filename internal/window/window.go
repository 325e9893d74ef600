// Package window holds the rolling, newest-first list of reconstructed
// requests served by the query surface.
package window

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/maasdash/trafficaudit/pkg/types"
)

// DefaultSize is the number of records kept when no size is configured.
const DefaultSize = 100

// defaultIndexTTL bounds how long an id is remembered when no max age is set.
const defaultIndexTTL = time.Hour

// Options configures a Window.
type Options struct {
	// Size is the maximum number of records held.
	Size int
	// MaxAge drops records admitted longer ago than this. Zero keeps records
	// until they are pushed out by size.
	MaxAge time.Duration
}

type entry struct {
	record     types.RequestRecord
	admittedAt time.Time
}

// Window is a bounded list of records, newest first, with unique ids.
// Ids of real records are remembered for the retention period even after the
// record leaves the list, so a replayed snapshot cannot re-add them.
type Window struct {
	mu      sync.RWMutex
	size    int
	maxAge  time.Duration
	entries []entry
	seen    *cache.Cache
	seenTTL time.Duration
	now     func() time.Time
}

func indexTTL(maxAge time.Duration) time.Duration {
	if maxAge <= 0 {
		return defaultIndexTTL
	}
	return maxAge
}

// New creates an empty window.
func New(opts Options) *Window {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	ttl := indexTTL(opts.MaxAge)
	return &Window{
		size:    opts.Size,
		maxAge:  opts.MaxAge,
		seen:    cache.New(ttl, ttl),
		seenTTL: ttl,
		now:     time.Now,
	}
}

// Prepend adds records (given newest first) ahead of the current contents,
// skipping ids already present or recently seen, then trims by size and age.
// It returns the records actually added.
func (w *Window) Prepend(records []types.RequestRecord) []types.RequestRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	present := make(map[string]struct{}, len(w.entries))
	for _, e := range w.entries {
		present[e.record.ID] = struct{}{}
	}

	fresh := make([]entry, 0, len(records))
	added := make([]types.RequestRecord, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, dup := present[rec.ID]; dup {
			continue
		}
		if rec.IsReal() {
			if err := w.seen.Add(rec.ID, struct{}{}, cache.DefaultExpiration); err != nil {
				continue
			}
		}
		present[rec.ID] = struct{}{}
		fresh = append(fresh, entry{record: rec, admittedAt: now})
		added = append(added, rec)
	}

	if len(fresh) > 0 {
		w.entries = append(fresh, w.entries...)
	}
	w.trimLocked(now)
	return added
}

// Trim applies the size and age bounds without adding anything.
func (w *Window) Trim() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trimLocked(w.now())
}

func (w *Window) trimLocked(now time.Time) {
	if len(w.entries) > w.size {
		clear(w.entries[w.size:])
		w.entries = w.entries[:w.size]
	}
	if w.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-w.maxAge)
	keep := len(w.entries)
	for keep > 0 && w.entries[keep-1].admittedAt.Before(cutoff) {
		keep--
	}
	clear(w.entries[keep:])
	w.entries = w.entries[:keep]
}

// Records returns a copy of the window, newest first.
func (w *Window) Records() []types.RequestRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]types.RequestRecord, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.record
	}
	return out
}

// Len returns the number of records held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// HasSeed reports whether any seed record is present.
func (w *Window) HasSeed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, e := range w.entries {
		if !e.record.IsReal() {
			return true
		}
	}
	return false
}

// PurgeSeed removes every seed record and returns how many were removed.
func (w *Window) PurgeSeed() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.entries[:0]
	removed := 0
	for _, e := range w.entries {
		if e.record.IsReal() {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	clear(w.entries[len(kept):])
	w.entries = kept
	return removed
}

// Clear empties the window and forgets every id.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
	w.seen.Flush()
}

// Resize changes the bounds, trimming immediately if they shrank. A new max
// age also becomes the retention of remembered ids; ids already remembered
// keep their remaining time, capped at the new retention.
func (w *Window) Resize(opts Options) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if opts.Size > 0 {
		w.size = opts.Size
	}
	w.maxAge = opts.MaxAge
	if ttl := indexTTL(opts.MaxAge); ttl != w.seenTTL {
		w.rebuildIndexLocked(ttl)
	}
	w.trimLocked(w.now())
}

func (w *Window) rebuildIndexLocked(ttl time.Duration) {
	seen := cache.New(ttl, ttl)
	now := time.Now()
	for id, item := range w.seen.Items() {
		remaining := ttl
		if item.Expiration > 0 {
			remaining = min(time.Unix(0, item.Expiration).Sub(now), ttl)
		}
		if remaining > 0 {
			seen.Set(id, item.Object, remaining)
		}
	}
	w.seen = seen
	w.seenTTL = ttl
}
