package window

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maasdash/trafficaudit/pkg/types"
)

func rec(id string) types.RequestRecord {
	return types.RequestRecord{ID: id, Origin: types.OriginObserved}
}

func seedRec(id string) types.RequestRecord {
	return types.RequestRecord{ID: id, Origin: types.OriginSeed}
}

func ids(records []types.RequestRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestWindow_PrependNewestFirst(t *testing.T) {
	w := New(Options{Size: 10})

	w.Prepend([]types.RequestRecord{rec("b"), rec("a")})
	added := w.Prepend([]types.RequestRecord{rec("d"), rec("c")})

	assert.Equal(t, []string{"d", "c"}, ids(added))
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(w.Records()))
}

func TestWindow_DeduplicatesIDs(t *testing.T) {
	w := New(Options{Size: 10})

	w.Prepend([]types.RequestRecord{rec("a"), rec("b")})
	added := w.Prepend([]types.RequestRecord{rec("c"), rec("a"), rec("c"), {ID: ""}})

	assert.Equal(t, []string{"c"}, ids(added))
	assert.Equal(t, []string{"c", "a", "b"}, ids(w.Records()))
}

func TestWindow_SizeBound(t *testing.T) {
	w := New(Options{Size: 100})

	for batch := 0; batch < 30; batch++ {
		records := make([]types.RequestRecord, 0, 7)
		for i := 0; i < 7; i++ {
			records = append(records, rec(fmt.Sprintf("r-%d-%d", batch, i)))
		}
		w.Prepend(records)
		require.LessOrEqual(t, w.Len(), 100)
	}

	got := w.Records()
	require.Len(t, got, 100)
	assert.Equal(t, "r-29-0", got[0].ID)

	seen := map[string]bool{}
	for _, r := range got {
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestWindow_TrimmedIDsAreNotReadmitted(t *testing.T) {
	w := New(Options{Size: 2})

	w.Prepend([]types.RequestRecord{rec("a")})
	w.Prepend([]types.RequestRecord{rec("c"), rec("b")})
	require.Equal(t, []string{"c", "b"}, ids(w.Records()))

	added := w.Prepend([]types.RequestRecord{rec("a")})

	assert.Empty(t, added)
	assert.Equal(t, []string{"c", "b"}, ids(w.Records()))
}

func TestWindow_MaxAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := New(Options{Size: 10, MaxAge: time.Minute})
	w.now = func() time.Time { return now }

	w.Prepend([]types.RequestRecord{rec("old")})
	now = now.Add(45 * time.Second)
	w.Prepend([]types.RequestRecord{rec("new")})
	now = now.Add(30 * time.Second)
	w.Trim()

	assert.Equal(t, []string{"new"}, ids(w.Records()))
}

func TestWindow_SeedPurge(t *testing.T) {
	w := New(Options{Size: 10})

	w.Prepend([]types.RequestRecord{seedRec("s1"), seedRec("s2")})
	assert.True(t, w.HasSeed())

	w.Prepend([]types.RequestRecord{rec("real")})
	removed := w.PurgeSeed()

	assert.Equal(t, 2, removed)
	assert.False(t, w.HasSeed())
	assert.Equal(t, []string{"real"}, ids(w.Records()))
}

func TestWindow_RecordsIsACopy(t *testing.T) {
	w := New(Options{})
	w.Prepend([]types.RequestRecord{rec("a")})

	got := w.Records()
	got[0].ID = "mutated"

	assert.Equal(t, "a", w.Records()[0].ID)
}

func TestWindow_ClearAndResize(t *testing.T) {
	w := New(Options{Size: 5})
	w.Prepend([]types.RequestRecord{rec("c"), rec("b"), rec("a")})

	w.Resize(Options{Size: 2})
	assert.Equal(t, []string{"c", "b"}, ids(w.Records()))

	w.Clear()
	assert.Zero(t, w.Len())
	added := w.Prepend([]types.RequestRecord{rec("a")})
	assert.Len(t, added, 1)
}

func TestWindow_ResizeShortensIDRetention(t *testing.T) {
	w := New(Options{Size: 1, MaxAge: time.Hour})
	w.Prepend([]types.RequestRecord{rec("a")})
	w.Prepend([]types.RequestRecord{rec("b")})
	require.Equal(t, []string{"b"}, ids(w.Records()))

	w.Resize(Options{Size: 1, MaxAge: 20 * time.Millisecond})
	assert.Equal(t, 20*time.Millisecond, w.seenTTL)

	// Still remembered right after the change.
	assert.Empty(t, w.Prepend([]types.RequestRecord{rec("a")}))

	time.Sleep(100 * time.Millisecond)
	added := w.Prepend([]types.RequestRecord{rec("a")})
	assert.Equal(t, []string{"a"}, ids(added))
}

func TestWindow_ResizeKeepsRetentionWhenUnchanged(t *testing.T) {
	w := New(Options{Size: 1})
	before := w.seen
	w.Resize(Options{Size: 3})
	assert.Same(t, before, w.seen)
	assert.Equal(t, defaultIndexTTL, w.seenTTL)

	w.Resize(Options{Size: 3, MaxAge: time.Minute})
	assert.NotSame(t, before, w.seen)
	assert.Equal(t, time.Minute, w.seenTTL)
}

func TestNew_DefaultSize(t *testing.T) {
	w := New(Options{})
	assert.Equal(t, DefaultSize, w.size)
}
