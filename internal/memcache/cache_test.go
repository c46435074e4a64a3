package memcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/reveriehq/reverie/internal/memcache"
	"github.com/reveriehq/reverie/internal/recall"
	"github.com/reveriehq/reverie/pkg/narrative"
	narrativemock "github.com/reveriehq/reverie/pkg/narrative/mock"
)

func newCache(t *testing.T, idx narrative.MemoryIndex, now func() time.Time) *memcache.Cache {
	t.Helper()
	return memcache.New(memcache.Config{
		Searcher: recall.NewSearcher(recall.SearcherConfig{Index: idx}),
		Now:      now,
	})
}

func TestNeedsRefresh(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newCache(t, &narrativemock.MemoryIndex{}, func() time.Time { return base })

	fresh := &narrative.MemoryCachePayload{LastUpdated: base.Add(-time.Minute)}
	stale := &narrative.MemoryCachePayload{LastUpdated: base.Add(-6 * time.Minute)}

	tests := []struct {
		name     string
		cache    *narrative.MemoryCachePayload
		nextTurn int
		want     bool
	}{
		{"no snapshot yet", nil, 3, true},
		{"cadence turn", fresh, 10, true},
		{"cadence turn 20", fresh, 20, true},
		{"fresh off-cadence", fresh, 11, false},
		{"stale off-cadence", stale, 11, true},
		{"stale boundary not exceeded", &narrative.MemoryCachePayload{LastUpdated: base.Add(-5 * time.Minute)}, 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &narrative.Session{MemoryCache: tt.cache}
			if got := c.NeedsRefresh(sess, tt.nextTurn); got != tt.want {
				t.Errorf("NeedsRefresh = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestEnsure_RefreshCadence drives 25 consecutive turns and asserts the
// snapshot is rebuilt exactly on the first turn and on every multiple of ten.
func TestEnsure_RefreshCadence(t *testing.T) {
	idx := &narrativemock.MemoryIndex{}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newCache(t, idx, func() time.Time { return clock })

	sess := &narrative.Session{
		ID:                "s1",
		UserID:            "u1",
		PresentCharacters: []string{"mira"},
	}

	var refreshTurns []int
	for turn := 1; turn <= 25; turn++ {
		before := idx.CallCount("Search")
		c.Ensure(context.Background(), sess, turn, "hello")
		if idx.CallCount("Search") > before {
			refreshTurns = append(refreshTurns, turn)
		}
		clock = clock.Add(10 * time.Second) // well inside the staleness window
	}

	want := []int{1, 10, 20}
	if len(refreshTurns) != len(want) {
		t.Fatalf("refreshed on turns %v, want %v", refreshTurns, want)
	}
	for i := range want {
		if refreshTurns[i] != want[i] {
			t.Fatalf("refreshed on turns %v, want %v", refreshTurns, want)
		}
	}
}

func TestEnsure_StalenessTriggersRefresh(t *testing.T) {
	idx := &narrativemock.MemoryIndex{}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newCache(t, idx, func() time.Time { return clock })

	sess := &narrative.Session{ID: "s1", UserID: "u1", PresentCharacters: []string{"mira"}}

	c.Ensure(context.Background(), sess, 1, "hi")
	if got := idx.CallCount("Search"); got != 1 {
		t.Fatalf("initial fill: %d searches, want 1", got)
	}

	// Off-cadence turn shortly after: served from the snapshot.
	clock = clock.Add(time.Minute)
	c.Ensure(context.Background(), sess, 2, "hi again")
	if got := idx.CallCount("Search"); got != 1 {
		t.Errorf("fresh snapshot: %d searches, want 1", got)
	}

	// Same off-cadence turn number but past the staleness window.
	clock = clock.Add(10 * time.Minute)
	c.Ensure(context.Background(), sess, 3, "still there?")
	if got := idx.CallCount("Search"); got != 2 {
		t.Errorf("stale snapshot: %d searches, want 2", got)
	}
}

func TestEnsure_WritesSnapshotOntoSession(t *testing.T) {
	idx := &narrativemock.MemoryIndex{}
	ctx := context.Background()
	rec := narrative.MemoryRecord{ID: "m1", UserID: "u1", CharacterID: "mira", Content: "remembers rain", Strength: 1}
	if err := idx.Upsert(ctx, &rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newCache(t, idx, func() time.Time { return now })

	sess := &narrative.Session{ID: "s1", UserID: "u1", PresentCharacters: []string{"mira"}}
	entries := c.Ensure(ctx, sess, 1, "rain")

	if len(entries["mira"]) != 1 {
		t.Fatalf("entries = %v, want 1 memory for mira", entries)
	}
	if sess.MemoryCache == nil {
		t.Fatal("snapshot was not written onto the session")
	}
	if !sess.MemoryCache.LastUpdated.Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", sess.MemoryCache.LastUpdated, now)
	}
}
