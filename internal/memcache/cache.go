// Package memcache maintains the per-session snapshot of recently retrieved
// long-term memories.
//
// The snapshot lives on the session row and spares the turn path a full
// vector search on most turns: it is rebuilt only on the refresh cadence
// (every tenth turn) or once it has gone stale. It is never authoritative —
// losing it costs nothing but one extra retrieval.
package memcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/reveriehq/reverie/internal/recall"
	"github.com/reveriehq/reverie/pkg/narrative"
)

const (
	// RefreshTurnInterval rebuilds the snapshot on every n-th turn.
	RefreshTurnInterval = 10

	// RefreshMaxAge rebuilds the snapshot once it is older than this.
	RefreshMaxAge = 5 * time.Minute
)

// Cache decides when the session memory snapshot must be rebuilt and rebuilds
// it through a [recall.Searcher].
type Cache struct {
	searcher *recall.Searcher
	log      *slog.Logger
	now      func() time.Time
}

// Config configures a [Cache].
type Config struct {
	// Searcher performs the retrieval that fills the snapshot.
	Searcher *recall.Searcher

	// Logger receives refresh reports. Defaults to [slog.Default].
	Logger *slog.Logger

	// Now overrides the clock, for tests. Defaults to [time.Now].
	Now func() time.Time
}

// New creates a [Cache] with the given configuration.
func New(cfg Config) *Cache {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{searcher: cfg.Searcher, log: log, now: now}
}

// NeedsRefresh reports whether the session's snapshot must be rebuilt before
// the turn numbered nextTurn: when no snapshot exists yet, when nextTurn
// falls on the refresh cadence, or when the snapshot has outlived
// [RefreshMaxAge].
func (c *Cache) NeedsRefresh(sess *narrative.Session, nextTurn int) bool {
	if sess.MemoryCache == nil {
		return true
	}
	if nextTurn%RefreshTurnInterval == 0 {
		return true
	}
	return c.now().Sub(sess.MemoryCache.LastUpdated) > RefreshMaxAge
}

// Ensure returns the memory entries to use for the turn, refreshing the
// session's snapshot first when [Cache.NeedsRefresh] says so. The refreshed
// snapshot is written onto sess but not persisted here; the caller persists
// the session as part of its normal turn write.
//
// Concurrent refreshes of the same session race harmlessly: both snapshots
// are valid and the later write wins.
func (c *Cache) Ensure(ctx context.Context, sess *narrative.Session, nextTurn int, queryText string) map[string][]narrative.MemoryRecord {
	if !c.NeedsRefresh(sess, nextTurn) {
		return sess.MemoryCache.Entries
	}

	entries := c.searcher.Recall(ctx, sess.UserID, sess.PresentCharacters, queryText)
	sess.MemoryCache = &narrative.MemoryCachePayload{
		Entries:     entries,
		LastUpdated: c.now(),
	}
	c.log.Debug("session memory snapshot refreshed",
		"session_id", sess.ID,
		"turn", nextTurn,
		"characters", len(entries),
	)
	return entries
}
