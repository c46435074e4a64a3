package recall

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// Guard wraps a [narrative.MemoryIndex] and makes all operations non-fatal.
// If the underlying index fails, reads return empty defaults and writes are
// swallowed with a warning instead of propagating errors.
//
// This lets the turn orchestrator keep serving turns while the memory backend
// is temporarily unavailable (database restart, network partition). The
// IsDegraded method reports whether the index is currently failing.
//
// Guard implements [narrative.MemoryIndex].
//
// All methods are safe for concurrent use.
type Guard struct {
	index    narrative.MemoryIndex
	degraded atomic.Bool
}

// NewGuard creates a new [Guard] wrapping the given index.
func NewGuard(index narrative.MemoryIndex) *Guard {
	return &Guard{index: index}
}

// Upsert attempts the write. On failure the error is logged and swallowed;
// the index is marked as degraded.
func (g *Guard) Upsert(ctx context.Context, rec *narrative.MemoryRecord) error {
	if err := g.index.Upsert(ctx, rec); err != nil {
		g.degraded.Store(true)
		slog.Warn("memory guard: Upsert failed, swallowing error",
			"record_id", rec.ID,
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Search attempts the read. On failure an empty slice is returned and the
// index is marked as degraded.
func (g *Guard) Search(ctx context.Context, embedding []float32, q narrative.MemoryQuery) ([]narrative.MemoryResult, error) {
	results, err := g.index.Search(ctx, embedding, q)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("memory guard: Search failed, returning empty",
			"user_id", q.UserID,
			"character_id", q.CharacterID,
			"error", err,
		)
		return []narrative.MemoryResult{}, nil
	}
	g.degraded.Store(false)
	return results, nil
}

// Reinforce attempts the write. On failure the error is logged and swallowed.
func (g *Guard) Reinforce(ctx context.Context, id string, at time.Time) error {
	if err := g.index.Reinforce(ctx, id, at); err != nil {
		g.degraded.Store(true)
		slog.Warn("memory guard: Reinforce failed, swallowing error", "record_id", id, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Decay attempts the maintenance write. On failure 0 is returned.
func (g *Guard) Decay(ctx context.Context, userID string, characterIDs []string, factor float64) (int64, error) {
	n, err := g.index.Decay(ctx, userID, characterIDs, factor)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("memory guard: Decay failed, returning 0", "user_id", userID, "error", err)
		return 0, nil
	}
	g.degraded.Store(false)
	return n, nil
}

// PruneWeak attempts the maintenance write. On failure 0 is returned.
func (g *Guard) PruneWeak(ctx context.Context, userID string, characterIDs []string, minStrength float64) (int64, error) {
	n, err := g.index.PruneWeak(ctx, userID, characterIDs, minStrength)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("memory guard: PruneWeak failed, returning 0", "user_id", userID, "error", err)
		return 0, nil
	}
	g.degraded.Store(false)
	return n, nil
}

// TrimToStrongest attempts the maintenance write. On failure 0 is returned.
func (g *Guard) TrimToStrongest(ctx context.Context, userID, characterID string, maxCount int) (int64, error) {
	n, err := g.index.TrimToStrongest(ctx, userID, characterID, maxCount)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("memory guard: TrimToStrongest failed, returning 0",
			"user_id", userID,
			"character_id", characterID,
			"error", err,
		)
		return 0, nil
	}
	g.degraded.Store(false)
	return n, nil
}

// AddFact attempts the write. On failure the error is logged and swallowed.
func (g *Guard) AddFact(ctx context.Context, f *narrative.KnownFact) error {
	if err := g.index.AddFact(ctx, f); err != nil {
		g.degraded.Store(true)
		slog.Warn("memory guard: AddFact failed, swallowing error",
			"user_id", f.UserID,
			"character_id", f.CharacterID,
			"error", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Facts attempts the read. On failure an empty slice is returned.
func (g *Guard) Facts(ctx context.Context, userID, characterID string) ([]narrative.KnownFact, error) {
	facts, err := g.index.Facts(ctx, userID, characterID)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("memory guard: Facts failed, returning empty",
			"user_id", userID,
			"character_id", characterID,
			"error", err,
		)
		return []narrative.KnownFact{}, nil
	}
	g.degraded.Store(false)
	return facts, nil
}

// IsDegraded reports whether the index is currently operating in degraded
// mode (i.e., the most recent operation on the underlying index failed).
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Compile-time check that Guard satisfies narrative.MemoryIndex.
var _ narrative.MemoryIndex = (*Guard)(nil)
