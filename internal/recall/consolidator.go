package recall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reveriehq/reverie/pkg/narrative"
	"github.com/reveriehq/reverie/pkg/provider/embeddings"
	"github.com/reveriehq/reverie/pkg/provider/generate"
)

const (
	// noveltyThreshold is the maximum similarity a candidate may have to any
	// existing memory and still be saved as new.
	noveltyThreshold = 0.55

	// reinforceThreshold is the minimum similarity to an existing memory that
	// triggers reinforcement of that memory instead of a save.
	reinforceThreshold = 0.6

	// compareLimit caps how many existing memories a candidate is compared
	// against.
	compareLimit = 20
)

// Outcome summarises one consolidation pass.
type Outcome struct {
	// Saved is the number of new memory records persisted.
	Saved int

	// Reinforced is the number of existing records strengthened.
	Reinforced int

	// Skipped is the number of candidates in the dead zone between novelty
	// and reinforcement, dropped without a write.
	Skipped int

	// Facts is the number of known facts persisted.
	Facts int
}

// Consolidator applies the novelty gate to candidate memories after a turn.
//
// A candidate that closely matches an existing memory reinforces it; a
// candidate unlike anything stored becomes a new record; everything in
// between is dropped. Similarity is lexical (token Jaccard) so the gate keeps
// working when the embedding provider is down — a new record then simply
// stores no vector and is served by the recency fallback.
type Consolidator struct {
	index    narrative.MemoryIndex
	embedder embeddings.Provider
	log      *slog.Logger
}

// ConsolidatorConfig configures a [Consolidator].
type ConsolidatorConfig struct {
	// Index is the long-term memory index written to.
	Index narrative.MemoryIndex

	// Embedder embeds newly saved memories. When nil, or on failure, records
	// are stored without a vector.
	Embedder embeddings.Provider

	// Logger receives degradation warnings. Defaults to [slog.Default].
	Logger *slog.Logger
}

// NewConsolidator creates a [Consolidator] with the given configuration.
func NewConsolidator(cfg ConsolidatorConfig) *Consolidator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Consolidator{index: cfg.Index, embedder: cfg.Embedder, log: log}
}

// Consolidate runs the novelty gate over the turn's candidate memories and
// persists the turn's facts. Individual candidate failures are logged and
// counted as skipped; the pass itself only fails when ctx is cancelled.
func (c *Consolidator) Consolidate(ctx context.Context, userID string, turn int, memories []generate.MemoryNote, facts []generate.FactNote) (Outcome, error) {
	var out Outcome

	for _, note := range memories {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if strings.TrimSpace(note.Content) == "" || note.CharacterID == "" {
			out.Skipped++
			continue
		}

		action, err := c.consolidateOne(ctx, userID, note)
		if err != nil {
			c.log.Warn("memory consolidation failed for candidate",
				"user_id", userID,
				"character_id", note.CharacterID,
				"error", err,
			)
			out.Skipped++
			continue
		}
		switch action {
		case actionSaved:
			out.Saved++
		case actionReinforced:
			out.Reinforced++
		default:
			out.Skipped++
		}
	}

	for _, f := range facts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if strings.TrimSpace(f.Content) == "" || f.CharacterID == "" {
			continue
		}
		fact := &narrative.KnownFact{
			ID:          uuid.NewString(),
			UserID:      userID,
			CharacterID: f.CharacterID,
			Content:     f.Content,
			SourceTurn:  turn,
			CreatedAt:   time.Now().UTC(),
		}
		if err := c.index.AddFact(ctx, fact); err != nil {
			c.log.Warn("fact persistence failed",
				"user_id", userID,
				"character_id", f.CharacterID,
				"error", err,
			)
			continue
		}
		out.Facts++
	}

	return out, nil
}

type action int

const (
	actionSkipped action = iota
	actionSaved
	actionReinforced
)

func (c *Consolidator) consolidateOne(ctx context.Context, userID string, note generate.MemoryNote) (action, error) {
	existing, err := c.index.Search(ctx, c.embed(ctx, note.Content), narrative.MemoryQuery{
		UserID:      userID,
		CharacterID: note.CharacterID,
		Limit:       compareLimit,
	})
	if err != nil {
		return actionSkipped, fmt.Errorf("search existing memories: %w", err)
	}

	bestSim := 0.0
	var bestID string
	for _, r := range existing {
		if sim := Similarity(note.Content, r.Record.Content); sim > bestSim {
			bestSim = sim
			bestID = r.Record.ID
		}
	}

	if bestSim >= reinforceThreshold {
		if err := c.index.Reinforce(ctx, bestID, time.Now().UTC()); err != nil {
			return actionSkipped, fmt.Errorf("reinforce %s: %w", bestID, err)
		}
		return actionReinforced, nil
	}

	if bestSim >= noveltyThreshold {
		// Similar enough to be a near-duplicate but not a confident match of
		// any single record; storing it would bloat the index.
		return actionSkipped, nil
	}

	now := time.Now().UTC()
	rec := &narrative.MemoryRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		CharacterID:    note.CharacterID,
		Content:        note.Content,
		Embedding:      c.embed(ctx, note.Content),
		Strength:       1.0,
		LastReinforced: now,
		CreatedAt:      now,
	}
	if err := c.index.Upsert(ctx, rec); err != nil {
		return actionSkipped, fmt.Errorf("upsert new memory: %w", err)
	}
	return actionSaved, nil
}

// embed returns the embedding for text, or nil when unavailable.
func (c *Consolidator) embed(ctx context.Context, text string) []float32 {
	if c.embedder == nil {
		return nil
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		c.log.Warn("embedding unavailable, storing memory without vector", "error", err)
		return nil
	}
	return vec
}

// Similarity is the lexical similarity of two texts: the Jaccard coefficient
// of their lower-cased token sets. Returns a value in [0, 1].
func Similarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	intersection := 0
	for tok := range ta {
		if tb[tok] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	}) {
		set[tok] = true
	}
	return set
}
