// Package recall retrieves and consolidates long-term memories.
//
// [Searcher] answers "what does each present character remember that is
// relevant right now" under a hard per-character time budget; [Consolidator]
// decides after each turn which candidate memories are novel enough to keep;
// [Guard] makes the memory index non-fatal so a degraded database never kills
// a turn.
package recall

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reveriehq/reverie/pkg/narrative"
	"github.com/reveriehq/reverie/pkg/provider/embeddings"
)

const (
	// defaultSearchTimeout bounds one character's memory retrieval.
	defaultSearchTimeout = 2 * time.Second

	// defaultSearchLimit is the per-character number of memories retrieved.
	defaultSearchLimit = 10
)

// Searcher retrieves relevant memories for every present character in
// parallel. Retrieval is best-effort: a character whose lookup fails or runs
// past the time budget contributes an empty slice instead of an error, so a
// slow memory backend degrades context quality rather than turn latency.
type Searcher struct {
	index    narrative.MemoryIndex
	embedder embeddings.Provider
	log      *slog.Logger
	timeout  time.Duration
	limit    int
}

// SearcherConfig configures a [Searcher].
type SearcherConfig struct {
	// Index is the long-term memory index to search.
	Index narrative.MemoryIndex

	// Embedder produces the query embedding. When nil, or when embedding
	// fails, retrieval falls back to the index's recency ordering.
	Embedder embeddings.Provider

	// Logger receives degradation warnings. Defaults to [slog.Default].
	Logger *slog.Logger

	// Timeout bounds each character's retrieval. Defaults to 2 seconds.
	Timeout time.Duration

	// Limit caps memories per character. Defaults to 10.
	Limit int
}

// NewSearcher creates a [Searcher] with the given configuration.
func NewSearcher(cfg SearcherConfig) *Searcher {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return &Searcher{
		index:    cfg.Index,
		embedder: cfg.Embedder,
		log:      log,
		timeout:  timeout,
		limit:    limit,
	}
}

// Recall returns the memories most relevant to queryText for each character,
// keyed by character ID. Every requested character has an entry; characters
// whose retrieval failed or timed out map to an empty (non-nil) slice.
func (s *Searcher) Recall(ctx context.Context, userID string, characterIDs []string, queryText string) map[string][]narrative.MemoryRecord {
	out := make(map[string][]narrative.MemoryRecord, len(characterIDs))
	if len(characterIDs) == 0 {
		return out
	}

	embedding := s.embedQuery(ctx, queryText)

	results := make([][]narrative.MemoryRecord, len(characterIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, characterID := range characterIDs {
		eg.Go(func() error {
			results[i] = s.recallOne(egCtx, userID, characterID, embedding)
			return nil
		})
	}
	// The per-character goroutines never return errors; Wait only orders the
	// writes to results.
	_ = eg.Wait()

	for i, characterID := range characterIDs {
		out[characterID] = results[i]
	}
	return out
}

// recallOne fetches one character's memories under the search timeout.
func (s *Searcher) recallOne(ctx context.Context, userID, characterID string, embedding []float32) []narrative.MemoryRecord {
	searchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	found, err := s.index.Search(searchCtx, embedding, narrative.MemoryQuery{
		UserID:      userID,
		CharacterID: characterID,
		Limit:       s.limit,
	})
	if err != nil {
		s.log.Warn("memory recall failed, continuing without memories",
			"user_id", userID,
			"character_id", characterID,
			"error", err,
		)
		return []narrative.MemoryRecord{}
	}

	records := make([]narrative.MemoryRecord, 0, len(found))
	for _, r := range found {
		records = append(records, r.Record)
	}
	return records
}

// embedQuery computes the query embedding, returning nil (recency fallback)
// when no embedder is configured or embedding fails.
func (s *Searcher) embedQuery(ctx context.Context, queryText string) []float32 {
	if s.embedder == nil || queryText == "" {
		return nil
	}
	embedCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.embedder.Embed(embedCtx, queryText)
	if err != nil {
		s.log.Warn("query embedding failed, falling back to recency retrieval", "error", err)
		return nil
	}
	return vec
}
