package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// defaultSearchLimit caps a [narrative.MemoryIndex.Search] call when the query
// does not specify its own limit.
const defaultSearchLimit = 10

// MemoryIndexImpl is the long-term memory index backed by a PostgreSQL
// memory_records table with a pgvector HNSW index for fast approximate
// nearest-neighbour search, plus the known_facts table.
//
// Obtain one via [Store.Memories] rather than constructing directly.
// All methods are safe for concurrent use.
type MemoryIndexImpl struct {
	pool *pgxpool.Pool
}

// Upsert implements [narrative.MemoryIndex]. A record with no embedding is
// stored with a NULL vector; it is reachable through the recency fallback but
// not through vector search.
func (m *MemoryIndexImpl) Upsert(ctx context.Context, rec *narrative.MemoryRecord) error {
	const q = `
		INSERT INTO memory_records
		    (id, user_id, character_id, content, embedding, strength, last_reinforced, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    content         = EXCLUDED.content,
		    embedding       = EXCLUDED.embedding,
		    strength        = EXCLUDED.strength,
		    last_reinforced = EXCLUDED.last_reinforced`

	var vec any
	if len(rec.Embedding) > 0 {
		vec = pgvector.NewVector(rec.Embedding)
	}

	_, err := m.pool.Exec(ctx, q,
		rec.ID,
		rec.UserID,
		rec.CharacterID,
		rec.Content,
		vec,
		rec.Strength,
		rec.LastReinforced,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory index: upsert: %w", err)
	}
	return nil
}

// Search implements [narrative.MemoryIndex]. With an embedding it returns the
// closest records by cosine distance; without one it falls back to the most
// recently reinforced records so that a degraded embedding provider still
// yields usable context.
func (m *MemoryIndexImpl) Search(ctx context.Context, embedding []float32, q narrative.MemoryQuery) ([]narrative.MemoryResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	if len(embedding) == 0 {
		return m.searchByRecency(ctx, q, limit)
	}

	args := []any{pgvector.NewVector(embedding)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"embedding IS NOT NULL",
		"user_id = " + next(q.UserID),
		"character_id = " + next(q.CharacterID),
	}
	if q.MinStrength > 0 {
		conditions = append(conditions, "strength >= "+next(q.MinStrength))
	}

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	sql := fmt.Sprintf(`
		SELECT id, user_id, character_id, content, embedding, strength,
		       last_reinforced, created_at,
		       embedding <=> $1 AS distance
		FROM   memory_records
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("memory index: search: %w", err)
	}
	return collectResults(rows, true)
}

// searchByRecency is the no-embedding fallback: most recently reinforced
// records first, Distance zeroed.
func (m *MemoryIndexImpl) searchByRecency(ctx context.Context, q narrative.MemoryQuery, limit int) ([]narrative.MemoryResult, error) {
	args := []any{q.UserID, q.CharacterID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"user_id = $1", "character_id = $2"}
	if q.MinStrength > 0 {
		conditions = append(conditions, "strength >= "+next(q.MinStrength))
	}

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	sql := fmt.Sprintf(`
		SELECT id, user_id, character_id, content, embedding, strength,
		       last_reinforced, created_at
		FROM   memory_records
		WHERE  %s
		ORDER  BY last_reinforced DESC
		LIMIT  %s`, strings.Join(conditions, "\n  AND  "), limitArg)

	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("memory index: recency search: %w", err)
	}
	return collectResults(rows, false)
}

// Reinforce implements [narrative.MemoryIndex]. Strength moves halfway from
// its current value toward 1, so repeated reinforcement converges without
// ever overshooting.
func (m *MemoryIndexImpl) Reinforce(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE memory_records SET
		    strength        = LEAST(1, strength + (1 - strength) / 2),
		    last_reinforced = $2
		WHERE id = $1`

	if _, err := m.pool.Exec(ctx, q, id, at); err != nil {
		return fmt.Errorf("memory index: reinforce: %w", err)
	}
	return nil
}

// Decay implements [narrative.MemoryIndex].
func (m *MemoryIndexImpl) Decay(ctx context.Context, userID string, characterIDs []string, factor float64) (int64, error) {
	if len(characterIDs) == 0 {
		return 0, nil
	}
	if factor <= 0 || factor >= 1 {
		return 0, fmt.Errorf("memory index: decay: factor %v must be in (0, 1)", factor)
	}

	const q = `
		UPDATE memory_records SET strength = strength * $3
		WHERE  user_id = $1 AND character_id = ANY($2)`

	tag, err := m.pool.Exec(ctx, q, userID, characterIDs, factor)
	if err != nil {
		return 0, fmt.Errorf("memory index: decay: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PruneWeak implements [narrative.MemoryIndex].
func (m *MemoryIndexImpl) PruneWeak(ctx context.Context, userID string, characterIDs []string, minStrength float64) (int64, error) {
	if len(characterIDs) == 0 {
		return 0, nil
	}

	const q = `
		DELETE FROM memory_records
		WHERE  user_id = $1 AND character_id = ANY($2) AND strength < $3`

	tag, err := m.pool.Exec(ctx, q, userID, characterIDs, minStrength)
	if err != nil {
		return 0, fmt.Errorf("memory index: prune weak: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TrimToStrongest implements [narrative.MemoryIndex]. The keep set is the
// maxCount strongest records, ties broken by most recent reinforcement;
// everything outside it is deleted.
func (m *MemoryIndexImpl) TrimToStrongest(ctx context.Context, userID, characterID string, maxCount int) (int64, error) {
	if maxCount <= 0 {
		return 0, fmt.Errorf("memory index: trim: maxCount %d must be positive", maxCount)
	}

	const q = `
		DELETE FROM memory_records
		WHERE  user_id = $1 AND character_id = $2
		  AND  id NOT IN (
		    SELECT id
		    FROM   memory_records
		    WHERE  user_id = $1 AND character_id = $2
		    ORDER  BY strength DESC, last_reinforced DESC
		    LIMIT  $3
		)`

	tag, err := m.pool.Exec(ctx, q, userID, characterID, maxCount)
	if err != nil {
		return 0, fmt.Errorf("memory index: trim: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AddFact implements [narrative.MemoryIndex].
func (m *MemoryIndexImpl) AddFact(ctx context.Context, f *narrative.KnownFact) error {
	const q = `
		INSERT INTO known_facts (id, user_id, character_id, content, source_turn, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := m.pool.Exec(ctx, q,
		f.ID,
		f.UserID,
		f.CharacterID,
		f.Content,
		f.SourceTurn,
		f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("memory index: add fact: %w", err)
	}
	return nil
}

// Facts implements [narrative.MemoryIndex].
func (m *MemoryIndexImpl) Facts(ctx context.Context, userID, characterID string) ([]narrative.KnownFact, error) {
	const q = `
		SELECT id, user_id, character_id, content, source_turn, created_at
		FROM   known_facts
		WHERE  user_id = $1 AND character_id = $2
		ORDER  BY created_at`

	rows, err := m.pool.Query(ctx, q, userID, characterID)
	if err != nil {
		return nil, fmt.Errorf("memory index: facts: %w", err)
	}

	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (narrative.KnownFact, error) {
		var f narrative.KnownFact
		err := row.Scan(&f.ID, &f.UserID, &f.CharacterID, &f.Content, &f.SourceTurn, &f.CreatedAt)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("memory index: scan facts: %w", err)
	}
	if facts == nil {
		facts = []narrative.KnownFact{}
	}
	return facts, nil
}

// collectResults scans memory rows into results. withDistance indicates the
// query selected a trailing distance column.
func collectResults(rows pgx.Rows, withDistance bool) ([]narrative.MemoryResult, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (narrative.MemoryResult, error) {
		var (
			res narrative.MemoryResult
			vec *pgvector.Vector
		)
		dest := []any{
			&res.Record.ID,
			&res.Record.UserID,
			&res.Record.CharacterID,
			&res.Record.Content,
			&vec,
			&res.Record.Strength,
			&res.Record.LastReinforced,
			&res.Record.CreatedAt,
		}
		if withDistance {
			dest = append(dest, &res.Distance)
		}
		if err := row.Scan(dest...); err != nil {
			return narrative.MemoryResult{}, err
		}
		if vec != nil {
			res.Record.Embedding = vec.Slice()
		}
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory index: scan rows: %w", err)
	}
	if results == nil {
		results = []narrative.MemoryResult{}
	}
	return results, nil
}
