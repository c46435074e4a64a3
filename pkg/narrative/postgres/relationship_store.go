package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// RelationshipStoreImpl persists per-(session, character) relationship state.
//
// Obtain one via [Store.Relationships] rather than constructing directly.
// All methods are safe for concurrent use.
type RelationshipStoreImpl struct {
	pool *pgxpool.Pool
}

// GetOrCreate implements [narrative.RelationshipStore]. A missing relationship
// is initialised with the schema's default axis values and initial level. The
// insert races benignly with concurrent callers: ON CONFLICT DO NOTHING
// followed by a re-read makes the winner's row visible to everyone.
func (r *RelationshipStoreImpl) GetOrCreate(ctx context.Context, sessionID, characterID, characterName string, schema *narrative.AffinitySchema) (*narrative.Relationship, error) {
	rel, err := r.get(ctx, r.pool, sessionID, characterID)
	if err != nil {
		return nil, err
	}
	if rel != nil {
		return rel, nil
	}

	axes := schema.DefaultAxes()
	fresh := &narrative.Relationship{
		SessionID:     sessionID,
		CharacterID:   characterID,
		CharacterName: characterName,
		Axes:          axes,
		Level:         schema.DeriveLevel(axes).Name,
		History:       []narrative.EmotionEvent{},
		UpdatedAt:     time.Now().UTC(),
	}

	axesJSON, err := marshalJSONB("axes", fresh.Axes)
	if err != nil {
		return nil, fmt.Errorf("relationship store: %w", err)
	}
	historyJSON, err := marshalJSONB("history", fresh.History)
	if err != nil {
		return nil, fmt.Errorf("relationship store: %w", err)
	}

	const q = `
		INSERT INTO relationships
		    (session_id, character_id, character_name, axes, level, history, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, character_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, q,
		fresh.SessionID,
		fresh.CharacterID,
		fresh.CharacterName,
		axesJSON,
		fresh.Level,
		historyJSON,
		fresh.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("relationship store: create: %w", err)
	}

	rel, err = r.get(ctx, r.pool, sessionID, characterID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, fmt.Errorf("relationship store: create: relationship (%s, %s) vanished after insert", sessionID, characterID)
	}
	return rel, nil
}

// Update implements [narrative.RelationshipStore]. The compound mutation —
// clamp-add deltas, recompute the derived level, append the emotional history
// entry — runs inside one transaction with the row locked, so a crash or a
// concurrent writer can never leave axes and history out of step.
func (r *RelationshipStoreImpl) Update(ctx context.Context, params narrative.UpdateRelationshipParams) (*narrative.Relationship, error) {
	if params.Schema == nil {
		return nil, errors.New("relationship store: update: schema is required")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("relationship store: update: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rel, err := r.getForUpdate(ctx, tx, params.SessionID, params.CharacterID)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, fmt.Errorf("relationship store: update: relationship (%s, %s) not found", params.SessionID, params.CharacterID)
	}

	rel.Axes = narrative.ApplyDeltas(rel.Axes, params.Deltas)
	rel.Level = params.Schema.DeriveLevel(rel.Axes).Name
	if params.Emotion != "" {
		rel.History = append(rel.History, narrative.EmotionEvent{
			Emotion:   params.Emotion,
			Intensity: params.Intensity,
			Turn:      params.Turn,
			At:        time.Now().UTC(),
		})
		if n := len(rel.History) - narrative.EmotionHistoryLimit; n > 0 {
			rel.History = rel.History[n:]
		}
	}
	rel.UpdatedAt = time.Now().UTC()

	axesJSON, err := marshalJSONB("axes", rel.Axes)
	if err != nil {
		return nil, fmt.Errorf("relationship store: %w", err)
	}
	historyJSON, err := marshalJSONB("history", rel.History)
	if err != nil {
		return nil, fmt.Errorf("relationship store: %w", err)
	}

	const q = `
		UPDATE relationships SET
		    axes       = $3,
		    level      = $4,
		    history    = $5,
		    updated_at = $6
		WHERE session_id = $1 AND character_id = $2`

	if _, err := tx.Exec(ctx, q,
		rel.SessionID,
		rel.CharacterID,
		axesJSON,
		rel.Level,
		historyJSON,
		rel.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("relationship store: update: write: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("relationship store: update: commit: %w", err)
	}
	return rel, nil
}

// List implements [narrative.RelationshipStore].
func (r *RelationshipStoreImpl) List(ctx context.Context, sessionID string) ([]narrative.Relationship, error) {
	const q = `
		SELECT session_id, character_id, character_name, axes, level, history, updated_at
		FROM   relationships
		WHERE  session_id = $1
		ORDER  BY character_id`

	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("relationship store: list: %w", err)
	}

	rels, err := pgx.CollectRows(rows, scanRelationship)
	if err != nil {
		return nil, fmt.Errorf("relationship store: scan rows: %w", err)
	}
	if rels == nil {
		rels = []narrative.Relationship{}
	}
	return rels, nil
}

// querier is the subset of pgx query methods shared by pools and transactions.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *RelationshipStoreImpl) get(ctx context.Context, q querier, sessionID, characterID string) (*narrative.Relationship, error) {
	return r.queryOne(ctx, q, sessionID, characterID, false)
}

func (r *RelationshipStoreImpl) getForUpdate(ctx context.Context, q querier, sessionID, characterID string) (*narrative.Relationship, error) {
	return r.queryOne(ctx, q, sessionID, characterID, true)
}

func (r *RelationshipStoreImpl) queryOne(ctx context.Context, q querier, sessionID, characterID string, forUpdate bool) (*narrative.Relationship, error) {
	query := `
		SELECT session_id, character_id, character_name, axes, level, history, updated_at
		FROM   relationships
		WHERE  session_id = $1 AND character_id = $2`
	if forUpdate {
		query += "\n\t\tFOR UPDATE"
	}

	var (
		rel     narrative.Relationship
		axes    []byte
		history []byte
	)
	err := q.QueryRow(ctx, query, sessionID, characterID).Scan(
		&rel.SessionID,
		&rel.CharacterID,
		&rel.CharacterName,
		&axes,
		&rel.Level,
		&history,
		&rel.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relationship store: get: %w", err)
	}

	rel.Axes = map[string]float64{}
	rel.History = []narrative.EmotionEvent{}
	if err := unmarshalJSONB("axes", axes, &rel.Axes); err != nil {
		return nil, fmt.Errorf("relationship store: %w", err)
	}
	if err := unmarshalJSONB("history", history, &rel.History); err != nil {
		return nil, fmt.Errorf("relationship store: %w", err)
	}
	return &rel, nil
}

func scanRelationship(row pgx.CollectableRow) (narrative.Relationship, error) {
	var (
		rel     narrative.Relationship
		axes    []byte
		history []byte
	)
	if err := row.Scan(
		&rel.SessionID,
		&rel.CharacterID,
		&rel.CharacterName,
		&axes,
		&rel.Level,
		&history,
		&rel.UpdatedAt,
	); err != nil {
		return narrative.Relationship{}, err
	}
	rel.Axes = map[string]float64{}
	rel.History = []narrative.EmotionEvent{}
	if err := unmarshalJSONB("axes", axes, &rel.Axes); err != nil {
		return narrative.Relationship{}, err
	}
	if err := unmarshalJSONB("history", history, &rel.History); err != nil {
		return narrative.Relationship{}, err
	}
	return rel, nil
}
