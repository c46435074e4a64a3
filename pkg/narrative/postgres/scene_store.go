package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// SceneStoreImpl persists scenes. A partial unique index on (session_id)
// WHERE closed_at IS NULL backs the single-active-scene invariant at the
// database level; [SceneStoreImpl.StartScene] maintains it transactionally.
//
// Obtain one via [Store.Scenes] rather than constructing directly.
// All methods are safe for concurrent use.
type SceneStoreImpl struct {
	pool *pgxpool.Pool
}

// StartScene implements [narrative.SceneStore]. It closes any active scene of
// the session and opens a new one inside a single transaction, so no
// interleaving can observe two active scenes or none where one should exist.
func (s *SceneStoreImpl) StartScene(ctx context.Context, sessionID, location, timeLabel string, participants []string) (*narrative.Scene, error) {
	parts, err := marshalJSONB("participants", emptyStrings(participants))
	if err != nil {
		return nil, fmt.Errorf("scene store: %w", err)
	}
	topics, err := marshalJSONB("topics", []string{})
	if err != nil {
		return nil, fmt.Errorf("scene store: %w", err)
	}

	scene := &narrative.Scene{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Location:     location,
		TimeLabel:    timeLabel,
		Participants: emptyStrings(participants),
		Topics:       []string{},
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scene store: start scene: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE scenes SET closed_at = now() WHERE session_id = $1 AND closed_at IS NULL`,
		sessionID,
	); err != nil {
		return nil, fmt.Errorf("scene store: start scene: close prior: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO scenes (id, session_id, location, time_label, participants, topics, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		scene.ID, scene.SessionID, scene.Location, scene.TimeLabel, parts, topics, scene.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("scene store: start scene: insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("scene store: start scene: commit: %w", err)
	}
	return scene, nil
}

// ActiveScene implements [narrative.SceneStore]. Returns (nil, nil) when the
// session has no active scene.
func (s *SceneStoreImpl) ActiveScene(ctx context.Context, sessionID string) (*narrative.Scene, error) {
	const q = `
		SELECT id, session_id, location, time_label, participants, topics, closed_at, created_at
		FROM   scenes
		WHERE  session_id = $1
		  AND  closed_at IS NULL`

	var (
		scene    narrative.Scene
		parts    []byte
		topics   []byte
		closedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&scene.ID,
		&scene.SessionID,
		&scene.Location,
		&scene.TimeLabel,
		&parts,
		&topics,
		&closedAt,
		&scene.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scene store: active scene: %w", err)
	}

	scene.Participants = []string{}
	scene.Topics = []string{}
	if err := unmarshalJSONB("participants", parts, &scene.Participants); err != nil {
		return nil, fmt.Errorf("scene store: %w", err)
	}
	if err := unmarshalJSONB("topics", topics, &scene.Topics); err != nil {
		return nil, fmt.Errorf("scene store: %w", err)
	}
	if closedAt != nil {
		scene.ClosedAt = *closedAt
	}
	return &scene, nil
}

// MergeTopics implements [narrative.SceneStore]. It unions topics into the
// scene's topic set, preserving first-seen order. Merging into a closed or
// unknown scene is a no-op, not an error.
func (s *SceneStoreImpl) MergeTopics(ctx context.Context, sceneID string, topics []string) error {
	if len(topics) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scene store: merge topics: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing []byte
	err = tx.QueryRow(ctx,
		`SELECT topics FROM scenes WHERE id = $1 FOR UPDATE`,
		sceneID,
	).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scene store: merge topics: select: %w", err)
	}

	current := []string{}
	if err := unmarshalJSONB("topics", existing, &current); err != nil {
		return fmt.Errorf("scene store: %w", err)
	}

	seen := make(map[string]bool, len(current))
	for _, t := range current {
		seen[t] = true
	}
	for _, t := range topics {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		current = append(current, t)
	}

	merged, err := marshalJSONB("topics", current)
	if err != nil {
		return fmt.Errorf("scene store: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE scenes SET topics = $2 WHERE id = $1`,
		sceneID, merged,
	); err != nil {
		return fmt.Errorf("scene store: merge topics: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("scene store: merge topics: commit: %w", err)
	}
	return nil
}
