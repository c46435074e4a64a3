package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// SessionStoreImpl persists sessions, the display transcript, and the raw
// conversation log.
//
// Obtain one via [Store.Sessions] rather than constructing directly.
// All methods are safe for concurrent use.
type SessionStoreImpl struct {
	pool *pgxpool.Pool
}

// CreateSession implements [narrative.SessionStore].
func (s *SessionStoreImpl) CreateSession(ctx context.Context, sess *narrative.Session) error {
	present, err := marshalJSONB("present characters", emptyStrings(sess.PresentCharacters))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	events, err := marshalJSONB("recent events", emptyStrings(sess.RecentEvents))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	cache, err := marshalCache(sess.MemoryCache)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	const q = `
		INSERT INTO sessions
		    (id, work_id, user_id, persona_id, location, time_of_day, turn_count,
		     intimacy, present_characters, recent_events, summary, memory_cache,
		     created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.pool.Exec(ctx, q,
		sess.ID,
		sess.WorkID,
		sess.UserID,
		sess.PersonaID,
		sess.Location,
		sess.TimeOfDay,
		sess.TurnCount,
		sess.Intimacy,
		present,
		events,
		sess.Summary,
		cache,
		sess.CreatedAt,
		sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("session store: create session: %w", err)
	}
	return nil
}

// GetSession implements [narrative.SessionStore]. Returns (nil, nil) when the
// session does not exist.
func (s *SessionStoreImpl) GetSession(ctx context.Context, id string) (*narrative.Session, error) {
	const q = `
		SELECT id, work_id, user_id, persona_id, location, time_of_day, turn_count,
		       intimacy, present_characters, recent_events, summary, memory_cache,
		       created_at, updated_at
		FROM   sessions
		WHERE  id = $1`

	var (
		sess    narrative.Session
		present []byte
		events  []byte
		cache   []byte
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID,
		&sess.WorkID,
		&sess.UserID,
		&sess.PersonaID,
		&sess.Location,
		&sess.TimeOfDay,
		&sess.TurnCount,
		&sess.Intimacy,
		&present,
		&events,
		&sess.Summary,
		&cache,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: get session: %w", err)
	}

	sess.PresentCharacters = []string{}
	sess.RecentEvents = []string{}
	if err := unmarshalJSONB("present characters", present, &sess.PresentCharacters); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	if err := unmarshalJSONB("recent events", events, &sess.RecentEvents); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	if len(cache) > 0 {
		sess.MemoryCache = &narrative.MemoryCachePayload{}
		if err := unmarshalJSONB("memory cache", cache, sess.MemoryCache); err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
	}
	return &sess, nil
}

// UpdateSession implements [narrative.SessionStore]. It replaces the mutable
// session fields and refreshes updated_at.
func (s *SessionStoreImpl) UpdateSession(ctx context.Context, sess *narrative.Session) error {
	present, err := marshalJSONB("present characters", emptyStrings(sess.PresentCharacters))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	events, err := marshalJSONB("recent events", emptyStrings(sess.RecentEvents))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	cache, err := marshalCache(sess.MemoryCache)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	const q = `
		UPDATE sessions SET
		    location           = $2,
		    time_of_day        = $3,
		    turn_count         = $4,
		    intimacy           = $5,
		    present_characters = $6,
		    recent_events      = $7,
		    summary            = $8,
		    memory_cache       = $9,
		    updated_at         = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		sess.ID,
		sess.Location,
		sess.TimeOfDay,
		sess.TurnCount,
		sess.Intimacy,
		present,
		events,
		sess.Summary,
		cache,
	)
	if err != nil {
		return fmt.Errorf("session store: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session store: update session: session %q not found", sess.ID)
	}
	return nil
}

// AppendMessage implements [narrative.SessionStore].
func (s *SessionStoreImpl) AppendMessage(ctx context.Context, m *narrative.Message) error {
	const q = `
		INSERT INTO messages
		    (id, session_id, speaker_type, speaker_id, speaker_name, content,
		     emotion, scene_id, turn, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		m.ID,
		m.SessionID,
		string(m.SpeakerType),
		m.SpeakerID,
		m.SpeakerName,
		m.Content,
		m.Emotion,
		m.SceneID,
		m.Turn,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("session store: append message: %w", err)
	}
	return nil
}

// RecentMessages implements [narrative.SessionStore]. It returns the most
// recent limit messages in chronological order (oldest first).
func (s *SessionStoreImpl) RecentMessages(ctx context.Context, sessionID string, limit int) ([]narrative.Message, error) {
	const q = `
		SELECT id, session_id, speaker_type, speaker_id, speaker_name, content,
		       emotion, scene_id, turn, created_at
		FROM (
		    SELECT *
		    FROM   messages
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) recent
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session store: recent messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (narrative.Message, error) {
		var (
			m           narrative.Message
			speakerType string
		)
		if err := row.Scan(
			&m.ID,
			&m.SessionID,
			&speakerType,
			&m.SpeakerID,
			&m.SpeakerName,
			&m.Content,
			&m.Emotion,
			&m.SceneID,
			&m.Turn,
			&m.CreatedAt,
		); err != nil {
			return narrative.Message{}, err
		}
		m.SpeakerType = narrative.SpeakerType(speakerType)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []narrative.Message{}
	}
	return msgs, nil
}

// AppendLog implements [narrative.SessionStore].
func (s *SessionStoreImpl) AppendLog(ctx context.Context, e *narrative.LogEntry) error {
	const q = `
		INSERT INTO conversation_log
		    (id, session_id, scene_id, speaker_type, speaker_name, content,
		     emotion, turn, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		e.ID,
		e.SessionID,
		e.SceneID,
		string(e.SpeakerType),
		e.SpeakerName,
		e.Content,
		e.Emotion,
		e.Turn,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("session store: append log: %w", err)
	}
	return nil
}

// RecentLog implements [narrative.SessionStore]. It returns the most recent
// limit log lines in chronological order (oldest first).
func (s *SessionStoreImpl) RecentLog(ctx context.Context, sessionID string, limit int) ([]narrative.LogEntry, error) {
	const q = `
		SELECT id, session_id, scene_id, speaker_type, speaker_name, content,
		       emotion, turn, created_at
		FROM (
		    SELECT *
		    FROM   conversation_log
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) recent
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session store: recent log: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (narrative.LogEntry, error) {
		var (
			e           narrative.LogEntry
			speakerType string
		)
		if err := row.Scan(
			&e.ID,
			&e.SessionID,
			&e.SceneID,
			&speakerType,
			&e.SpeakerName,
			&e.Content,
			&e.Emotion,
			&e.Turn,
			&e.CreatedAt,
		); err != nil {
			return narrative.LogEntry{}, err
		}
		e.SpeakerType = narrative.SpeakerType(speakerType)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan log: %w", err)
	}
	if entries == nil {
		entries = []narrative.LogEntry{}
	}
	return entries, nil
}

// marshalCache marshals the memory cache payload, preserving NULL for an
// uninitialised cache.
func marshalCache(c *narrative.MemoryCachePayload) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return marshalJSONB("memory cache", c)
}
