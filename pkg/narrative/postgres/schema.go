// Package postgres provides the PostgreSQL-backed implementation of the
// Reverie narrative state model: sessions with their transcript and raw log,
// scenes, relationships, and the pgvector-indexed long-term memory.
//
// All stores share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Sessions().CreateSession(ctx, session)
//	results, _ := store.Memories().Search(ctx, embedding, query)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Session DDL — sessions, display transcript, raw conversation log
// ─────────────────────────────────────────────────────────────────────────────

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id                 TEXT         PRIMARY KEY,
    work_id            TEXT         NOT NULL,
    user_id            TEXT         NOT NULL,
    persona_id         TEXT         NOT NULL DEFAULT '',
    location           TEXT         NOT NULL DEFAULT '',
    time_of_day        TEXT         NOT NULL DEFAULT '',
    turn_count         INTEGER      NOT NULL DEFAULT 0,
    intimacy           DOUBLE PRECISION NOT NULL DEFAULT 0,
    present_characters JSONB        NOT NULL DEFAULT '[]',
    recent_events      JSONB        NOT NULL DEFAULT '[]',
    summary            TEXT         NOT NULL DEFAULT '',
    memory_cache       JSONB,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id
    ON sessions (user_id);

CREATE TABLE IF NOT EXISTS messages (
    id           TEXT         PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    speaker_type TEXT         NOT NULL,
    speaker_id   TEXT         NOT NULL DEFAULT '',
    speaker_name TEXT         NOT NULL DEFAULT '',
    content      TEXT         NOT NULL,
    emotion      TEXT         NOT NULL DEFAULT '',
    scene_id     TEXT         NOT NULL DEFAULT '',
    turn         INTEGER      NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_created
    ON messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS conversation_log (
    id           TEXT         PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    scene_id     TEXT         NOT NULL DEFAULT '',
    speaker_type TEXT         NOT NULL,
    speaker_name TEXT         NOT NULL DEFAULT '',
    content      TEXT         NOT NULL,
    emotion      TEXT         NOT NULL DEFAULT '',
    turn         INTEGER      NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_log_session_created
    ON conversation_log (session_id, created_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// Scene & relationship DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlScenes = `
CREATE TABLE IF NOT EXISTS scenes (
    id           TEXT         PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    location     TEXT         NOT NULL DEFAULT '',
    time_label   TEXT         NOT NULL DEFAULT '',
    participants JSONB        NOT NULL DEFAULT '[]',
    topics       JSONB        NOT NULL DEFAULT '[]',
    closed_at    TIMESTAMPTZ,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scenes_session_id
    ON scenes (session_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_scenes_one_active
    ON scenes (session_id) WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS relationships (
    session_id     TEXT         NOT NULL,
    character_id   TEXT         NOT NULL,
    character_name TEXT         NOT NULL DEFAULT '',
    axes           JSONB        NOT NULL DEFAULT '{}',
    level          TEXT         NOT NULL DEFAULT '',
    history        JSONB        NOT NULL DEFAULT '[]',
    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, character_id)
);
`

// ─────────────────────────────────────────────────────────────────────────────
// Known facts & image artifact DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlFactsAndArtifacts = `
CREATE TABLE IF NOT EXISTS known_facts (
    id           TEXT         PRIMARY KEY,
    user_id      TEXT         NOT NULL,
    character_id TEXT         NOT NULL,
    content      TEXT         NOT NULL,
    source_turn  INTEGER      NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_known_facts_owner
    ON known_facts (user_id, character_id);

CREATE TABLE IF NOT EXISTS image_artifacts (
    id           TEXT         PRIMARY KEY,
    session_id   TEXT         NOT NULL DEFAULT '',
    url          TEXT         NOT NULL DEFAULT '',
    expires_at   TIMESTAMPTZ  NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_image_artifacts_expires_at
    ON image_artifacts (expires_at);
`

// ddlMemoryRecords returns the long-term memory DDL with the embedding
// dimension substituted. The vector dimension is baked into the column type at
// schema creation time.
func ddlMemoryRecords(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_records (
    id              TEXT         PRIMARY KEY,
    user_id         TEXT         NOT NULL,
    character_id    TEXT         NOT NULL,
    content         TEXT         NOT NULL,
    embedding       vector(%d),
    strength        DOUBLE PRECISION NOT NULL DEFAULT 1,
    last_reinforced TIMESTAMPTZ  NOT NULL DEFAULT now(),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_records_owner
    ON memory_records (user_id, character_id);

CREATE INDEX IF NOT EXISTS idx_memory_records_strength
    ON memory_records (strength);

CREATE INDEX IF NOT EXISTS idx_memory_records_embedding
    ON memory_records USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlScenes,
		ddlMemoryRecords(embeddingDimensions),
		ddlFactsAndArtifacts,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
