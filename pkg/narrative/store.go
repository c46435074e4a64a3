// Package narrative defines the durable state model of the Reverie roleplay
// engine and the store interfaces the engine is built against.
//
// State is organised in three families:
//
//   - Session state ([SessionStore]): the session row itself, the display
//     transcript, and the raw conversation log.
//   - Scene & relationship state ([SceneStore], [RelationshipStore]): where
//     the narrative is and how each character relates to the user.
//   - Long-term memory ([MemoryIndex]): vector-searchable, decaying
//     per-(user, character) memories plus discrete known facts.
//
// All interfaces are public so that external packages can supply alternative
// storage backends (Postgres/pgvector, in-memory, …) without depending on
// reverie internals.
//
// Every implementation must be safe for concurrent use. Writes are scoped by
// (session, character) or (user, character) keys; implementations need no
// cross-key locking, and concurrent turns on different sessions are fully
// independent.
package narrative

import (
	"context"
	"time"
)

// MemoryQuery narrows a [MemoryIndex.Search] call. UserID and CharacterID are
// required; the remaining fields are optional refinements.
type MemoryQuery struct {
	// UserID scopes the search to one user's memories.
	UserID string

	// CharacterID scopes the search to one character's memories.
	CharacterID string

	// Limit caps the number of results. A value of 0 means the implementation
	// may apply its own default.
	Limit int

	// MinStrength excludes records weaker than this value. Zero disables the
	// bound.
	MinStrength float64
}

// UpdateRelationshipParams carries one compound relationship mutation: axis
// deltas, the derived-level recompute, and an optional emotional history
// append. The whole mutation must be applied atomically — a partial write
// (axes updated but history lost, or vice versa) is never acceptable.
type UpdateRelationshipParams struct {
	// SessionID and CharacterID key the relationship.
	SessionID   string
	CharacterID string

	// SceneID is the scene the triggering turn belongs to, if known.
	SceneID string

	// Deltas are additive per-axis adjustments, clamped to the axis bounds.
	Deltas map[string]float64

	// Emotion, when non-empty, appends an emotional history entry with the
	// given Intensity and Turn.
	Emotion   string
	Intensity float64
	Turn      int

	// Schema recomputes the derived level after the deltas are applied.
	// Must not be nil.
	Schema *AffinitySchema
}

// SessionStore persists sessions, their display transcript, and the raw
// conversation log.
//
// Lookup methods return (nil, nil) when the requested row does not exist;
// callers map that to their own not-found error.
type SessionStore interface {
	// CreateSession inserts a new session. The session's ID must be set.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession retrieves a session by ID. Returns (nil, nil) when absent.
	GetSession(ctx context.Context, id string) (*Session, error)

	// UpdateSession replaces the mutable fields of an existing session
	// (location, time, turn counter, intimacy, present characters, recent
	// events, summary, memory cache payload).
	UpdateSession(ctx context.Context, s *Session) error

	// AppendMessage appends a display-transcript message.
	AppendMessage(ctx context.Context, m *Message) error

	// RecentMessages returns the most recent limit messages for the session in
	// chronological order. Returns an empty (non-nil) slice when none exist.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// AppendLog appends a raw conversation log line.
	AppendLog(ctx context.Context, e *LogEntry) error

	// RecentLog returns the most recent limit log lines for the session in
	// chronological order. Returns an empty (non-nil) slice when none exist.
	RecentLog(ctx context.Context, sessionID string, limit int) ([]LogEntry, error)
}

// SceneStore persists scenes and enforces the single-active-scene invariant.
type SceneStore interface {
	// StartScene closes any currently active scene for the session and opens a
	// new one in a single atomic operation, returning the opened scene.
	StartScene(ctx context.Context, sessionID, location, timeLabel string, participants []string) (*Scene, error)

	// ActiveScene returns the session's active scene, or (nil, nil) when no
	// scene is active.
	ActiveScene(ctx context.Context, sessionID string) (*Scene, error)

	// MergeTopics merges topics into the scene's topic set (union, not
	// replace). Merging into a closed or unknown scene is not an error.
	MergeTopics(ctx context.Context, sceneID string, topics []string) error
}

// RelationshipStore persists per-(session, character) relationship state.
type RelationshipStore interface {
	// GetOrCreate returns the existing relationship or initialises a new one
	// with the schema's default axis values and initial level.
	GetOrCreate(ctx context.Context, sessionID, characterID, characterName string, schema *AffinitySchema) (*Relationship, error)

	// Update applies params atomically: clamp-add the axis deltas, recompute
	// the derived level under params.Schema, and append the emotional history
	// entry when an emotion tag is supplied (dropping the oldest entry beyond
	// [EmotionHistoryLimit]). Returns the updated relationship.
	Update(ctx context.Context, params UpdateRelationshipParams) (*Relationship, error)

	// List returns all relationships of a session. Returns an empty (non-nil)
	// slice when none exist.
	List(ctx context.Context, sessionID string) ([]Relationship, error)
}

// MemoryIndex is the long-term memory store: vector-searchable decaying
// memory records plus the discrete known facts they consolidate into.
//
// Strength handling is part of the contract: strength only moves toward zero
// through [MemoryIndex.Decay] and only moves toward one through
// [MemoryIndex.Reinforce]; both operations are idempotent enough that
// re-running a maintenance pass is harmless.
type MemoryIndex interface {
	// Upsert stores a memory record. An existing record with the same ID is
	// replaced.
	Upsert(ctx context.Context, rec *MemoryRecord) error

	// Search returns the records closest to embedding under q, ordered by
	// ascending distance. When embedding is empty the most recently reinforced
	// records are returned instead. Returns an empty (non-nil) slice when
	// nothing matches.
	Search(ctx context.Context, embedding []float32, q MemoryQuery) ([]MemoryResult, error)

	// Reinforce moves the record's strength halfway toward full and resets its
	// last-reinforced timestamp. Reinforcing an unknown ID is not an error.
	Reinforce(ctx context.Context, id string, at time.Time) error

	// Decay multiplies the strength of every record owned by (userID, one of
	// characterIDs) by factor (0 < factor < 1). Returns the number of records
	// touched.
	Decay(ctx context.Context, userID string, characterIDs []string, factor float64) (int64, error)

	// PruneWeak hard-deletes records below minStrength for the given
	// characters. Returns the number of records deleted.
	PruneWeak(ctx context.Context, userID string, characterIDs []string, minStrength float64) (int64, error)

	// TrimToStrongest keeps only the maxCount strongest (ties broken by most
	// recently reinforced) records for one character and deletes the rest.
	// Returns the number of records deleted.
	TrimToStrongest(ctx context.Context, userID, characterID string, maxCount int) (int64, error)

	// AddFact persists a known fact.
	AddFact(ctx context.Context, f *KnownFact) error

	// Facts returns all known facts for (userID, characterID). Returns an
	// empty (non-nil) slice when none exist.
	Facts(ctx context.Context, userID, characterID string) ([]KnownFact, error)
}

// ArtifactStore is the interface to the cached-image artifact table. Image
// generation itself is an external collaborator; this engine only runs the
// expired-artifact sweep on the pruning cadence.
type ArtifactStore interface {
	// SweepExpired deletes artifacts whose expiry is before now and returns
	// the number deleted.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}
