package narrative

import "time"

// SpeakerType classifies who produced a message or transcript line.
type SpeakerType string

const (
	// SpeakerUser is the human participant of a session.
	SpeakerUser SpeakerType = "user"

	// SpeakerCharacter is an AI-played character.
	SpeakerCharacter SpeakerType = "character"

	// SpeakerNarrator is scene-setting prose not attributed to any character.
	SpeakerNarrator SpeakerType = "narrator"
)

// RecentEventLimit is the maximum number of recent event summaries kept on a
// session. Older entries are dropped oldest-first.
const RecentEventLimit = 10

// EmotionHistoryLimit is the maximum number of emotional history entries kept
// per relationship. Older entries are dropped oldest-first.
const EmotionHistoryLimit = 20

// Session is one continuous roleplay conversation between a user and the
// characters of a work. It is created once, mutated every turn, and never
// deleted by this engine.
type Session struct {
	// ID is the unique session identifier (a UUID).
	ID string

	// WorkID identifies the authored work this session plays.
	WorkID string

	// UserID identifies the human participant. Long-term memory is scoped by
	// (UserID, character).
	UserID string

	// PersonaID optionally selects a user persona defined by the work.
	PersonaID string

	// Location is the current narrative location as free text.
	Location string

	// TimeOfDay is the current narrative time label (e.g., "evening").
	TimeOfDay string

	// TurnCount is the number of completed user turns. It drives every
	// maintenance cadence (decay, pruning, summary regeneration).
	TurnCount int

	// Intimacy is the legacy coarse closeness scalar in [0, 10]. Lorebook
	// entries gate on it; per-axis relationship state supersedes it for
	// behaviour derivation.
	Intimacy float64

	// PresentCharacters lists the character IDs currently in the scene.
	PresentCharacters []string

	// RecentEvents is a bounded ring of one-line event summaries, most recent
	// last, capped at [RecentEventLimit].
	RecentEvents []string

	// Summary is the free-text rolling summary of the conversation so far.
	// Regenerated every 20 turns by the maintenance scheduler.
	Summary string

	// MemoryCache is the per-session snapshot of each present character's
	// long-term memories. Nil until the first preload. Never authoritative —
	// fully reconstructable from the MemoryIndex.
	MemoryCache *MemoryCachePayload

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// UpdatedAt is when the session row was last written.
	UpdatedAt time.Time
}

// MemoryCachePayload is the Session Memory Cache: a refreshable snapshot of
// recently retrieved long-term memories per character, plus the instant it was
// last rebuilt. Concurrent refreshes may race harmlessly — the payload is a
// convenience snapshot, not a system of record.
type MemoryCachePayload struct {
	// Entries maps character ID to that character's cached memory records.
	Entries map[string][]MemoryRecord

	// LastUpdated is when the snapshot was last rebuilt.
	LastUpdated time.Time
}

// Scene is a bounded span of a session with a location, a time label, a
// participant set, and a topic set. At most one scene per session is active
// (not closed) at any time; starting a new scene closes the prior one.
type Scene struct {
	// ID is the unique scene identifier (a UUID).
	ID string

	// SessionID is the owning session.
	SessionID string

	// Location is where the scene takes place.
	Location string

	// TimeLabel is the narrative time of the scene (e.g., "midnight").
	TimeLabel string

	// Participants lists the character IDs taking part.
	Participants []string

	// Topics is the accumulated set of topic keywords. Updates merge (union),
	// never replace.
	Topics []string

	// ClosedAt is when the scene was superseded; zero while active.
	ClosedAt time.Time

	// CreatedAt is when the scene was opened.
	CreatedAt time.Time
}

// Active reports whether the scene has not been closed.
func (s *Scene) Active() bool { return s.ClosedAt.IsZero() }

// Relationship tracks how one character relates to the user within a session,
// keyed by (session, character). Created lazily on first interaction, mutated
// after every turn involving the character, never deleted.
type Relationship struct {
	// SessionID is the owning session.
	SessionID string

	// CharacterID is the character this relationship belongs to.
	CharacterID string

	// CharacterName is the canonical display name of the character.
	CharacterName string

	// Axes holds the current value of every intimacy axis, each bounded to
	// [0, 100]. The axis set comes from the work's affinity schema.
	Axes map[string]float64

	// Level is the derived discrete intimacy level. It is recomputed from Axes
	// on every read that feeds character generation; the stored value exists
	// for display only and must not be trusted as fresh.
	Level string

	// History is the bounded emotional history, most recent last, capped at
	// [EmotionHistoryLimit].
	History []EmotionEvent

	// UpdatedAt is when the relationship was last written.
	UpdatedAt time.Time
}

// EmotionEvent is one entry of a relationship's emotional history.
type EmotionEvent struct {
	// Emotion is the emotion label (e.g., "joy", "resentment").
	Emotion string

	// Intensity is the strength of the emotion in [0, 1].
	Intensity float64

	// Turn is the session turn the emotion was recorded on.
	Turn int

	// At is when the entry was recorded.
	At time.Time
}

// KnownFact is a discrete piece of information a character has learned about
// the user, extracted from conversation. Facts grow by novelty-gated
// consolidation and never shrink automatically.
type KnownFact struct {
	// ID is the unique fact identifier (a UUID).
	ID string

	// UserID scopes the fact to a user.
	UserID string

	// CharacterID scopes the fact to a character.
	CharacterID string

	// Content is the fact text.
	Content string

	// SourceTurn is the session turn the fact was extracted from.
	SourceTurn int

	// CreatedAt is when the fact was persisted.
	CreatedAt time.Time
}

// MemoryRecord is a semantically searchable long-term memory note scoped by
// (user, character). Strength decays multiplicatively between reinforcements;
// a record below the configured minimum strength is eligible for pruning.
type MemoryRecord struct {
	// ID is the unique record identifier (a UUID).
	ID string

	// UserID scopes the record to a user.
	UserID string

	// CharacterID scopes the record to a character.
	CharacterID string

	// Content is the memory text.
	Content string

	// Embedding is the vector representation of Content. Dimension must match
	// the index configuration. Empty when the record was stored without an
	// embedding provider available.
	Embedding []float32

	// Strength is the retention scalar in [0, 1]. It only decreases between
	// reinforcements.
	Strength float64

	// LastReinforced is when the record was last created or reinforced.
	LastReinforced time.Time

	// CreatedAt is when the record was first persisted.
	CreatedAt time.Time
}

// MemoryResult pairs a retrieved memory record with its vector-space distance
// from the query embedding. Lower distance means higher similarity.
type MemoryResult struct {
	// Record is the retrieved memory.
	Record MemoryRecord

	// Distance is the cosine distance to the query embedding. Zero when the
	// result came from a non-vector (recency) fallback query.
	Distance float64
}

// LoreEntry is an authored, static world-knowledge entry with activation
// gates. Entries are read-only input to the lorebook gate; this engine never
// mutates them. The yaml tags match the work-file format lorebooks are
// authored in.
type LoreEntry struct {
	// ID is the entry identifier, unique within its work.
	ID string `yaml:"id"`

	// Keywords trigger the entry: at least one must appear in the recent
	// conversation text (case-insensitive substring).
	Keywords []string `yaml:"keywords"`

	// Content is the world-knowledge text injected when active.
	Content string `yaml:"content"`

	// Priority orders active entries, highest first.
	Priority int `yaml:"priority"`

	// MinIntimacy gates the entry on the session intimacy scalar.
	// Zero means no gate.
	MinIntimacy float64 `yaml:"min_intimacy"`

	// MinTurns gates the entry on the session turn count. Zero means no gate.
	MinTurns int `yaml:"min_turns"`

	// RequiredCharacter names a character that must be present for the entry
	// to activate. Empty means no gate.
	RequiredCharacter string `yaml:"required_character"`
}

// Message is a display-transcript message of a session. Distinct from
// [LogEntry], which is the raw conversation log used for novelty scoring and
// summarisation.
type Message struct {
	// ID is the unique message identifier (a UUID).
	ID string

	// SessionID is the owning session.
	SessionID string

	// SpeakerType classifies the speaker.
	SpeakerType SpeakerType

	// SpeakerID identifies the speaking character; empty for user and
	// narrator messages.
	SpeakerID string

	// SpeakerName is the display name of the speaker.
	SpeakerName string

	// Content is the message text.
	Content string

	// Emotion is the emotion tag attached to a character response, if any.
	Emotion string

	// SceneID is the scene the message belongs to, if known.
	SceneID string

	// Turn is the session turn the message was produced on.
	Turn int

	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// LogEntry is one line of the append-only raw conversation log.
type LogEntry struct {
	// ID is the unique log entry identifier (a UUID).
	ID string

	// SessionID is the owning session.
	SessionID string

	// SceneID is the scene the line was spoken in, if known.
	SceneID string

	// SpeakerType classifies the speaker.
	SpeakerType SpeakerType

	// SpeakerName is the display name of the speaker.
	SpeakerName string

	// Content is the spoken text.
	Content string

	// Emotion is the emotion tag attached to the line, if any.
	Emotion string

	// Turn is the session turn the line belongs to.
	Turn int

	// CreatedAt is when the line was recorded.
	CreatedAt time.Time
}
