package turn

import "github.com/reveriehq/reverie/pkg/narrative"

// EventType names one kind of turn stream event.
type EventType string

// Turn stream event types, in the order a successful turn emits them.
const (
	// EventUserMessage carries the persisted user message.
	EventUserMessage EventType = "user_message"

	// EventStatus signals that the turn is being processed.
	EventStatus EventType = "status"

	// EventNarrator carries optional narrator prose preceding the replies.
	EventNarrator EventType = "narrator"

	// EventCharacterResponse carries one character reply. Emitted zero or
	// more times per turn.
	EventCharacterResponse EventType = "character_response"

	// EventSessionUpdate carries the post-turn session state. Always emitted
	// after the turn's relationship and scene writes have been applied.
	EventSessionUpdate EventType = "session_update"

	// EventDone terminates a successful turn stream.
	EventDone EventType = "done"

	// EventError terminates a failed turn stream. Error holds a generic
	// user-visible message; internal detail stays in the logs.
	EventError EventType = "error"
)

// Event is one frame of a turn stream. Exactly one payload field is set,
// matching Type; Done events carry none.
type Event struct {
	Type EventType `json:"type"`

	// Message is set for user_message, narrator and character_response events.
	Message *MessagePayload `json:"message,omitempty"`

	// Stage is set for status events.
	Stage string `json:"stage,omitempty"`

	// Session is set for session_update events.
	Session *SessionPayload `json:"session,omitempty"`

	// Error is set for error events.
	Error string `json:"error,omitempty"`
}

// MessagePayload is the wire form of a transcript message.
type MessagePayload struct {
	ID          string `json:"id"`
	SpeakerType string `json:"speaker_type"`
	SpeakerID   string `json:"speaker_id,omitempty"`
	SpeakerName string `json:"speaker_name"`
	Content     string `json:"content"`
	Emotion     string `json:"emotion,omitempty"`
	Turn        int    `json:"turn"`
}

// RelationshipPayload is the wire form of one character's relationship state.
type RelationshipPayload struct {
	Level string             `json:"level"`
	Axes  map[string]float64 `json:"axes"`
}

// SessionPayload is the wire form of the post-turn session state.
type SessionPayload struct {
	ID                string                         `json:"id"`
	WorkID            string                         `json:"work_id"`
	Location          string                         `json:"location"`
	TimeOfDay         string                         `json:"time_of_day"`
	TurnCount         int                            `json:"turn_count"`
	PresentCharacters []string                       `json:"present_characters"`
	RecentEvents      []string                       `json:"recent_events"`
	Summary           string                         `json:"summary,omitempty"`
	Relationships     map[string]RelationshipPayload `json:"relationships"`
}

// messagePayload converts a persisted message into its wire form.
func messagePayload(m *narrative.Message) *MessagePayload {
	return &MessagePayload{
		ID:          m.ID,
		SpeakerType: string(m.SpeakerType),
		SpeakerID:   m.SpeakerID,
		SpeakerName: m.SpeakerName,
		Content:     m.Content,
		Emotion:     m.Emotion,
		Turn:        m.Turn,
	}
}

// sessionPayload converts the session and its relationships into wire form.
func sessionPayload(sess *narrative.Session, rels map[string]narrative.Relationship) *SessionPayload {
	p := &SessionPayload{
		ID:                sess.ID,
		WorkID:            sess.WorkID,
		Location:          sess.Location,
		TimeOfDay:         sess.TimeOfDay,
		TurnCount:         sess.TurnCount,
		PresentCharacters: sess.PresentCharacters,
		RecentEvents:      sess.RecentEvents,
		Summary:           sess.Summary,
		Relationships:     map[string]RelationshipPayload{},
	}
	if p.PresentCharacters == nil {
		p.PresentCharacters = []string{}
	}
	if p.RecentEvents == nil {
		p.RecentEvents = []string{}
	}
	for id, rel := range rels {
		p.Relationships[id] = RelationshipPayload{Level: rel.Level, Axes: rel.Axes}
	}
	return p
}
