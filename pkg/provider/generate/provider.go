// Package generate defines the Service interface for the narrative generation
// backend.
//
// A generation service takes one fully assembled turn context — per-character
// prompts, recent history, scene state, active lore, world setting — and
// produces the structured output of a turn: character replies with emotion
// tags, an optional narrator note, scene updates, relationship deltas, and
// candidate memories. It also produces rolling conversation summaries for the
// maintenance scheduler.
//
// Implementations must be safe for concurrent use.
package generate

import (
	"context"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// CharacterContext is one character's fully assembled prompt, produced by the
// context assembler. Prompt already contains the base definition, narrative
// context, memories, lore, world setting, and history in their final order.
type CharacterContext struct {
	// ID is the character identifier within the work.
	ID string

	// Name is the character's display name.
	Name string

	// Prompt is the assembled per-character context text.
	Prompt string
}

// SceneState describes the scene as it stands when the turn starts.
type SceneState struct {
	// Location is the current narrative location.
	Location string

	// TimeOfDay is the current narrative time label.
	TimeOfDay string

	// Participants lists the character IDs present in the scene.
	Participants []string
}

// Request carries everything the generation backend needs for one turn.
type Request struct {
	// UserInput is the user's message for this turn.
	UserInput string

	// Persona is the user persona description, empty when none is selected.
	Persona string

	// Context is the assembled narrative document: character definitions,
	// relationship guidance, memories, lore, and world setting in their final
	// budgeted order. When set, it supersedes the per-character Prompt fields.
	Context string

	// Characters holds the assembled context of every character expected to
	// respond, in presence order.
	Characters []CharacterContext

	// History is the recent display transcript, oldest first.
	History []narrative.Message

	// Scene is the scene state at the start of the turn.
	Scene SceneState

	// PreviouslyPresent lists characters that were in the scene on the prior
	// turn, letting the model narrate exits and entrances.
	PreviouslyPresent []string
}

// Reply is one character's response within a turn.
type Reply struct {
	// CharacterID identifies the responding character.
	CharacterID string `json:"character_id"`

	// CharacterName is the display name of the responding character.
	CharacterName string `json:"character_name"`

	// Content is the response text.
	Content string `json:"content"`

	// Emotion is the dominant emotion of the response (e.g., "joy").
	Emotion string `json:"emotion"`

	// Intensity is the emotion strength in [0, 1].
	Intensity float64 `json:"intensity"`

	// AxisDeltas are relationship axis adjustments this turn earned, keyed by
	// axis name.
	AxisDeltas map[string]float64 `json:"axis_deltas"`
}

// SceneUpdate carries scene changes the model decided on during the turn.
// Empty fields mean no change.
type SceneUpdate struct {
	// Location is the new location, empty when unchanged.
	Location string `json:"location"`

	// TimeOfDay is the new time label, empty when unchanged.
	TimeOfDay string `json:"time_of_day"`

	// Present lists the character IDs in the scene after the turn. Nil means
	// unchanged.
	Present []string `json:"present"`

	// Topics are topic keywords raised during the turn, merged into the
	// active scene's topic set.
	Topics []string `json:"topics"`

	// EventSummary is a one-line summary of what happened, appended to the
	// session's recent events. Empty when nothing notable happened.
	EventSummary string `json:"event_summary"`
}

// MemoryNote is a candidate long-term memory extracted from the turn. The
// consolidator decides whether it is novel enough to persist.
type MemoryNote struct {
	// CharacterID is the character the memory belongs to.
	CharacterID string `json:"character_id"`

	// Content is the memory text, written from the character's perspective.
	Content string `json:"content"`
}

// FactNote is a discrete fact about the user that a character learned this
// turn.
type FactNote struct {
	// CharacterID is the character that learned the fact.
	CharacterID string `json:"character_id"`

	// Content is the fact text.
	Content string `json:"content"`
}

// Result is the structured output of one generation call.
type Result struct {
	// NarratorNote is optional scene-setting prose preceding the character
	// replies. Empty when the model produced none.
	NarratorNote string `json:"narrator_note"`

	// Replies holds one entry per responding character, in speaking order.
	Replies []Reply `json:"replies"`

	// Scene carries scene changes, nil when the scene is unchanged.
	Scene *SceneUpdate `json:"scene"`

	// Memories are candidate long-term memories extracted from the turn.
	Memories []MemoryNote `json:"memories"`

	// Facts are discrete user facts learned during the turn.
	Facts []FactNote `json:"facts"`
}

// Service is the abstraction over the narrative generation backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Service interface {
	// Generate produces the turn output for req. A non-nil result always has
	// non-nil Replies (possibly empty).
	Generate(ctx context.Context, req Request) (*Result, error)

	// Summarise produces a fresh rolling summary of a session from its prior
	// summary and the recent raw conversation log.
	Summarise(ctx context.Context, priorSummary string, log []narrative.LogEntry) (string, error)
}
