// Package lorebook selects which authored world-knowledge entries are active
// for a turn.
//
// The gate is a pure filter over static [narrative.LoreEntry] values: no
// entry is ever mutated, and the same session state always activates the same
// entries. Activation requires a keyword hit in the recent conversation text
// plus every configured gate (intimacy, turn count, required character).
package lorebook

import (
	"sort"
	"strings"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// SessionState is the slice of session state the gate conditions on.
type SessionState struct {
	// Intimacy is the session's coarse intimacy scalar in [0, 10].
	Intimacy float64

	// TurnCount is the number of completed turns.
	TurnCount int

	// PresentCharacters lists the character IDs currently in the scene.
	PresentCharacters []string
}

// Gate evaluates lore entries against conversation text and session state.
type Gate struct {
	entries []narrative.LoreEntry
}

// NewGate creates a [Gate] over the given entries. The slice is captured, not
// copied; callers must not mutate it afterwards.
func NewGate(entries []narrative.LoreEntry) *Gate {
	return &Gate{entries: entries}
}

// Active returns the entries triggered by recentText under state, ordered by
// descending priority (ties keep authored order). An entry activates when at
// least one keyword occurs in recentText (case-insensitive substring) and all
// of its gates pass. Returns an empty (non-nil) slice when nothing activates.
func (g *Gate) Active(recentText string, state SessionState) []narrative.LoreEntry {
	haystack := strings.ToLower(recentText)

	active := []narrative.LoreEntry{}
	for _, e := range g.entries {
		if !keywordHit(haystack, e.Keywords) {
			continue
		}
		if e.MinIntimacy > 0 && state.Intimacy < e.MinIntimacy {
			continue
		}
		if e.MinTurns > 0 && state.TurnCount < e.MinTurns {
			continue
		}
		if e.RequiredCharacter != "" && !present(state.PresentCharacters, e.RequiredCharacter) {
			continue
		}
		active = append(active, e)
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	return active
}

func keywordHit(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func present(characters []string, id string) bool {
	for _, c := range characters {
		if c == id {
			return true
		}
	}
	return false
}
