// Package relationship resolves the character names a generative model emits
// back to canonical character IDs.
//
// Models routinely mangle names: they answer as "Mira Voss" when the work
// defines "Mira", prepend titles, or misspell. The [AliasTable] absorbs that
// so relationship updates and response attribution always land on the right
// character.
package relationship

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/reveriehq/reverie/internal/work"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for the last-resort
// fuzzy pass. Below it, a name stays unresolved rather than guessing. The
// prefix boost pushes unrelated prefix-sharing names ("juniper" vs "jun")
// close to 0.87, so the threshold sits above that.
const fuzzyThreshold = 0.9

type aliasEntry struct {
	alias       string // normalised
	characterID string
}

// AliasTable maps the names a model may use for a character back to the
// character's ID. Built once per work; safe for concurrent use after
// construction.
type AliasTable struct {
	exact   map[string]string
	entries []aliasEntry
}

// NewAliasTable builds an [AliasTable] from a work's characters. Each
// character is reachable by its ID, canonical name, and every authored alias.
func NewAliasTable(characters []work.Character) *AliasTable {
	t := &AliasTable{exact: map[string]string{}}
	for _, c := range characters {
		t.add(c.ID, c.ID)
		t.add(c.Name, c.ID)
		for _, alias := range c.Aliases {
			t.add(alias, c.ID)
		}
	}
	return t
}

func (t *AliasTable) add(alias, characterID string) {
	n := normalise(alias)
	if n == "" {
		return
	}
	// First registration wins so a character's own names beat another
	// character's overlapping alias.
	if _, ok := t.exact[n]; ok {
		return
	}
	t.exact[n] = characterID
	t.entries = append(t.entries, aliasEntry{alias: n, characterID: characterID})
}

// Resolve maps a model-emitted name to a character ID. Resolution tries, in
// order: exact match, substring containment in either direction, the name's
// first token, and finally a Jaro-Winkler fuzzy pass. Returns ("", false)
// when nothing clears the fuzzy threshold.
func (t *AliasTable) Resolve(name string) (string, bool) {
	n := normalise(name)
	if n == "" {
		return "", false
	}

	if id, ok := t.exact[n]; ok {
		return id, true
	}

	// Substring: "mira voss" should hit alias "mira", and "voss" should hit
	// alias "miss voss". Prefer the longest overlapping alias.
	bestLen := 0
	bestID := ""
	for _, e := range t.entries {
		if containsWord(n, e.alias) || containsWord(e.alias, n) {
			if len(e.alias) > bestLen {
				bestLen = len(e.alias)
				bestID = e.characterID
			}
		}
	}
	if bestID != "" {
		return bestID, true
	}

	if first, _, ok := strings.Cut(n, " "); ok {
		if id, found := t.exact[first]; found {
			return id, true
		}
	}

	bestScore := 0.0
	bestID = ""
	for _, e := range t.entries {
		score := matchr.JaroWinkler(n, e.alias, false)
		if score > bestScore {
			bestScore = score
			bestID = e.characterID
		}
	}
	if bestScore >= fuzzyThreshold {
		return bestID, true
	}
	return "", false
}

// containsWord reports whether needle occurs in haystack on word boundaries.
// Plain substring matching would let "jun" claim "juniper".
func containsWord(haystack, needle string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], needle)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(needle)
		startOK := start == 0 || haystack[start-1] == ' '
		endOK := end == len(haystack) || haystack[end] == ' '
		if startOK && endOK {
			return true
		}
		idx = start + 1
		if idx >= len(haystack) {
			return false
		}
	}
}

func normalise(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
