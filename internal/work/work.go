// Package work loads and validates authored works: the characters, personas,
// lorebook, world setting, and optional affinity schema a session plays.
//
// Works are authored as YAML files and validated once at load ("publish")
// time. At runtime the engine treats a [Work] as immutable.
package work

import (
	"errors"
	"fmt"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// Work is one authored interactive work.
type Work struct {
	// ID is the unique work identifier.
	ID string `yaml:"id"`

	// Title is the display title.
	Title string `yaml:"title"`

	// Description is a free-text summary shown to users browsing works.
	Description string `yaml:"description"`

	// WorldSetting is the authored world/setting text injected into every
	// generation context. Never truncated by the assembler.
	WorldSetting string `yaml:"world_setting"`

	// Opening describes the starting situation of a new session.
	Opening Opening `yaml:"opening"`

	// Characters are the playable characters of the work.
	Characters []Character `yaml:"characters"`

	// Personas are the user personas the work offers. Optional.
	Personas []Persona `yaml:"personas"`

	// Lorebook holds the work's gated world-knowledge entries. Optional.
	Lorebook []narrative.LoreEntry `yaml:"lorebook"`

	// Affinity is the work's custom relationship schema. Nil means the
	// default schema.
	Affinity *narrative.AffinitySchema `yaml:"affinity"`
}

// Opening is the initial narrative situation of a new session.
type Opening struct {
	// Location is the starting location.
	Location string `yaml:"location"`

	// TimeOfDay is the starting time label.
	TimeOfDay string `yaml:"time_of_day"`

	// Narration is the opening narrator text shown when a session starts.
	Narration string `yaml:"narration"`
}

// Character is one AI-played character of a work.
type Character struct {
	// ID is the character identifier, unique within the work.
	ID string `yaml:"id"`

	// Name is the canonical display name.
	Name string `yaml:"name"`

	// Aliases are additional names the character may be referred to by,
	// including what the model might call them (nicknames, surnames).
	Aliases []string `yaml:"aliases"`

	// Prompt is the character's base prompt: personality, voice, backstory.
	// Never truncated by the assembler.
	Prompt string `yaml:"prompt"`

	// Present marks the character as in the scene when a session starts.
	Present bool `yaml:"present"`
}

// Persona is a user persona the work offers.
type Persona struct {
	// ID is the persona identifier, unique within the work.
	ID string `yaml:"id"`

	// Name is the name characters address the user by.
	Name string `yaml:"name"`

	// Description is the persona text injected into the generation context.
	Description string `yaml:"description"`
}

// Validate checks the work for structural coherence. Returns a joined error
// listing every problem found.
func (w *Work) Validate() error {
	var errs []error

	if w.ID == "" {
		errs = append(errs, errors.New("work: id is required"))
	}
	if w.Title == "" {
		errs = append(errs, errors.New("work: title is required"))
	}
	if len(w.Characters) == 0 {
		errs = append(errs, errors.New("work: at least one character is required"))
	}

	charIDs := make(map[string]bool, len(w.Characters))
	for i, c := range w.Characters {
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("work: characters[%d]: id is required", i))
		case charIDs[c.ID]:
			errs = append(errs, fmt.Errorf("work: duplicate character id %q", c.ID))
		}
		charIDs[c.ID] = true
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("work: character %q: name is required", c.ID))
		}
		if c.Prompt == "" {
			errs = append(errs, fmt.Errorf("work: character %q: prompt is required", c.ID))
		}
	}

	personaIDs := make(map[string]bool, len(w.Personas))
	for i, p := range w.Personas {
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("work: personas[%d]: id is required", i))
		case personaIDs[p.ID]:
			errs = append(errs, fmt.Errorf("work: duplicate persona id %q", p.ID))
		}
		personaIDs[p.ID] = true
	}

	loreIDs := make(map[string]bool, len(w.Lorebook))
	for i, e := range w.Lorebook {
		switch {
		case e.ID == "":
			errs = append(errs, fmt.Errorf("work: lorebook[%d]: id is required", i))
		case loreIDs[e.ID]:
			errs = append(errs, fmt.Errorf("work: duplicate lore entry id %q", e.ID))
		}
		loreIDs[e.ID] = true
		if len(e.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("work: lore entry %q: at least one keyword is required", e.ID))
		}
		if e.Content == "" {
			errs = append(errs, fmt.Errorf("work: lore entry %q: content is required", e.ID))
		}
		if e.RequiredCharacter != "" && !charIDs[e.RequiredCharacter] {
			errs = append(errs, fmt.Errorf("work: lore entry %q: required character %q is not defined", e.ID, e.RequiredCharacter))
		}
	}

	if w.Affinity != nil {
		if err := w.Affinity.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Schema returns the work's affinity schema, falling back to
// [narrative.DefaultAffinitySchema] when none is authored.
func (w *Work) Schema() *narrative.AffinitySchema {
	if w.Affinity != nil {
		return w.Affinity
	}
	return narrative.DefaultAffinitySchema()
}

// Character returns the character with the given ID, or nil.
func (w *Work) Character(id string) *Character {
	for i := range w.Characters {
		if w.Characters[i].ID == id {
			return &w.Characters[i]
		}
	}
	return nil
}

// Persona returns the persona with the given ID, or nil.
func (w *Work) Persona(id string) *Persona {
	for i := range w.Personas {
		if w.Personas[i].ID == id {
			return &w.Personas[i]
		}
	}
	return nil
}

// InitialCharacterIDs returns the IDs of the characters present when a
// session starts. Returns an empty (non-nil) slice when none are marked.
func (w *Work) InitialCharacterIDs() []string {
	out := []string{}
	for _, c := range w.Characters {
		if c.Present {
			out = append(out, c.ID)
		}
	}
	return out
}
