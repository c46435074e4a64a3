package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// Section headers of the truncatable blocks.
const (
	memoriesHeader = "## Memories\n"
	loreHeader     = "## World knowledge\n"
)

// Format renders the assembled context into the prompt document, in fixed
// order: character definitions, narrative context, memory snippets, lore,
// world setting. budget caps the document length in runes; when the document
// would exceed it, memory snippets are dropped first (least relevant last),
// then lore entries (lowest priority last). Character definitions, narrative
// context, and the world setting are never truncated, so the document may
// exceed the budget when those alone do. A budget of zero or less disables
// truncation.
func Format(c *Context, budget int) string {
	protected := characterSection(c) + narrativeSection(c)
	world := worldSection(c)
	memories := memoryItems(c)
	lore := loreItems(c)

	if budget > 0 {
		// Memories yield before lore: lore claims the space left after the
		// protected text, memories get whatever remains after lore.
		fixed := utf8.RuneCountInString(protected) + utf8.RuneCountInString(world)
		loreHeaderCost := utf8.RuneCountInString(loreHeader) + 1
		memHeaderCost := utf8.RuneCountInString(memoriesHeader) + 1

		var loreUsed int
		lore, loreUsed = fitItems(lore, budget-fixed-loreHeaderCost)
		if len(lore) > 0 {
			loreUsed += loreHeaderCost
		}
		memories, _ = fitItems(memories, budget-fixed-loreUsed-memHeaderCost)
	}

	var b strings.Builder
	b.WriteString(protected)
	if len(memories) > 0 {
		b.WriteString(memoriesHeader)
		for _, m := range memories {
			b.WriteString(m)
		}
		b.WriteString("\n")
	}
	if len(lore) > 0 {
		b.WriteString(loreHeader)
		for _, l := range lore {
			b.WriteString(l)
		}
		b.WriteString("\n")
	}
	b.WriteString(world)
	return strings.TrimRight(b.String(), "\n")
}

// characterSection renders the base definition of every present character.
// Never truncated.
func characterSection(c *Context) string {
	var b strings.Builder
	for _, id := range c.Session.PresentCharacters {
		ch := c.Work.Character(id)
		if ch == nil {
			continue
		}
		fmt.Fprintf(&b, "## Character: %s (id: %s)\n%s\n\n", ch.Name, ch.ID, ch.Prompt)
	}
	return b.String()
}

// narrativeSection renders the scene, relationship state with behaviour
// guidance, recent events, and the rolling summary. Never truncated.
func narrativeSection(c *Context) string {
	var b strings.Builder
	b.WriteString("## Narrative context\n")

	if c.Scene != nil {
		fmt.Fprintf(&b, "Scene: %s, %s", c.Scene.Location, c.Scene.TimeLabel)
		if len(c.Scene.Topics) > 0 {
			fmt.Fprintf(&b, " (topics: %s)", strings.Join(c.Scene.Topics, ", "))
		}
		b.WriteString("\n")
	} else if c.Session.Location != "" {
		fmt.Fprintf(&b, "Scene: %s, %s\n", c.Session.Location, c.Session.TimeOfDay)
	}

	for _, id := range c.Session.PresentCharacters {
		rel, ok := c.Relationships[id]
		if !ok {
			continue
		}
		lvl := c.Levels[id]
		fmt.Fprintf(&b, "%s's relationship with the user: %s.", rel.CharacterName, lvl.Name)
		if lvl.Guidance != "" {
			b.WriteString(" ")
			b.WriteString(lvl.Guidance)
		}
		b.WriteString("\n")
		if last := lastEmotion(rel.History); last != nil {
			fmt.Fprintf(&b, "%s's recent mood: %s (intensity %.1f)\n", rel.CharacterName, last.Emotion, last.Intensity)
		}
	}

	if len(c.Session.RecentEvents) > 0 {
		b.WriteString("Recent events:\n")
		for _, ev := range c.Session.RecentEvents {
			fmt.Fprintf(&b, "- %s\n", ev)
		}
	}
	if c.Session.Summary != "" {
		fmt.Fprintf(&b, "Story so far: %s\n", c.Session.Summary)
	}

	b.WriteString("\n")
	return b.String()
}

func worldSection(c *Context) string {
	if c.Work.WorldSetting == "" {
		return ""
	}
	return "## World setting\n" + c.Work.WorldSetting + "\n"
}

// memoryItems renders one line per recalled memory and known fact, grouped by
// character in presence order. Items later in the slice are dropped first
// under budget pressure, so each character's list keeps its retrieval order
// (most relevant first).
func memoryItems(c *Context) []string {
	var items []string
	for _, id := range c.Session.PresentCharacters {
		name := id
		if ch := c.Work.Character(id); ch != nil {
			name = ch.Name
		}
		for _, f := range c.Facts[id] {
			items = append(items, fmt.Sprintf("%s knows: %s\n", name, f.Content))
		}
		for _, m := range c.Memories[id] {
			items = append(items, fmt.Sprintf("%s remembers: %s\n", name, m.Content))
		}
	}
	return items
}

// loreItems renders the activated lore entries, already ordered by descending
// priority, so trailing (lowest-priority) entries are dropped first.
func loreItems(c *Context) []string {
	var items []string
	for _, e := range c.Lore {
		items = append(items, fmt.Sprintf("- %s\n", e.Content))
	}
	return items
}

// fitItems keeps the longest prefix of items whose combined rune count fits
// within budget. A non-positive budget keeps nothing.
func fitItems(items []string, budget int) ([]string, int) {
	used := 0
	for i, item := range items {
		n := utf8.RuneCountInString(item)
		if used+n > budget {
			return items[:i], used
		}
		used += n
	}
	return items, used
}

func lastEmotion(history []narrative.EmotionEvent) *narrative.EmotionEvent {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}
