package assembler_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reveriehq/reverie/internal/assembler"
	"github.com/reveriehq/reverie/internal/memcache"
	"github.com/reveriehq/reverie/internal/recall"
	"github.com/reveriehq/reverie/internal/work"
	"github.com/reveriehq/reverie/pkg/narrative"
	narrativemock "github.com/reveriehq/reverie/pkg/narrative/mock"
)

type stores struct {
	sessions      *narrativemock.SessionStore
	scenes        *narrativemock.SceneStore
	relationships *narrativemock.RelationshipStore
	index         *narrativemock.MemoryIndex
}

func newAssembler(t *testing.T, s *stores) *assembler.Assembler {
	t.Helper()
	return assembler.New(assembler.Config{
		Sessions:      s.sessions,
		Scenes:        s.scenes,
		Relationships: s.relationships,
		Memories: memcache.New(memcache.Config{
			Searcher: recall.NewSearcher(recall.SearcherConfig{Index: s.index}),
		}),
		Facts:       s.index,
		ReadTimeout: 200 * time.Millisecond,
	})
}

func testWork() *work.Work {
	return &work.Work{
		ID:           "w1",
		Title:        "The Lighthouse Keepers",
		WorldSetting: "The town of Graythorn clings to the cliffs below an old lighthouse.",
		Characters: []work.Character{
			{ID: "mira", Name: "Mira", Prompt: "Mira keeps the lighthouse and the town's secrets.", Present: true},
			{ID: "jun", Name: "Jun", Prompt: "Jun runs the harbour tavern.", Present: true},
		},
		Lorebook: []narrative.LoreEntry{
			{ID: "lamp", Keywords: []string{"lighthouse"}, Content: "The lamp room has been sealed for years.", Priority: 5},
			{ID: "festival", Keywords: []string{"festival"}, Content: "The lantern festival happens at midsummer.", Priority: 1},
		},
	}
}

func testSession() *narrative.Session {
	return &narrative.Session{
		ID:                "s1",
		WorkID:            "w1",
		UserID:            "u1",
		TurnCount:         3,
		PresentCharacters: []string{"mira", "jun"},
		RecentEvents:      []string{"Rowan arrived on the last ferry."},
		Summary:           "Rowan has just arrived in Graythorn.",
	}
}

func TestAssemble_GathersAllComponents(t *testing.T) {
	s := &stores{
		sessions:      &narrativemock.SessionStore{},
		scenes:        &narrativemock.SceneStore{},
		relationships: &narrativemock.RelationshipStore{},
		index:         &narrativemock.MemoryIndex{},
	}
	ctx := context.Background()
	if _, err := s.scenes.StartScene(ctx, "s1", "harbour", "evening", []string{"mira", "jun"}); err != nil {
		t.Fatalf("StartScene: %v", err)
	}
	if err := s.sessions.AppendMessage(ctx, &narrative.Message{SessionID: "s1", SpeakerType: narrative.SpeakerUser, Content: "Tell me about the lighthouse."}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	rec := narrative.MemoryRecord{ID: "m1", UserID: "u1", CharacterID: "mira", Content: "Rowan asked about the keeper.", Strength: 1}
	if err := s.index.Upsert(ctx, &rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.index.AddFact(ctx, &narrative.KnownFact{ID: "f1", UserID: "u1", CharacterID: "mira", Content: "Rowan came by ferry."}); err != nil {
		t.Fatalf("AddFact: %v", err)
	}

	a := newAssembler(t, s)
	sess := testSession()
	got := a.Assemble(ctx, sess, testWork(), "What about the lighthouse?", 4)

	if got.Scene == nil || got.Scene.Location != "harbour" {
		t.Errorf("Scene = %+v, want the active harbour scene", got.Scene)
	}
	if len(got.History) != 1 {
		t.Errorf("History has %d messages, want 1", len(got.History))
	}
	if len(got.Relationships) != 2 {
		t.Errorf("Relationships = %v, want entries for both characters", got.Relationships)
	}
	if got.Levels["mira"].Name != "stranger" {
		t.Errorf("fresh relationship level = %q, want stranger", got.Levels["mira"].Name)
	}
	if len(got.Memories["mira"]) != 1 {
		t.Errorf("Memories[mira] = %v, want the stored record", got.Memories["mira"])
	}
	if len(got.Facts["mira"]) != 1 || len(got.Facts["jun"]) != 0 {
		t.Errorf("Facts = %v, want one for mira and none for jun", got.Facts)
	}
	if len(got.Lore) != 1 || got.Lore[0].ID != "lamp" {
		t.Errorf("Lore = %v, want the lamp entry triggered by the user text", got.Lore)
	}
	if sess.MemoryCache == nil {
		t.Error("memory snapshot was not written onto the session")
	}
}

func TestAssemble_LoreGateCountsTurnBeingAssembled(t *testing.T) {
	s := &stores{
		sessions:      &narrativemock.SessionStore{},
		scenes:        &narrativemock.SceneStore{},
		relationships: &narrativemock.RelationshipStore{},
		index:         &narrativemock.MemoryIndex{},
	}
	w := testWork()
	w.Lorebook = append(w.Lorebook, narrative.LoreEntry{
		ID:       "beacon",
		Keywords: []string{"lighthouse"},
		Content:  "The beacon was lit once, the night the ferry sank.",
		MinTurns: 4,
		Priority: 9,
	})

	a := newAssembler(t, s)
	// Three turns completed; this call assembles turn 4, which must satisfy
	// the minTurns=4 threshold.
	got := a.Assemble(context.Background(), testSession(), w, "What about the lighthouse?", 4)

	found := false
	for _, e := range got.Lore {
		if e.ID == "beacon" {
			found = true
		}
	}
	if !found {
		t.Errorf("Lore = %v, want the beacon entry active on the turn reaching its threshold", got.Lore)
	}
}

// TestAssemble_FailedReadsFallBackEmpty verifies that no single store failure
// prevents assembly.
func TestAssemble_FailedReadsFallBackEmpty(t *testing.T) {
	s := &stores{
		sessions:      &narrativemock.SessionStore{RecentMessagesErr: errors.New("db down")},
		scenes:        &narrativemock.SceneStore{ActiveSceneErr: errors.New("db down")},
		relationships: &narrativemock.RelationshipStore{GetOrCreateErr: errors.New("db down")},
		index:         &narrativemock.MemoryIndex{SearchErr: errors.New("db down"), FactsErr: errors.New("db down")},
	}

	a := newAssembler(t, s)
	got := a.Assemble(context.Background(), testSession(), testWork(), "hello", 4)

	if got.History == nil || len(got.History) != 0 {
		t.Errorf("History = %v, want empty non-nil", got.History)
	}
	if got.Scene != nil {
		t.Errorf("Scene = %+v, want nil", got.Scene)
	}
	if len(got.Relationships) != 0 {
		t.Errorf("Relationships = %v, want none", got.Relationships)
	}
	for _, id := range []string{"mira", "jun"} {
		if got.Memories[id] == nil || got.Facts[id] == nil {
			t.Errorf("character %s: memories/facts must be empty non-nil, got %v / %v", id, got.Memories[id], got.Facts[id])
		}
	}
}

// TestAssemble_SlowReadIsBounded verifies the per-read timeout: a hanging
// store delays assembly by at most the read timeout, not the store's latency.
func TestAssemble_SlowReadIsBounded(t *testing.T) {
	s := &stores{
		sessions:      &narrativemock.SessionStore{},
		scenes:        &narrativemock.SceneStore{},
		relationships: &narrativemock.RelationshipStore{},
		index:         &narrativemock.MemoryIndex{SearchDelay: 5 * time.Second},
	}
	a := assembler.New(assembler.Config{
		Sessions:      s.sessions,
		Scenes:        s.scenes,
		Relationships: s.relationships,
		Memories: memcache.New(memcache.Config{
			Searcher: recall.NewSearcher(recall.SearcherConfig{Index: s.index, Timeout: 50 * time.Millisecond}),
		}),
		Facts:       s.index,
		ReadTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	got := a.Assemble(context.Background(), testSession(), testWork(), "hello", 4)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("assembly took %v, want bounded by the read timeout", elapsed)
	}
	for _, id := range []string{"mira", "jun"} {
		if got.Memories[id] == nil {
			t.Errorf("Memories[%s] must be empty non-nil after timeout", id)
		}
	}
}

func TestFormat_FixedOrder(t *testing.T) {
	s := &stores{
		sessions:      &narrativemock.SessionStore{},
		scenes:        &narrativemock.SceneStore{},
		relationships: &narrativemock.RelationshipStore{},
		index:         &narrativemock.MemoryIndex{},
	}
	ctx := context.Background()
	rec := narrative.MemoryRecord{ID: "m1", UserID: "u1", CharacterID: "mira", Content: "Rowan fears deep water.", Strength: 1}
	if err := s.index.Upsert(ctx, &rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	a := newAssembler(t, s)
	got := a.Assemble(ctx, testSession(), testWork(), "the lighthouse again", 4)
	doc := assembler.Format(got, 0)

	order := []string{
		"## Character: Mira",
		"## Character: Jun",
		"## Narrative context",
		"## Memories",
		"## World knowledge",
		"## World setting",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(doc, marker)
		if idx < 0 {
			t.Fatalf("document is missing %q:\n%s", marker, doc)
		}
		if idx < last {
			t.Errorf("%q appears out of order", marker)
		}
		last = idx
	}
}

// TestFormat_BudgetCutsMemoriesThenLore verifies the truncation order:
// shrinking the budget drops memory snippets before lore, and lore before any
// protected text, which is never cut.
func TestFormat_BudgetCutsMemoriesThenLore(t *testing.T) {
	s := &stores{
		sessions:      &narrativemock.SessionStore{},
		scenes:        &narrativemock.SceneStore{},
		relationships: &narrativemock.RelationshipStore{},
		index:         &narrativemock.MemoryIndex{},
	}
	ctx := context.Background()
	for i, content := range []string{
		"Rowan fears deep water after a childhood accident.",
		"Rowan hums sea shanties while thinking.",
		"Rowan asked twice about the sealed lamp room.",
	} {
		rec := narrative.MemoryRecord{
			ID: string(rune('a' + i)), UserID: "u1", CharacterID: "mira",
			Content: content, Strength: 1,
		}
		if err := s.index.Upsert(ctx, &rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	a := newAssembler(t, s)
	got := a.Assemble(ctx, testSession(), testWork(), "lighthouse festival", 4)
	if len(got.Lore) != 2 {
		t.Fatalf("expected both lore entries active, got %v", got.Lore)
	}

	full := assembler.Format(got, 0)
	protected := strings.Index(full, "## Narrative context")
	if protected < 0 {
		t.Fatal("full document is malformed")
	}

	// A budget just below the full size must shed memories first.
	squeezed := assembler.Format(got, len([]rune(full))-40)
	if strings.Count(squeezed, "remembers:") >= strings.Count(full, "remembers:") {
		t.Error("memories were not cut first under budget pressure")
	}
	if !strings.Contains(squeezed, "## World knowledge") {
		t.Error("lore was cut while memories were still present")
	}

	// A tiny budget sheds memories and lore entirely but keeps protected text.
	tiny := assembler.Format(got, protected+300)
	if strings.Contains(tiny, "remembers:") {
		t.Error("tiny budget must drop all memories")
	}
	for _, marker := range []string{"## Character: Mira", "## Narrative context", "## World setting"} {
		if !strings.Contains(tiny, marker) {
			t.Errorf("protected section %q was cut", marker)
		}
	}
}
