// Package assembler builds the generation context for a turn.
//
// [Assembler.Assemble] gathers every context component — relationships,
// cached memories, known facts, active lore, recent history, the active
// scene — concurrently, each read under its own time budget with a typed
// empty fallback, so one slow store degrades context quality instead of turn
// latency. [Format] renders the result into the final prompt document under a
// rune budget.
package assembler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reveriehq/reverie/internal/lorebook"
	"github.com/reveriehq/reverie/internal/memcache"
	"github.com/reveriehq/reverie/internal/work"
	"github.com/reveriehq/reverie/pkg/narrative"
)

const (
	// defaultReadTimeout bounds each individual store read.
	defaultReadTimeout = 2 * time.Second

	// defaultHistoryLimit caps the recent transcript included in a turn.
	defaultHistoryLimit = 30

	// loreTextWindow is how many trailing history messages feed lore keyword
	// matching, alongside the user's new message.
	loreTextWindow = 6
)

// Context is the fully gathered turn context, ready for [Format].
type Context struct {
	// Work is the authored work the session plays.
	Work *work.Work

	// Session is the session as read at the start of the turn.
	Session *narrative.Session

	// Scene is the active scene, nil when none is open.
	Scene *narrative.Scene

	// Relationships maps present character ID to its relationship state.
	// Characters whose read failed are absent.
	Relationships map[string]narrative.Relationship

	// Levels maps present character ID to its freshly derived level.
	Levels map[string]narrative.LevelSpec

	// Memories maps present character ID to its recalled memory records.
	Memories map[string][]narrative.MemoryRecord

	// Facts maps present character ID to the facts it knows about the user.
	Facts map[string][]narrative.KnownFact

	// Lore holds the activated lore entries, highest priority first.
	Lore []narrative.LoreEntry

	// History is the recent display transcript, oldest first.
	History []narrative.Message

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// Assembler gathers turn context from the stores.
type Assembler struct {
	sessions      narrative.SessionStore
	scenes        narrative.SceneStore
	relationships narrative.RelationshipStore
	memories      *memcache.Cache
	facts         narrative.MemoryIndex
	log           *slog.Logger
	readTimeout   time.Duration
	historyLimit  int
}

// Config configures an [Assembler].
type Config struct {
	// Sessions serves the recent transcript.
	Sessions narrative.SessionStore

	// Scenes serves the active scene.
	Scenes narrative.SceneStore

	// Relationships serves per-character relationship state.
	Relationships narrative.RelationshipStore

	// Memories serves the session memory snapshot.
	Memories *memcache.Cache

	// Facts serves per-character known facts. Usually a [recall.Guard]-wrapped
	// index.
	Facts narrative.MemoryIndex

	// Logger receives degradation warnings. Defaults to [slog.Default].
	Logger *slog.Logger

	// ReadTimeout bounds each store read. Defaults to 2 seconds.
	ReadTimeout time.Duration

	// HistoryLimit caps the recent transcript. Defaults to 30 messages.
	HistoryLimit int
}

// New creates an [Assembler] with the given configuration.
func New(cfg Config) *Assembler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Assembler{
		sessions:      cfg.Sessions,
		scenes:        cfg.Scenes,
		relationships: cfg.Relationships,
		memories:      cfg.Memories,
		facts:         cfg.Facts,
		log:           log,
		readTimeout:   timeout,
		historyLimit:  limit,
	}
}

// Assemble gathers every context component for the turn numbered nextTurn.
// Individual reads that fail or time out fall back to typed empty values and
// are logged; Assemble itself never fails. The session's memory snapshot may
// be refreshed as a side effect (written onto sess, persisted by the caller).
func (a *Assembler) Assemble(ctx context.Context, sess *narrative.Session, w *work.Work, userText string, nextTurn int) *Context {
	start := time.Now()
	schema := w.Schema()

	out := &Context{
		Work:          w,
		Session:       sess,
		Relationships: map[string]narrative.Relationship{},
		Levels:        map[string]narrative.LevelSpec{},
		Memories:      map[string][]narrative.MemoryRecord{},
		Facts:         map[string][]narrative.KnownFact{},
		Lore:          []narrative.LoreEntry{},
		History:       []narrative.Message{},
	}

	characterIDs := sess.PresentCharacters
	relationships := make([]*narrative.Relationship, len(characterIDs))
	facts := make([][]narrative.KnownFact, len(characterIDs))

	eg, egCtx := errgroup.WithContext(ctx)

	// ── recent transcript ────────────────────────────────────────────────────
	eg.Go(func() error {
		readCtx, cancel := context.WithTimeout(egCtx, a.readTimeout)
		defer cancel()
		history, err := a.sessions.RecentMessages(readCtx, sess.ID, a.historyLimit)
		if err != nil {
			a.log.Warn("history read failed, assembling without history",
				"session_id", sess.ID, "error", err)
			return nil
		}
		out.History = history
		return nil
	})

	// ── active scene ─────────────────────────────────────────────────────────
	eg.Go(func() error {
		readCtx, cancel := context.WithTimeout(egCtx, a.readTimeout)
		defer cancel()
		scene, err := a.scenes.ActiveScene(readCtx, sess.ID)
		if err != nil {
			a.log.Warn("scene read failed, assembling without scene",
				"session_id", sess.ID, "error", err)
			return nil
		}
		out.Scene = scene
		return nil
	})

	// ── session memory snapshot ──────────────────────────────────────────────
	eg.Go(func() error {
		out.Memories = a.memories.Ensure(egCtx, sess, nextTurn, userText)
		return nil
	})

	// ── per-character relationship + facts ───────────────────────────────────
	for i, characterID := range characterIDs {
		name := characterID
		if c := w.Character(characterID); c != nil {
			name = c.Name
		}
		eg.Go(func() error {
			readCtx, cancel := context.WithTimeout(egCtx, a.readTimeout)
			defer cancel()
			rel, err := a.relationships.GetOrCreate(readCtx, sess.ID, characterID, name, schema)
			if err != nil {
				a.log.Warn("relationship read failed, assembling without it",
					"session_id", sess.ID, "character_id", characterID, "error", err)
				return nil
			}
			relationships[i] = rel
			return nil
		})
		eg.Go(func() error {
			readCtx, cancel := context.WithTimeout(egCtx, a.readTimeout)
			defer cancel()
			known, err := a.facts.Facts(readCtx, sess.UserID, characterID)
			if err != nil {
				a.log.Warn("fact read failed, assembling without facts",
					"session_id", sess.ID, "character_id", characterID, "error", err)
				return nil
			}
			facts[i] = known
			return nil
		})
	}

	// Goroutines swallow their errors, so Wait only orders the writes.
	_ = eg.Wait()

	for i, characterID := range characterIDs {
		if relationships[i] != nil {
			out.Relationships[characterID] = *relationships[i]
			out.Levels[characterID] = schema.DeriveLevel(relationships[i].Axes)
		}
		if facts[i] != nil {
			out.Facts[characterID] = facts[i]
		} else {
			out.Facts[characterID] = []narrative.KnownFact{}
		}
	}

	// Lore gating is pure and runs after the fetches so the freshest history
	// feeds keyword matching.
	// The gate reads the turn being assembled, not the completed count, so a
	// minTurns threshold activates on the turn that reaches it.
	gate := lorebook.NewGate(w.Lorebook)
	out.Lore = gate.Active(loreText(out.History, userText), lorebook.SessionState{
		Intimacy:          sess.Intimacy,
		TurnCount:         nextTurn,
		PresentCharacters: characterIDs,
	})

	out.AssemblyDuration = time.Since(start)
	return out
}

// loreText joins the trailing history window and the new user message into
// the text lore keywords are matched against.
func loreText(history []narrative.Message, userText string) string {
	var b strings.Builder
	tail := history
	if len(tail) > loreTextWindow {
		tail = tail[len(tail)-loreTextWindow:]
	}
	for _, m := range tail {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(userText)
	return b.String()
}
