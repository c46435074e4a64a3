// Package turn runs the per-turn state machine of the roleplay engine.
//
// A turn moves through Idle → UserMessagePersisted → ContextAssembling →
// Generating → ResultsPersisting → Streaming → Done, with Error reachable
// from any step after the user message is persisted. Synchronous work ends
// when the turn's messages, relationship deltas and scene/session updates are
// written; memory consolidation and the maintenance cadences run afterwards
// as supervised background tasks whose failures are logged, never surfaced.
//
// Turns on the same session are serialised; turns on different sessions are
// fully independent.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reveriehq/reverie/internal/assembler"
	"github.com/reveriehq/reverie/internal/maintenance"
	"github.com/reveriehq/reverie/internal/memcache"
	"github.com/reveriehq/reverie/internal/observe"
	"github.com/reveriehq/reverie/internal/recall"
	"github.com/reveriehq/reverie/internal/relationship"
	"github.com/reveriehq/reverie/internal/task"
	"github.com/reveriehq/reverie/internal/work"
	"github.com/reveriehq/reverie/pkg/narrative"
	"github.com/reveriehq/reverie/pkg/provider/generate"
)

const (
	// defaultGenerateTimeout bounds the generation call.
	defaultGenerateTimeout = 60 * time.Second

	// defaultContextBudget is the rune budget for the assembled context
	// document.
	defaultContextBudget = 12000

	// preloadTimeout bounds the best-effort memory preload at session
	// creation.
	preloadTimeout = 3 * time.Second

	// snapshotMessageLimit caps the transcript returned by [Orchestrator.Snapshot].
	snapshotMessageLimit = 200
)

// GenerationErrorText is the user-visible message for a generation failure.
// Internal error detail stays in the logs.
const GenerationErrorText = "AI service connection problem"

// persistenceErrorText is the user-visible message for a storage failure on
// the turn's write path.
const persistenceErrorText = "Could not save this turn. Please try again."

// Orchestrator errors surfaced to the transport layer before any event is
// streamed.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrWorkNotFound    = errors.New("work not found")
	ErrEmptyMessage    = errors.New("empty user message")
)

// State names one step of the turn state machine.
type State int

const (
	StateIdle State = iota
	StateUserMessagePersisted
	StateContextAssembling
	StateGenerating
	StateResultsPersisting
	StateStreaming
	StateDone
	StateError
)

// String returns the lower-snake name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserMessagePersisted:
		return "user_message_persisted"
	case StateContextAssembling:
		return "context_assembling"
	case StateGenerating:
		return "generating"
	case StateResultsPersisting:
		return "results_persisting"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Emitter receives turn stream events in order. A non-nil return abandons the
// stream (the client is gone); already-launched background work still runs.
type Emitter func(Event) error

// Orchestrator coordinates one turn end to end.
type Orchestrator struct {
	sessions      narrative.SessionStore
	scenes        narrative.SceneStore
	relationships narrative.RelationshipStore
	memories      *memcache.Cache
	assembler     *assembler.Assembler
	generator     generate.Service
	consolidator  *recall.Consolidator
	scheduler     *maintenance.Scheduler
	runner        *task.Runner
	works         *work.Library
	metrics       *observe.Metrics
	log           *slog.Logger
	contextBudget int
	genTimeout    time.Duration

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	aliasMu sync.Mutex
	aliases map[string]*relationship.AliasTable
}

// Config configures an [Orchestrator]. All collaborator fields are required
// unless noted.
type Config struct {
	// Sessions persists sessions, messages and the raw log.
	Sessions narrative.SessionStore

	// Scenes persists scenes.
	Scenes narrative.SceneStore

	// Relationships persists relationship state.
	Relationships narrative.RelationshipStore

	// Memories maintains the session memory snapshot (used for the creation
	// preload; per-turn retrieval goes through Assembler).
	Memories *memcache.Cache

	// Assembler gathers and formats the turn context.
	Assembler *assembler.Assembler

	// Generator is the narrative generation backend, usually wrapped in a
	// resilience fallback group.
	Generator generate.Service

	// Consolidator applies the post-turn memory novelty gate.
	Consolidator *recall.Consolidator

	// Scheduler runs the turn-cadenced maintenance jobs.
	Scheduler *maintenance.Scheduler

	// Runner supervises background tasks.
	Runner *task.Runner

	// Works is the library of loaded works.
	Works *work.Library

	// Metrics receives per-turn instrumentation. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger receives turn logs. Defaults to [slog.Default].
	Logger *slog.Logger

	// ContextBudget is the rune budget for the assembled context document.
	// Defaults to 12000; negative disables truncation.
	ContextBudget int

	// GenerateTimeout bounds the generation call. Defaults to 60 seconds.
	GenerateTimeout time.Duration
}

// New creates an [Orchestrator] with the given configuration.
func New(cfg Config) *Orchestrator {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	budget := cfg.ContextBudget
	if budget == 0 {
		budget = defaultContextBudget
	}
	timeout := cfg.GenerateTimeout
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &Orchestrator{
		sessions:      cfg.Sessions,
		scenes:        cfg.Scenes,
		relationships: cfg.Relationships,
		memories:      cfg.Memories,
		assembler:     cfg.Assembler,
		generator:     cfg.Generator,
		consolidator:  cfg.Consolidator,
		scheduler:     cfg.Scheduler,
		runner:        cfg.Runner,
		works:         cfg.Works,
		metrics:       metrics,
		log:           log,
		contextBudget: budget,
		genTimeout:    timeout,
		locks:         map[string]*sync.Mutex{},
		aliases:       map[string]*relationship.AliasTable{},
	}
}

// sessionLock returns the mutex serialising turns for one session.
func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	mu, ok := o.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[sessionID] = mu
	}
	return mu
}

// aliasTable returns the work's alias table, building it on first use.
func (o *Orchestrator) aliasTable(w *work.Work) *relationship.AliasTable {
	o.aliasMu.Lock()
	defer o.aliasMu.Unlock()
	t, ok := o.aliases[w.ID]
	if !ok {
		t = relationship.NewAliasTable(w.Characters)
		o.aliases[w.ID] = t
	}
	return t
}

// CreateParams are the inputs to [Orchestrator.CreateSession].
type CreateParams struct {
	WorkID    string
	UserID    string
	PersonaID string
}

// CreateSession initialises a new session for a work: the session row, the
// opening scene, a relationship per initially present character, the opening
// narration, and a best-effort timeout-bounded memory preload.
func (o *Orchestrator) CreateSession(ctx context.Context, params CreateParams) (*narrative.Session, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("turn: create session: user id is required")
	}
	w := o.works.Get(params.WorkID)
	if w == nil {
		return nil, fmt.Errorf("turn: create session: %w: %q", ErrWorkNotFound, params.WorkID)
	}
	if params.PersonaID != "" && w.Persona(params.PersonaID) == nil {
		return nil, fmt.Errorf("turn: create session: work %q has no persona %q", params.WorkID, params.PersonaID)
	}

	now := time.Now().UTC()
	sess := &narrative.Session{
		ID:                uuid.NewString(),
		WorkID:            w.ID,
		UserID:            params.UserID,
		PersonaID:         params.PersonaID,
		Location:          w.Opening.Location,
		TimeOfDay:         w.Opening.TimeOfDay,
		PresentCharacters: w.InitialCharacterIDs(),
		RecentEvents:      []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("turn: create session: %w", err)
	}

	scene, err := o.scenes.StartScene(ctx, sess.ID, sess.Location, sess.TimeOfDay, sess.PresentCharacters)
	if err != nil {
		return nil, fmt.Errorf("turn: open initial scene: %w", err)
	}

	schema := w.Schema()
	for _, characterID := range sess.PresentCharacters {
		name := characterID
		if c := w.Character(characterID); c != nil {
			name = c.Name
		}
		if _, err := o.relationships.GetOrCreate(ctx, sess.ID, characterID, name, schema); err != nil {
			o.log.Warn("initial relationship creation failed, will be created lazily",
				"session_id", sess.ID, "character_id", characterID, "error", err)
		}
	}

	if w.Opening.Narration != "" {
		msg := &narrative.Message{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			SpeakerType: narrative.SpeakerNarrator,
			SpeakerName: "Narrator",
			Content:     w.Opening.Narration,
			SceneID:     scene.ID,
			CreatedAt:   now,
		}
		if err := o.sessions.AppendMessage(ctx, msg); err != nil {
			o.log.Warn("opening narration persistence failed",
				"session_id", sess.ID, "error", err)
		}
		o.appendLog(ctx, sess.ID, scene.ID, narrative.SpeakerNarrator, "Narrator", w.Opening.Narration, "", 0)
	}

	// Best-effort preload; a timeout here costs one cold retrieval later.
	preloadCtx, cancel := context.WithTimeout(ctx, preloadTimeout)
	defer cancel()
	o.memories.Ensure(preloadCtx, sess, 0, w.Opening.Narration)
	if sess.MemoryCache != nil {
		if err := o.sessions.UpdateSession(ctx, sess); err != nil {
			o.log.Warn("memory preload writeback failed",
				"session_id", sess.ID, "error", err)
		}
	}

	o.log.Info("session created",
		"session_id", sess.ID,
		"work_id", w.ID,
		"user_id", params.UserID,
		"characters", len(sess.PresentCharacters),
	)
	return sess, nil
}

// Snapshot returns the session and its recent transcript for resume.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (*narrative.Session, []narrative.Message, error) {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("turn: load session: %w", err)
	}
	if sess == nil {
		return nil, nil, fmt.Errorf("turn: %w: %q", ErrSessionNotFound, sessionID)
	}
	messages, err := o.sessions.RecentMessages(ctx, sessionID, snapshotMessageLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("turn: load transcript: %w", err)
	}
	return sess, messages, nil
}

// SendTurn runs one full turn for the session and streams its events through
// emit. Validation and lookup failures are returned as errors before any
// event is emitted; failures after that point terminate the stream with an
// error event and a nil return. A non-nil return from emit abandons the
// stream.
func (o *Orchestrator) SendTurn(ctx context.Context, sessionID, userText string, emit Emitter) error {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return fmt.Errorf("turn: %w", ErrEmptyMessage)
	}

	// One turn at a time per session; a queued turn waits only for the prior
	// turn's synchronous work, never its background maintenance.
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("turn: load session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("turn: %w: %q", ErrSessionNotFound, sessionID)
	}
	w := o.works.Get(sess.WorkID)
	if w == nil {
		return fmt.Errorf("turn: %w: %q", ErrWorkNotFound, sess.WorkID)
	}

	o.metrics.ActiveSessions.Add(ctx, 1)
	defer o.metrics.ActiveSessions.Add(ctx, -1)

	start := time.Now()
	state := StateIdle
	advance := func(next State) {
		state = next
		o.log.Debug("turn state", "session_id", sessionID, "state", state.String())
	}

	nextTurn := sess.TurnCount + 1
	userName := "You"
	if p := w.Persona(sess.PersonaID); p != nil {
		userName = p.Name
	}

	userMsg := &narrative.Message{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		SpeakerType: narrative.SpeakerUser,
		SpeakerName: userName,
		Content:     userText,
		Turn:        nextTurn,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.sessions.AppendMessage(ctx, userMsg); err != nil {
		// Nothing streamed yet and nothing committed; the session stays
		// resumable once storage recovers.
		return fmt.Errorf("turn: persist user message: %w", err)
	}
	o.appendLog(ctx, sess.ID, "", narrative.SpeakerUser, userName, userText, "", nextTurn)
	advance(StateUserMessagePersisted)

	if err := emit(Event{Type: EventUserMessage, Message: messagePayload(userMsg)}); err != nil {
		return err
	}
	if err := emit(Event{Type: EventStatus, Stage: StateGenerating.String()}); err != nil {
		return err
	}

	// ── context assembly ─────────────────────────────────────────────────────
	advance(StateContextAssembling)
	actx := o.assembler.Assemble(ctx, sess, w, userText, nextTurn)
	doc := assembler.Format(actx, o.contextBudget)
	o.metrics.AssemblyDuration.Record(ctx, actx.AssemblyDuration.Seconds())

	req := o.buildRequest(w, sess, actx, doc, userText)

	// ── generation ───────────────────────────────────────────────────────────
	advance(StateGenerating)
	genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()
	genStart := time.Now()
	res, err := o.generator.Generate(genCtx, req)
	o.metrics.GenerationDuration.Record(ctx, time.Since(genStart).Seconds())
	if err != nil {
		o.log.Error("generation failed",
			"session_id", sess.ID, "turn", nextTurn, "error", err)
		o.metrics.GenerationErrors.Add(ctx, 1)
		o.metrics.RecordTurn(ctx, time.Since(start).Seconds(), "error")
		advance(StateError)
		return emit(Event{Type: EventError, Error: GenerationErrorText})
	}

	// ── synchronous persistence ──────────────────────────────────────────────
	advance(StateResultsPersisting)
	sceneID := ""
	if actx.Scene != nil {
		sceneID = actx.Scene.ID
	}
	aliases := o.aliasTable(w)
	schema := w.Schema()

	fail := func(err error, what string) error {
		o.log.Error("turn persistence failed",
			"session_id", sess.ID, "turn", nextTurn, "step", what, "error", err)
		o.metrics.RecordTurn(ctx, time.Since(start).Seconds(), "error")
		advance(StateError)
		return emit(Event{Type: EventError, Error: persistenceErrorText})
	}

	var narratorMsg *narrative.Message
	if res.NarratorNote != "" {
		narratorMsg = &narrative.Message{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			SpeakerType: narrative.SpeakerNarrator,
			SpeakerName: "Narrator",
			Content:     res.NarratorNote,
			SceneID:     sceneID,
			Turn:        nextTurn,
			CreatedAt:   time.Now().UTC(),
		}
		if err := o.sessions.AppendMessage(ctx, narratorMsg); err != nil {
			return fail(err, "narrator message")
		}
		o.appendLog(ctx, sess.ID, sceneID, narrative.SpeakerNarrator, "Narrator", res.NarratorNote, "", nextTurn)
	}

	updatedRels := map[string]narrative.Relationship{}
	characterMsgs := make([]*narrative.Message, 0, len(res.Replies))
	for _, reply := range res.Replies {
		characterID, speakerName, resolved := o.resolveSpeaker(w, aliases, reply)
		msg := &narrative.Message{
			ID:          uuid.NewString(),
			SessionID:   sess.ID,
			SpeakerType: narrative.SpeakerCharacter,
			SpeakerID:   characterID,
			SpeakerName: speakerName,
			Content:     reply.Content,
			Emotion:     reply.Emotion,
			SceneID:     sceneID,
			Turn:        nextTurn,
			CreatedAt:   time.Now().UTC(),
		}
		if err := o.sessions.AppendMessage(ctx, msg); err != nil {
			return fail(err, "character message")
		}
		o.appendLog(ctx, sess.ID, sceneID, narrative.SpeakerCharacter, speakerName, reply.Content, reply.Emotion, nextTurn)
		characterMsgs = append(characterMsgs, msg)

		if !resolved || (len(reply.AxisDeltas) == 0 && reply.Emotion == "") {
			continue
		}
		rel, err := o.relationships.Update(ctx, narrative.UpdateRelationshipParams{
			SessionID:   sess.ID,
			CharacterID: characterID,
			SceneID:     sceneID,
			Deltas:      reply.AxisDeltas,
			Emotion:     reply.Emotion,
			Intensity:   reply.Intensity,
			Turn:        nextTurn,
			Schema:      schema,
		})
		if err != nil {
			o.log.Warn("relationship update failed, state unchanged this turn",
				"session_id", sess.ID, "character_id", characterID, "error", err)
			continue
		}
		updatedRels[characterID] = *rel
	}

	o.applySceneUpdate(ctx, sess, aliases, res.Scene, sceneID)

	sess.TurnCount = nextTurn
	sess.UpdatedAt = time.Now().UTC()
	if err := o.sessions.UpdateSession(ctx, sess); err != nil {
		return fail(err, "session update")
	}

	// ── background maintenance ───────────────────────────────────────────────
	responded := make([]string, 0, len(characterMsgs))
	seen := map[string]bool{}
	for _, msg := range characterMsgs {
		if msg.SpeakerID != "" && !seen[msg.SpeakerID] {
			seen[msg.SpeakerID] = true
			responded = append(responded, msg.SpeakerID)
		}
	}
	o.scheduleBackground(*sess, res, responded)

	// ── streaming ────────────────────────────────────────────────────────────
	advance(StateStreaming)
	if narratorMsg != nil {
		if err := emit(Event{Type: EventNarrator, Message: messagePayload(narratorMsg)}); err != nil {
			return err
		}
	}
	for _, msg := range characterMsgs {
		if err := emit(Event{Type: EventCharacterResponse, Message: messagePayload(msg)}); err != nil {
			return err
		}
		o.metrics.RecordCharacterResponse(ctx, msg.SpeakerID)
	}

	rels := map[string]narrative.Relationship{}
	for id, rel := range actx.Relationships {
		rels[id] = rel
	}
	for id, rel := range updatedRels {
		rels[id] = rel
	}
	if err := emit(Event{Type: EventSessionUpdate, Session: sessionPayload(sess, rels)}); err != nil {
		return err
	}
	if err := emit(Event{Type: EventDone}); err != nil {
		return err
	}
	advance(StateDone)
	o.metrics.RecordTurn(ctx, time.Since(start).Seconds(), "ok")
	return nil
}

// buildRequest assembles the generation request from the gathered context.
func (o *Orchestrator) buildRequest(w *work.Work, sess *narrative.Session, actx *assembler.Context, doc, userText string) generate.Request {
	characters := make([]generate.CharacterContext, 0, len(sess.PresentCharacters))
	for _, characterID := range sess.PresentCharacters {
		name := characterID
		if c := w.Character(characterID); c != nil {
			name = c.Name
		}
		characters = append(characters, generate.CharacterContext{ID: characterID, Name: name})
	}

	persona := ""
	if p := w.Persona(sess.PersonaID); p != nil {
		persona = p.Name + ": " + p.Description
	}

	scene := generate.SceneState{
		Location:     sess.Location,
		TimeOfDay:    sess.TimeOfDay,
		Participants: sess.PresentCharacters,
	}
	if actx.Scene != nil {
		scene.Location = actx.Scene.Location
		scene.TimeOfDay = actx.Scene.TimeLabel
		scene.Participants = actx.Scene.Participants
	}

	return generate.Request{
		UserInput:         userText,
		Persona:           persona,
		Context:           doc,
		Characters:        characters,
		History:           actx.History,
		Scene:             scene,
		PreviouslyPresent: sess.PresentCharacters,
	}
}

// resolveSpeaker maps a model-supplied speaker onto a canonical character.
// Falls back to the reply's own naming when nothing resolves.
func (o *Orchestrator) resolveSpeaker(w *work.Work, aliases *relationship.AliasTable, reply generate.Reply) (characterID, speakerName string, resolved bool) {
	id, ok := aliases.Resolve(reply.CharacterID)
	if !ok {
		id, ok = aliases.Resolve(reply.CharacterName)
	}
	if !ok {
		o.log.Warn("unrecognised speaker in generation result",
			"character_id", reply.CharacterID, "character_name", reply.CharacterName)
		return reply.CharacterID, reply.CharacterName, false
	}
	name := reply.CharacterName
	if c := w.Character(id); c != nil {
		name = c.Name
	}
	return id, name, true
}

// applySceneUpdate applies the model's scene decision onto the store and the
// in-memory session. Scene write failures degrade to the old scene state.
func (o *Orchestrator) applySceneUpdate(ctx context.Context, sess *narrative.Session, aliases *relationship.AliasTable, update *generate.SceneUpdate, sceneID string) {
	if update == nil {
		return
	}

	if update.Present != nil {
		present := make([]string, 0, len(update.Present))
		for _, name := range update.Present {
			if id, ok := aliases.Resolve(name); ok {
				present = append(present, id)
			}
		}
		if len(present) > 0 {
			sess.PresentCharacters = present
		}
	}

	locationChanged := update.Location != "" && update.Location != sess.Location
	timeChanged := update.TimeOfDay != "" && update.TimeOfDay != sess.TimeOfDay
	if locationChanged || timeChanged {
		if update.Location != "" {
			sess.Location = update.Location
		}
		if update.TimeOfDay != "" {
			sess.TimeOfDay = update.TimeOfDay
		}
		scene, err := o.scenes.StartScene(ctx, sess.ID, sess.Location, sess.TimeOfDay, sess.PresentCharacters)
		if err != nil {
			o.log.Warn("scene transition failed, keeping prior scene",
				"session_id", sess.ID, "error", err)
		} else {
			sceneID = scene.ID
		}
	}

	if len(update.Topics) > 0 && sceneID != "" {
		if err := o.scenes.MergeTopics(ctx, sceneID, update.Topics); err != nil {
			o.log.Warn("topic merge failed",
				"session_id", sess.ID, "scene_id", sceneID, "error", err)
		}
	}

	if update.EventSummary != "" {
		sess.RecentEvents = append(sess.RecentEvents, update.EventSummary)
		if len(sess.RecentEvents) > narrative.RecentEventLimit {
			sess.RecentEvents = sess.RecentEvents[len(sess.RecentEvents)-narrative.RecentEventLimit:]
		}
	}
}

// scheduleBackground fires the post-turn consolidation and maintenance jobs.
// responded lists the characters that spoke this turn, scoping the trim
// cadence. Job failures are logged by the runner and never reach the turn.
func (o *Orchestrator) scheduleBackground(sess narrative.Session, res *generate.Result, responded []string) {
	if len(res.Memories) > 0 || len(res.Facts) > 0 {
		memories, facts := res.Memories, res.Facts
		o.runner.Go("memory-consolidation", func(ctx context.Context) error {
			out, err := o.consolidator.Consolidate(ctx, sess.UserID, sess.TurnCount, memories, facts)
			if err != nil {
				return err
			}
			o.metrics.RecordConsolidation(ctx, out.Saved, out.Reinforced, out.Skipped)
			o.log.Debug("memory consolidation finished",
				"session_id", sess.ID,
				"saved", out.Saved,
				"reinforced", out.Reinforced,
				"skipped", out.Skipped,
				"facts", out.Facts,
			)
			return nil
		})
	}
	o.scheduler.AfterTurn(sess, responded)
}

// appendLog writes one raw conversation log line, degrading on failure. The
// raw log only feeds summarisation and novelty scoring.
func (o *Orchestrator) appendLog(ctx context.Context, sessionID, sceneID string, speaker narrative.SpeakerType, name, content, emotion string, turn int) {
	entry := &narrative.LogEntry{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		SceneID:     sceneID,
		SpeakerType: speaker,
		SpeakerName: name,
		Content:     content,
		Emotion:     emotion,
		Turn:        turn,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.sessions.AppendLog(ctx, entry); err != nil {
		o.log.Warn("conversation log append failed",
			"session_id", sessionID, "error", err)
	}
}
