// Package mock provides in-memory test doubles for the narrative store
// interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// [RelationshipStore] and [MemoryIndex] additionally keep real in-memory
// state, because turn-level tests need the semantics (clamped deltas, level
// derivation, strength arithmetic) to actually hold across calls.
//
// Typical usage:
//
//	idx := &mock.MemoryIndex{}
//	idx.SearchResult = []narrative.MemoryResult{{Record: rec}}
//
//	// inject idx into the system under test …
//
//	if got := idx.CallCount("Search"); got != 1 {
//	    t.Errorf("expected 1 Search call, got %d", got)
//	}
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reveriehq/reverie/pkg/narrative"
)

// Compile-time interface checks.
var (
	_ narrative.SessionStore      = (*SessionStore)(nil)
	_ narrative.SceneStore        = (*SceneStore)(nil)
	_ narrative.RelationshipStore = (*RelationshipStore)(nil)
	_ narrative.MemoryIndex       = (*MemoryIndex)(nil)
	_ narrative.ArtifactStore     = (*ArtifactStore)(nil)
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder is the shared call log embedded in every mock.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// SessionStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SessionStore is a configurable test double for [narrative.SessionStore].
// It keeps created sessions in memory so GetSession returns what CreateSession
// and UpdateSession stored; appended messages and log lines are retained and
// served back by the Recent* methods.
type SessionStore struct {
	recorder

	mu       sync.Mutex
	sessions map[string]narrative.Session
	messages []narrative.Message
	log      []narrative.LogEntry

	// CreateSessionErr is returned by CreateSession when non-nil.
	CreateSessionErr error

	// GetSessionErr is returned by GetSession when non-nil.
	GetSessionErr error

	// UpdateSessionErr is returned by UpdateSession when non-nil.
	UpdateSessionErr error

	// AppendMessageErr is returned by AppendMessage when non-nil.
	AppendMessageErr error

	// RecentMessagesErr is returned by RecentMessages when non-nil.
	RecentMessagesErr error

	// AppendLogErr is returned by AppendLog when non-nil.
	AppendLogErr error

	// RecentLogErr is returned by RecentLog when non-nil.
	RecentLogErr error

	// RecentLogDelay, when positive, makes RecentLog sleep before answering
	// unless the context expires first. Used to exercise read timeouts.
	RecentLogDelay time.Duration
}

// CreateSession implements [narrative.SessionStore].
func (m *SessionStore) CreateSession(_ context.Context, s *narrative.Session) error {
	m.record("CreateSession", s.ID)
	if m.CreateSessionErr != nil {
		return m.CreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = map[string]narrative.Session{}
	}
	m.sessions[s.ID] = *s
	return nil
}

// GetSession implements [narrative.SessionStore].
func (m *SessionStore) GetSession(_ context.Context, id string) (*narrative.Session, error) {
	m.record("GetSession", id)
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	out := s
	return &out, nil
}

// UpdateSession implements [narrative.SessionStore].
func (m *SessionStore) UpdateSession(_ context.Context, s *narrative.Session) error {
	m.record("UpdateSession", s.ID)
	if m.UpdateSessionErr != nil {
		return m.UpdateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = map[string]narrative.Session{}
	}
	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("mock session store: session %q not found", s.ID)
	}
	m.sessions[s.ID] = *s
	return nil
}

// AppendMessage implements [narrative.SessionStore].
func (m *SessionStore) AppendMessage(_ context.Context, msg *narrative.Message) error {
	m.record("AppendMessage", msg.SessionID, msg.Content)
	if m.AppendMessageErr != nil {
		return m.AppendMessageErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

// RecentMessages implements [narrative.SessionStore].
func (m *SessionStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]narrative.Message, error) {
	m.record("RecentMessages", sessionID, limit)
	if m.RecentMessagesErr != nil {
		return nil, m.RecentMessagesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []narrative.Message{}
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AppendLog implements [narrative.SessionStore].
func (m *SessionStore) AppendLog(_ context.Context, e *narrative.LogEntry) error {
	m.record("AppendLog", e.SessionID, e.Content)
	if m.AppendLogErr != nil {
		return m.AppendLogErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, *e)
	return nil
}

// RecentLog implements [narrative.SessionStore].
func (m *SessionStore) RecentLog(ctx context.Context, sessionID string, limit int) ([]narrative.LogEntry, error) {
	m.record("RecentLog", sessionID, limit)
	if m.RecentLogDelay > 0 {
		select {
		case <-time.After(m.RecentLogDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.RecentLogErr != nil {
		return nil, m.RecentLogErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []narrative.LogEntry{}
	for _, e := range m.log {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Messages returns a copy of every appended message, for assertions.
func (m *SessionStore) Messages() []narrative.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]narrative.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// SceneStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SceneStore is a configurable test double for [narrative.SceneStore]. It
// keeps scenes in memory and honours the single-active-scene invariant.
type SceneStore struct {
	recorder

	mu     sync.Mutex
	scenes []narrative.Scene
	nextID int

	// StartSceneErr is returned by StartScene when non-nil.
	StartSceneErr error

	// ActiveSceneErr is returned by ActiveScene when non-nil.
	ActiveSceneErr error

	// MergeTopicsErr is returned by MergeTopics when non-nil.
	MergeTopicsErr error
}

// StartScene implements [narrative.SceneStore].
func (m *SceneStore) StartScene(_ context.Context, sessionID, location, timeLabel string, participants []string) (*narrative.Scene, error) {
	m.record("StartScene", sessionID, location, timeLabel, participants)
	if m.StartSceneErr != nil {
		return nil, m.StartSceneErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for i := range m.scenes {
		if m.scenes[i].SessionID == sessionID && m.scenes[i].Active() {
			m.scenes[i].ClosedAt = now
		}
	}
	m.nextID++
	scene := narrative.Scene{
		ID:           fmt.Sprintf("scene-%d", m.nextID),
		SessionID:    sessionID,
		Location:     location,
		TimeLabel:    timeLabel,
		Participants: append([]string{}, participants...),
		Topics:       []string{},
		CreatedAt:    now,
	}
	m.scenes = append(m.scenes, scene)
	out := scene
	return &out, nil
}

// ActiveScene implements [narrative.SceneStore].
func (m *SceneStore) ActiveScene(_ context.Context, sessionID string) (*narrative.Scene, error) {
	m.record("ActiveScene", sessionID)
	if m.ActiveSceneErr != nil {
		return nil, m.ActiveSceneErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scenes {
		if m.scenes[i].SessionID == sessionID && m.scenes[i].Active() {
			out := m.scenes[i]
			return &out, nil
		}
	}
	return nil, nil
}

// MergeTopics implements [narrative.SceneStore].
func (m *SceneStore) MergeTopics(_ context.Context, sceneID string, topics []string) error {
	m.record("MergeTopics", sceneID, topics)
	if m.MergeTopicsErr != nil {
		return m.MergeTopicsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scenes {
		if m.scenes[i].ID != sceneID {
			continue
		}
		seen := map[string]bool{}
		for _, t := range m.scenes[i].Topics {
			seen[t] = true
		}
		for _, t := range topics {
			if t != "" && !seen[t] {
				seen[t] = true
				m.scenes[i].Topics = append(m.scenes[i].Topics, t)
			}
		}
		return nil
	}
	return nil
}

// Scenes returns a copy of every stored scene, for assertions.
func (m *SceneStore) Scenes() []narrative.Scene {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]narrative.Scene, len(m.scenes))
	copy(out, m.scenes)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// RelationshipStore mock
// ─────────────────────────────────────────────────────────────────────────────

// RelationshipStore is a stateful test double for
// [narrative.RelationshipStore]. Deltas, level derivation, and emotional
// history trimming behave exactly as the real store, so multi-turn tests can
// assert on evolving relationship state.
type RelationshipStore struct {
	recorder

	mu   sync.Mutex
	rels map[string]*narrative.Relationship

	// GetOrCreateErr is returned by GetOrCreate when non-nil.
	GetOrCreateErr error

	// UpdateErr is returned by Update when non-nil.
	UpdateErr error

	// ListErr is returned by List when non-nil.
	ListErr error
}

func relKey(sessionID, characterID string) string {
	return sessionID + "\x00" + characterID
}

// GetOrCreate implements [narrative.RelationshipStore].
func (m *RelationshipStore) GetOrCreate(_ context.Context, sessionID, characterID, characterName string, schema *narrative.AffinitySchema) (*narrative.Relationship, error) {
	m.record("GetOrCreate", sessionID, characterID, characterName)
	if m.GetOrCreateErr != nil {
		return nil, m.GetOrCreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rels == nil {
		m.rels = map[string]*narrative.Relationship{}
	}
	key := relKey(sessionID, characterID)
	if rel, ok := m.rels[key]; ok {
		out := cloneRelationship(rel)
		return &out, nil
	}
	axes := schema.DefaultAxes()
	rel := &narrative.Relationship{
		SessionID:     sessionID,
		CharacterID:   characterID,
		CharacterName: characterName,
		Axes:          axes,
		Level:         schema.DeriveLevel(axes).Name,
		History:       []narrative.EmotionEvent{},
		UpdatedAt:     time.Now(),
	}
	m.rels[key] = rel
	out := cloneRelationship(rel)
	return &out, nil
}

// Update implements [narrative.RelationshipStore].
func (m *RelationshipStore) Update(_ context.Context, params narrative.UpdateRelationshipParams) (*narrative.Relationship, error) {
	m.record("Update", params.SessionID, params.CharacterID, params.Deltas, params.Emotion)
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, ok := m.rels[relKey(params.SessionID, params.CharacterID)]
	if !ok {
		return nil, fmt.Errorf("mock relationship store: relationship (%s, %s) not found", params.SessionID, params.CharacterID)
	}
	rel.Axes = narrative.ApplyDeltas(rel.Axes, params.Deltas)
	rel.Level = params.Schema.DeriveLevel(rel.Axes).Name
	if params.Emotion != "" {
		rel.History = append(rel.History, narrative.EmotionEvent{
			Emotion:   params.Emotion,
			Intensity: params.Intensity,
			Turn:      params.Turn,
			At:        time.Now(),
		})
		if n := len(rel.History) - narrative.EmotionHistoryLimit; n > 0 {
			rel.History = rel.History[n:]
		}
	}
	rel.UpdatedAt = time.Now()
	out := cloneRelationship(rel)
	return &out, nil
}

// List implements [narrative.RelationshipStore].
func (m *RelationshipStore) List(_ context.Context, sessionID string) ([]narrative.Relationship, error) {
	m.record("List", sessionID)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []narrative.Relationship{}
	for _, rel := range m.rels {
		if rel.SessionID == sessionID {
			out = append(out, cloneRelationship(rel))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CharacterID < out[j].CharacterID })
	return out, nil
}

func cloneRelationship(rel *narrative.Relationship) narrative.Relationship {
	out := *rel
	out.Axes = make(map[string]float64, len(rel.Axes))
	for k, v := range rel.Axes {
		out.Axes[k] = v
	}
	out.History = append([]narrative.EmotionEvent{}, rel.History...)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// MemoryIndex mock
// ─────────────────────────────────────────────────────────────────────────────

// MemoryIndex is a test double for [narrative.MemoryIndex]. Upserted records
// and added facts are kept in memory; Search returns SearchResult when set,
// otherwise the stored records for the queried (user, character) pair.
type MemoryIndex struct {
	recorder

	mu      sync.Mutex
	records map[string]*narrative.MemoryRecord
	facts   []narrative.KnownFact

	// UpsertErr is returned by Upsert when non-nil.
	UpsertErr error

	// SearchResult overrides the stored-record answer of Search when non-nil.
	SearchResult []narrative.MemoryResult

	// SearchErr is returned by Search when non-nil.
	SearchErr error

	// SearchDelay, when positive, makes Search sleep before answering unless
	// the context expires first. Used to exercise retrieval timeouts.
	SearchDelay time.Duration

	// ReinforceErr is returned by Reinforce when non-nil.
	ReinforceErr error

	// DecayErr is returned by Decay when non-nil.
	DecayErr error

	// PruneWeakErr is returned by PruneWeak when non-nil.
	PruneWeakErr error

	// TrimErr is returned by TrimToStrongest when non-nil.
	TrimErr error

	// AddFactErr is returned by AddFact when non-nil.
	AddFactErr error

	// FactsErr is returned by Facts when non-nil.
	FactsErr error
}

// Upsert implements [narrative.MemoryIndex].
func (m *MemoryIndex) Upsert(_ context.Context, rec *narrative.MemoryRecord) error {
	m.record("Upsert", rec.ID, rec.Content)
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = map[string]*narrative.MemoryRecord{}
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

// Search implements [narrative.MemoryIndex].
func (m *MemoryIndex) Search(ctx context.Context, embedding []float32, q narrative.MemoryQuery) ([]narrative.MemoryResult, error) {
	m.record("Search", embedding, q)
	if m.SearchDelay > 0 {
		select {
		case <-time.After(m.SearchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult != nil {
		out := make([]narrative.MemoryResult, len(m.SearchResult))
		copy(out, m.SearchResult)
		return out, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []narrative.MemoryResult{}
	for _, rec := range m.records {
		if rec.UserID != q.UserID || rec.CharacterID != q.CharacterID {
			continue
		}
		if q.MinStrength > 0 && rec.Strength < q.MinStrength {
			continue
		}
		out = append(out, narrative.MemoryResult{Record: *rec})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.LastReinforced.After(out[j].Record.LastReinforced)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Reinforce implements [narrative.MemoryIndex].
func (m *MemoryIndex) Reinforce(_ context.Context, id string, at time.Time) error {
	m.record("Reinforce", id, at)
	if m.ReinforceErr != nil {
		return m.ReinforceErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		rec.Strength = rec.Strength + (1-rec.Strength)/2
		rec.LastReinforced = at
	}
	return nil
}

// Decay implements [narrative.MemoryIndex].
func (m *MemoryIndex) Decay(_ context.Context, userID string, characterIDs []string, factor float64) (int64, error) {
	m.record("Decay", userID, characterIDs, factor)
	if m.DecayErr != nil {
		return 0, m.DecayErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.records {
		if rec.UserID == userID && containsString(characterIDs, rec.CharacterID) {
			rec.Strength *= factor
			n++
		}
	}
	return n, nil
}

// PruneWeak implements [narrative.MemoryIndex].
func (m *MemoryIndex) PruneWeak(_ context.Context, userID string, characterIDs []string, minStrength float64) (int64, error) {
	m.record("PruneWeak", userID, characterIDs, minStrength)
	if m.PruneWeakErr != nil {
		return 0, m.PruneWeakErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.UserID == userID && containsString(characterIDs, rec.CharacterID) && rec.Strength < minStrength {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// TrimToStrongest implements [narrative.MemoryIndex].
func (m *MemoryIndex) TrimToStrongest(_ context.Context, userID, characterID string, maxCount int) (int64, error) {
	m.record("TrimToStrongest", userID, characterID, maxCount)
	if m.TrimErr != nil {
		return 0, m.TrimErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	owned := []*narrative.MemoryRecord{}
	for _, rec := range m.records {
		if rec.UserID == userID && rec.CharacterID == characterID {
			owned = append(owned, rec)
		}
	}
	if len(owned) <= maxCount {
		return 0, nil
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].Strength != owned[j].Strength {
			return owned[i].Strength > owned[j].Strength
		}
		return owned[i].LastReinforced.After(owned[j].LastReinforced)
	})
	var n int64
	for _, rec := range owned[maxCount:] {
		delete(m.records, rec.ID)
		n++
	}
	return n, nil
}

// AddFact implements [narrative.MemoryIndex].
func (m *MemoryIndex) AddFact(_ context.Context, f *narrative.KnownFact) error {
	m.record("AddFact", f.UserID, f.CharacterID, f.Content)
	if m.AddFactErr != nil {
		return m.AddFactErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = append(m.facts, *f)
	return nil
}

// Facts implements [narrative.MemoryIndex].
func (m *MemoryIndex) Facts(_ context.Context, userID, characterID string) ([]narrative.KnownFact, error) {
	m.record("Facts", userID, characterID)
	if m.FactsErr != nil {
		return nil, m.FactsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []narrative.KnownFact{}
	for _, f := range m.facts {
		if f.UserID == userID && f.CharacterID == characterID {
			out = append(out, f)
		}
	}
	return out, nil
}

// Records returns a copy of every stored memory record, for assertions.
func (m *MemoryIndex) Records() []narrative.MemoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []narrative.MemoryRecord{}
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// ArtifactStore mock
// ─────────────────────────────────────────────────────────────────────────────

// ArtifactStore is a configurable test double for [narrative.ArtifactStore].
type ArtifactStore struct {
	recorder

	// SweepExpiredResult is returned by SweepExpired.
	SweepExpiredResult int64

	// SweepExpiredErr is returned by SweepExpired when non-nil.
	SweepExpiredErr error
}

// SweepExpired implements [narrative.ArtifactStore].
func (m *ArtifactStore) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	m.record("SweepExpired", now)
	return m.SweepExpiredResult, m.SweepExpiredErr
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
