package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/reveriehq/reverie/internal/health"
	"github.com/reveriehq/reverie/internal/server"
	"github.com/reveriehq/reverie/internal/turn"
	"github.com/reveriehq/reverie/pkg/narrative"
)

// mockEngine is a call-recording Engine double with error knobs.
type mockEngine struct {
	mu sync.Mutex

	Sessions map[string]*narrative.Session
	Messages map[string][]narrative.Message

	CreateErr  error
	TurnEvents []turn.Event
	TurnErr    error

	CreateCalls []turn.CreateParams
	TurnCalls   []string
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		Sessions: map[string]*narrative.Session{},
		Messages: map[string][]narrative.Message{},
	}
}

func (m *mockEngine) CreateSession(_ context.Context, params turn.CreateParams) (*narrative.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = append(m.CreateCalls, params)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	sess := &narrative.Session{
		ID:                "sess-1",
		WorkID:            params.WorkID,
		UserID:            params.UserID,
		PersonaID:         params.PersonaID,
		Location:          "lamp room",
		TimeOfDay:         "dusk",
		PresentCharacters: []string{"mira"},
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	m.Sessions[sess.ID] = sess
	return sess, nil
}

func (m *mockEngine) Snapshot(_ context.Context, sessionID string) (*narrative.Session, []narrative.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.Sessions[sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("turn: %w: %q", turn.ErrSessionNotFound, sessionID)
	}
	return sess, m.Messages[sessionID], nil
}

func (m *mockEngine) SendTurn(_ context.Context, sessionID, userText string, emit turn.Emitter) error {
	m.mu.Lock()
	m.TurnCalls = append(m.TurnCalls, userText)
	events := m.TurnEvents
	err := m.TurnErr
	_, known := m.Sessions[sessionID]
	m.mu.Unlock()

	if strings.TrimSpace(userText) == "" {
		return fmt.Errorf("turn: %w", turn.ErrEmptyMessage)
	}
	if !known {
		return fmt.Errorf("turn: %w: %q", turn.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// fixture bundles a test server around a mock engine.
type fixture struct {
	engine *mockEngine
	ts     *httptest.Server
}

func newFixture(t *testing.T, checkers ...health.Checker) *fixture {
	t.Helper()
	engine := newMockEngine()
	srv := server.New(server.Config{
		Engine:   engine,
		Checkers: checkers,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{engine: engine, ts: ts}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// ─── Session endpoints ───────────────────────────────────────────────────────

func TestCreateSession(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/sessions", map[string]string{
		"work_id": "lighthouse-keepers",
		"user_id": "user-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	body := decodeBody[map[string]any](t, resp)
	if body["id"] != "sess-1" {
		t.Errorf("id = %v, want sess-1", body["id"])
	}
	if body["work_id"] != "lighthouse-keepers" {
		t.Errorf("work_id = %v", body["work_id"])
	}
	if body["location"] != "lamp room" {
		t.Errorf("location = %v", body["location"])
	}

	if len(f.engine.CreateCalls) != 1 {
		t.Fatalf("CreateSession calls = %d, want 1", len(f.engine.CreateCalls))
	}
	if got := f.engine.CreateCalls[0].WorkID; got != "lighthouse-keepers" {
		t.Errorf("WorkID = %q", got)
	}
}

func TestCreateSession_UnknownWork(t *testing.T) {
	f := newFixture(t)
	f.engine.CreateErr = fmt.Errorf("turn: %w: %q", turn.ErrWorkNotFound, "nope")

	resp := f.postJSON(t, "/api/sessions", map[string]string{"work_id": "nope", "user_id": "u"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestCreateSession_InvalidBody(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.ts.URL+"/api/sessions", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.engine.Sessions["sess-1"] = &narrative.Session{
		ID: "sess-1", WorkID: "w", TurnCount: 3,
		PresentCharacters: []string{"mira"},
	}
	f.engine.Messages["sess-1"] = []narrative.Message{
		{ID: "m1", SpeakerType: narrative.SpeakerUser, SpeakerName: "You", Content: "hello", Turn: 1},
		{ID: "m2", SpeakerType: narrative.SpeakerCharacter, SpeakerID: "mira", SpeakerName: "Mira", Content: "hi", Turn: 1},
	}

	resp := f.get(t, "/api/sessions/sess-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	type snapshot struct {
		Session struct {
			ID        string `json:"id"`
			TurnCount int    `json:"turn_count"`
		} `json:"session"`
		Messages []struct {
			ID          string `json:"id"`
			SpeakerName string `json:"speaker_name"`
		} `json:"messages"`
	}
	body := decodeBody[snapshot](t, resp)
	if body.Session.ID != "sess-1" || body.Session.TurnCount != 3 {
		t.Errorf("session = %+v", body.Session)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(body.Messages))
	}
	if body.Messages[1].SpeakerName != "Mira" {
		t.Errorf("second speaker = %q", body.Messages[1].SpeakerName)
	}
}

func TestSnapshot_NotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/sessions/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// ─── Probes and metrics ──────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestReadyz_FailingChecker(t *testing.T) {
	f := newFixture(t, health.Checker{
		Name:  "database",
		Check: func(context.Context) error { return errors.New("connection refused") },
	})

	resp := f.get(t, "/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "fail" {
		t.Errorf("status field = %v, want fail", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// ─── WebSocket turn stream ───────────────────────────────────────────────────

func dialStream(t *testing.T, f *fixture, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/sessions/" + sessionID + "/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) turn.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ev turn.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func sendTurn(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, map[string]string{"message": message}); err != nil {
		t.Fatalf("write turn request: %v", err)
	}
}

func TestStream_EventOrdering(t *testing.T) {
	f := newFixture(t)
	f.engine.Sessions["sess-1"] = &narrative.Session{ID: "sess-1", WorkID: "w"}
	f.engine.TurnEvents = []turn.Event{
		{Type: turn.EventUserMessage, Message: &turn.MessagePayload{Content: "hello", Turn: 1}},
		{Type: turn.EventStatus, Stage: "generating"},
		{Type: turn.EventCharacterResponse, Message: &turn.MessagePayload{SpeakerID: "mira", Content: "hi", Turn: 1}},
		{Type: turn.EventSessionUpdate, Session: &turn.SessionPayload{ID: "sess-1", TurnCount: 1}},
		{Type: turn.EventDone},
	}

	conn := dialStream(t, f, "sess-1")
	sendTurn(t, conn, "hello")

	want := []turn.EventType{
		turn.EventUserMessage,
		turn.EventStatus,
		turn.EventCharacterResponse,
		turn.EventSessionUpdate,
		turn.EventDone,
	}
	for i, wantType := range want {
		ev := readEvent(t, conn)
		if ev.Type != wantType {
			t.Fatalf("event %d type = %q, want %q", i, ev.Type, wantType)
		}
	}

	if len(f.engine.TurnCalls) != 1 || f.engine.TurnCalls[0] != "hello" {
		t.Errorf("TurnCalls = %v", f.engine.TurnCalls)
	}
}

func TestStream_EmptyMessageKeepsConnection(t *testing.T) {
	f := newFixture(t)
	f.engine.Sessions["sess-1"] = &narrative.Session{ID: "sess-1", WorkID: "w"}
	f.engine.TurnEvents = []turn.Event{{Type: turn.EventDone}}

	conn := dialStream(t, f, "sess-1")

	sendTurn(t, conn, "   ")
	ev := readEvent(t, conn)
	if ev.Type != turn.EventError {
		t.Fatalf("event type = %q, want %q", ev.Type, turn.EventError)
	}
	if ev.Error == "" {
		t.Error("error event has no message")
	}

	// The connection survives a validation failure.
	sendTurn(t, conn, "still here")
	ev = readEvent(t, conn)
	if ev.Type != turn.EventDone {
		t.Fatalf("event type after retry = %q, want %q", ev.Type, turn.EventDone)
	}
}

func TestStream_UnknownSessionRejectedBeforeUpgrade(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/sessions/missing/stream"
	conn, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		conn.CloseNow()
		t.Fatal("dial succeeded for unknown session")
	}
	if resp != nil && resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
