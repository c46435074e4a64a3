// Package server exposes the narrative engine over HTTP.
//
// The API surface is small:
//
//   - POST /api/sessions               — create a session for a work
//   - GET  /api/sessions/{id}          — session snapshot + recent messages
//   - GET  /api/sessions/{id}/stream   — WebSocket; each inbound text frame is
//     a turn request and the ordered turn events stream back as JSON frames
//   - GET  /healthz, /readyz           — probes (internal/health)
//   - GET  /metrics                    — Prometheus scrape endpoint
//
// All routes are wrapped in [observe.Middleware] for request metrics and logs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reveriehq/reverie/internal/health"
	"github.com/reveriehq/reverie/internal/observe"
	"github.com/reveriehq/reverie/internal/turn"
	"github.com/reveriehq/reverie/pkg/narrative"
)

// Engine is the subset of the turn orchestrator the HTTP layer needs.
type Engine interface {
	CreateSession(ctx context.Context, params turn.CreateParams) (*narrative.Session, error)
	Snapshot(ctx context.Context, sessionID string) (*narrative.Session, []narrative.Message, error)
	SendTurn(ctx context.Context, sessionID, userText string, emit turn.Emitter) error
}

var _ Engine = (*turn.Orchestrator)(nil)

// Config configures a [Server].
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Engine handles session lifecycle and turns. Required.
	Engine Engine

	// Checkers are evaluated by /readyz. Optional.
	Checkers []health.Checker

	// Metrics records HTTP and turn telemetry. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Log is the server logger. Defaults to [slog.Default].
	Log *slog.Logger

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// Server is the HTTP front end. Create with [New], start with [Server.Run],
// stop with [Server.Shutdown].
type Server struct {
	engine  Engine
	metrics *observe.Metrics
	log     *slog.Logger

	httpSrv  *http.Server
	certFile string
	keyFile  string
}

// New creates a Server and builds its route table.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	s := &Server{
		engine:   cfg.Engine,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		certFile: cfg.TLSCertFile,
		keyFile:  cfg.TLSKeyFile,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSnapshot)
	mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(cfg.Checkers...).Register(mux)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           observe.Middleware(cfg.Metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests that mount the server on
// [net/http/httptest].
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves until Shutdown is called or the listener fails. It always
// returns a non-nil error; after a clean shutdown that error is
// [http.ErrServerClosed].
func (s *Server) Run() error {
	if s.certFile != "" && s.keyFile != "" {
		return s.httpSrv.ListenAndServeTLS(s.certFile, s.keyFile)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// ─── Session endpoints ───────────────────────────────────────────────────────

// createSessionRequest is the POST /api/sessions body.
type createSessionRequest struct {
	WorkID    string `json:"work_id"`
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id,omitempty"`
}

// sessionJSON is the wire form of a session.
type sessionJSON struct {
	ID                string    `json:"id"`
	WorkID            string    `json:"work_id"`
	UserID            string    `json:"user_id"`
	PersonaID         string    `json:"persona_id,omitempty"`
	Location          string    `json:"location"`
	TimeOfDay         string    `json:"time_of_day"`
	TurnCount         int       `json:"turn_count"`
	PresentCharacters []string  `json:"present_characters"`
	RecentEvents      []string  `json:"recent_events"`
	Summary           string    `json:"summary,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// messageJSON is the wire form of a stored message.
type messageJSON struct {
	ID          string    `json:"id"`
	SpeakerType string    `json:"speaker_type"`
	SpeakerID   string    `json:"speaker_id,omitempty"`
	SpeakerName string    `json:"speaker_name"`
	Content     string    `json:"content"`
	Emotion     string    `json:"emotion,omitempty"`
	Turn        int       `json:"turn"`
	CreatedAt   time.Time `json:"created_at"`
}

// snapshotResponse is the GET /api/sessions/{id} body.
type snapshotResponse struct {
	Session  sessionJSON   `json:"session"`
	Messages []messageJSON `json:"messages"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := s.engine.CreateSession(r.Context(), turn.CreateParams{
		WorkID:    req.WorkID,
		UserID:    req.UserID,
		PersonaID: req.PersonaID,
	})
	switch {
	case errors.Is(err, turn.ErrWorkNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("work %q not found", req.WorkID))
		return
	case err != nil:
		s.log.Error("create session failed", "work_id", req.WorkID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionJSON(sess))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, msgs, err := s.engine.Snapshot(r.Context(), id)
	switch {
	case errors.Is(err, turn.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	case err != nil:
		s.log.Error("session snapshot failed", "session_id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}

	resp := snapshotResponse{
		Session:  toSessionJSON(sess),
		Messages: make([]messageJSON, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageJSON{
			ID:          m.ID,
			SpeakerType: string(m.SpeakerType),
			SpeakerID:   m.SpeakerID,
			SpeakerName: m.SpeakerName,
			Content:     m.Content,
			Emotion:     m.Emotion,
			Turn:        m.Turn,
			CreatedAt:   m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func toSessionJSON(sess *narrative.Session) sessionJSON {
	out := sessionJSON{
		ID:                sess.ID,
		WorkID:            sess.WorkID,
		UserID:            sess.UserID,
		PersonaID:         sess.PersonaID,
		Location:          sess.Location,
		TimeOfDay:         sess.TimeOfDay,
		TurnCount:         sess.TurnCount,
		PresentCharacters: sess.PresentCharacters,
		RecentEvents:      sess.RecentEvents,
		Summary:           sess.Summary,
		CreatedAt:         sess.CreatedAt,
		UpdatedAt:         sess.UpdatedAt,
	}
	if out.PresentCharacters == nil {
		out.PresentCharacters = []string{}
	}
	if out.RecentEvents == nil {
		out.RecentEvents = []string{}
	}
	return out
}

// ─── Response helpers ────────────────────────────────────────────────────────

// errorResponse is the JSON body for error statuses.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}
