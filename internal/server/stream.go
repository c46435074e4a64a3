package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/reveriehq/reverie/internal/turn"
)

// turnRequest is one inbound WebSocket frame: a single user turn.
type turnRequest struct {
	Message string `json:"message"`
}

// handleStream upgrades GET /api/sessions/{id}/stream to a WebSocket. Each
// inbound frame runs one turn; the turn's ordered events are written back as
// JSON frames. Turns on one connection run strictly in sequence.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Reject unknown sessions before upgrading so the client gets a proper
	// HTTP status instead of an immediate close frame.
	if _, _, err := s.engine.Snapshot(r.Context(), id); err != nil {
		if errors.Is(err, turn.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.log.Error("stream preflight failed", "session_id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "session_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	s.log.Info("stream opened", "session_id", id)

	ctx := r.Context()
	for {
		var req turnRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				s.log.Info("stream closed", "session_id", id)
			} else {
				s.log.Warn("stream read failed", "session_id", id, "err", err)
			}
			return
		}

		if err := s.runTurn(ctx, conn, id, req.Message); err != nil {
			return
		}
	}
}

// runTurn executes one turn, streaming its events to conn. A non-nil return
// means the connection is unusable and the handler should exit.
func (s *Server) runTurn(ctx context.Context, conn *websocket.Conn, sessionID, message string) error {
	emit := func(ev turn.Event) error {
		return wsjson.Write(ctx, conn, ev)
	}

	err := s.engine.SendTurn(ctx, sessionID, message, emit)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, turn.ErrEmptyMessage):
		// Validation failures don't kill the connection: report and wait for
		// the next frame.
		return emit(turn.Event{Type: turn.EventError, Error: "message must not be empty"})
	case errors.Is(err, turn.ErrSessionNotFound), errors.Is(err, turn.ErrWorkNotFound):
		s.log.Warn("turn rejected", "session_id", sessionID, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "session no longer available")
		return err
	default:
		// SendTurn reports stream-level failures (e.g. a failed event write)
		// here; terminal turn errors were already emitted as error events.
		s.log.LogAttrs(ctx, slog.LevelWarn, "turn stream failed",
			slog.String("session_id", sessionID),
			slog.String("err", err.Error()),
		)
		return err
	}
}
