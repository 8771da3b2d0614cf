package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/archeval/arbiter/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleSessionEvents streams session lifecycle events over a websocket.
// Events published after the socket connects are forwarded as JSON text
// messages until either side closes the connection.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	// Verify the session exists before upgrading.
	if _, err := s.sessions.Get(r.Context(), sessionID); err != nil {
		slog.Error("failed to get session for event stream", "id", sessionID, "error", err)
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("event stream connected", "session_id", sessionID)

	events, unsubscribe := s.sessions.Hub().Subscribe(sessionID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close messages are processed. Inbound
	// payloads are otherwise ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	if err := sendEvent(conn, session.Event{SessionID: sessionID, Type: "connected", At: time.Now()}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("event stream disconnected", "session_id", sessionID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sendEvent(conn, ev); err != nil {
				return
			}
		}
	}
}

func sendEvent(conn *websocket.Conn, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event", "error", err)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send event", "error", err)
		return err
	}
	return nil
}
