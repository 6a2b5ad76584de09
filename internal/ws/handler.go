// Package ws serves the participant websocket: authenticate, register with
// the hub, then handle actions in arrival order until the socket closes.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/auth"
	"github.com/example/wash-hup/internal/fanout"
	"github.com/example/wash-hup/internal/storage"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	verifier auth.Verifier
	repo     storage.Repo
	hub      *fanout.Hub
	actions  *Actions
	logger   *slog.Logger
}

func NewHandler(verifier auth.Verifier, repo storage.Repo, hub *fanout.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		verifier: verifier,
		repo:     repo,
		hub:      hub,
		actions:  NewActions(repo, hub),
		logger:   logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	profile, err := h.repo.GetProfile(r.Context(), id.UserID)
	if err != nil {
		writeHTTPError(w, apperr.Authentication("unknown participant"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "user_id", id.UserID, "error", err)
		return
	}
	caller := Caller{UserID: id.UserID, Role: id.Role, Name: profile.Base().Name}
	session, err := h.hub.Connect(caller.UserID, caller.Role, caller.Name, conn)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		_ = conn.Close()
		return
	}
	defer h.hub.Disconnect(session)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.reply(session, Outbound{Type: "connected", Data: map[string]string{"user_id": caller.UserID, "role": string(caller.Role)}})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("ws read ended", "user_id", caller.UserID, "error", err)
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			h.reply(session, errorAck("", "invalid message"))
			continue
		}
		out := h.actions.Dispatch(session.Context(), caller, in)
		if out.Type == "error" {
			h.logger.Debug("ws action rejected", "user_id", caller.UserID, "action", in.Action, "reason", out.Message)
		}
		h.reply(session, out)
	}
}

func (h *Handler) reply(s *fanout.Session, out Outbound) {
	b, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := s.Send(b); err != nil {
		h.logger.Warn("ws reply dropped", "user_id", s.UserID, "error", err)
	}
}

func writeHTTPError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]any{"error": ae})
}
