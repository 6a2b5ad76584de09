// Package fanout tracks live participant connections and delivers events to
// them, locally and across server processes through a broker.
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/observability"
)

// Event is the envelope every pushed payload uses.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// SystemMessage is a broadcast announcement from the server itself.
type SystemMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	roles    map[models.Role]map[string]struct{}

	broker Broker
	logger *slog.Logger
}

func NewHub(broker Broker, logger *slog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		roles: map[models.Role]map[string]struct{}{
			models.RoleOwner:  {},
			models.RoleWasher: {},
			models.RoleAdmin:  {},
		},
		broker: broker,
		logger: logger,
	}
}

// Connect registers conn for userID and starts its writer and relay. A
// previous connection of the same participant is closed.
func (h *Hub) Connect(userID string, role models.Role, name string, conn Conn) (*Session, error) {
	chans := RoleChannels(role)
	if chans == nil {
		return nil, apperr.Validation("invalid role")
	}
	s := newSession(userID, role, name, conn)

	h.mu.Lock()
	old := h.sessions[userID]
	if old != nil {
		delete(h.roles[old.Role], userID)
	}
	h.sessions[userID] = s
	h.roles[role][userID] = struct{}{}
	h.mu.Unlock()

	if old != nil {
		old.close()
		observability.WSConnections.WithLabelValues(string(old.Role)).Dec()
		h.logger.Info("ws session replaced", "user_id", userID, "old_session", old.ID)
	}
	observability.WSConnections.WithLabelValues(string(role)).Inc()

	s.wg.Add(2)
	go s.writePump()
	go h.relay(s, append(chans, ParticipantChannel(userID)))

	h.logger.Info("ws connected", "user_id", userID, "role", role, "session", s.ID)
	return s, nil
}

// Disconnect unregisters s if it is still the participant's current session
// and closes it. Safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	if s == nil {
		return
	}
	h.mu.Lock()
	current, ok := h.sessions[s.UserID]
	removed := ok && current == s
	if removed {
		delete(h.sessions, s.UserID)
		delete(h.roles[s.Role], s.UserID)
	}
	h.mu.Unlock()

	s.close()
	if !removed {
		return
	}
	observability.WSConnections.WithLabelValues(string(s.Role)).Dec()
	h.logger.Info("ws disconnected", "user_id", s.UserID, "session", s.ID)

	name := s.Name
	if name == "" {
		name = s.UserID
	}
	left := Event{Type: "system", Data: SystemMessage{Sender: "system", Text: name + " left"}}
	if err := h.Publish(context.Background(), ChannelAll, left); err != nil {
		h.logger.Warn("announce disconnect failed", "user_id", s.UserID, "error", err)
	}
}

// relay forwards broker messages for the session's channels to its socket
// until the session closes.
func (h *Hub) relay(s *Session, chans []Channel) {
	defer s.wg.Done()
	sub, err := h.broker.Subscribe(s.ctx, chans...)
	if err != nil {
		h.logger.Error("broker subscribe failed", "user_id", s.UserID, "error", err)
		return
	}
	defer sub.Close()
	for {
		select {
		case <-s.ctx.Done():
			return
		case m, ok := <-sub.Messages():
			if !ok {
				return
			}
			observability.BrokerRelayed.Inc()
			if err := h.sendPersonal(s.UserID, s, m.Payload); err != nil {
				h.logger.Warn("relay send failed", "user_id", s.UserID, "channel", m.Channel, "error", err)
			}
		}
	}
}

// SendPersonal delivers to a locally connected participant. Absent
// participants are skipped silently.
func (h *Hub) SendPersonal(userID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.sendPersonal(userID, nil, b)
}

// sendPersonal queues an encoded payload for userID. A non-nil want limits
// delivery to that session, so a relay outliving its replaced session
// never writes to the new one.
func (h *Hub) sendPersonal(userID string, want *Session, payload []byte) error {
	h.mu.RLock()
	s := h.sessions[userID]
	h.mu.RUnlock()
	if s == nil || (want != nil && s != want) {
		return nil
	}
	if err := s.Send(payload); err != nil {
		observability.SendFailures.Inc()
		return err
	}
	return nil
}

// Broadcast sends v to every local connection of role, or to everyone when
// role is empty. It returns how many sends succeeded.
func (h *Hub) Broadcast(role models.Role, v any) int {
	h.mu.RLock()
	var ids []string
	if role == "" {
		for id := range h.sessions {
			ids = append(ids, id)
		}
	} else {
		for id := range h.roles[role] {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, id := range ids {
		if err := h.SendPersonal(id, v); err != nil {
			h.logger.Warn("broadcast send failed", "user_id", id, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Publish hands v to the broker so every process relays it to its local
// subscribers of ch.
func (h *Hub) Publish(ctx context.Context, ch Channel, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, ch, b)
}

// Notify publishes to one participant's personal channel.
func (h *Hub) Notify(ctx context.Context, userID string, v any) error {
	return h.Publish(ctx, ParticipantChannel(userID), v)
}

func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

func (h *Hub) Count(role models.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roles[role])
}

// Close shuts every session, for process shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		all = append(all, s)
		delete(h.sessions, id)
		delete(h.roles[s.Role], id)
	}
	h.mu.Unlock()
	for _, s := range all {
		s.close()
		observability.WSConnections.WithLabelValues(string(s.Role)).Dec()
	}
}
