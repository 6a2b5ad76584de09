package fanout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/example/wash-hup/internal/models"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session send buffer full")
)

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live connection. Only its writer goroutine touches the
// socket for writes.
type Session struct {
	ID     string
	UserID string
	Role   models.Role
	Name   string

	conn   Conn
	send   chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func newSession(userID string, role models.Role, name string, conn Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		Name:   name,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Send queues payload for the writer. It never blocks.
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// Done is closed once the session has been shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Wait blocks until the writer and relay goroutines have exited.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) close() {
	s.once.Do(func() {
		s.cancel()
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) writePump() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}
