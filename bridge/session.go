package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Message is the envelope of every frame on the socket.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Session is one connected client. It lives from the upgrade until the socket closes.
type Session struct {
	ID          string
	ConnectedAt time.Time

	conn   *websocket.Conn
	bridge *Bridge

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Emit queues an event for this client only.
func (s *Session) Emit(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.send)
	return true
}

func (s *Session) writePump() {
	cfg := s.bridge.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.bridge.unregister(s)
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.bridge.log.Warnf("Could not write to session %v: %v", s.ID, err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.bridge.log.Debugf("Ping to session %v failed: %v", s.ID, err)
				return
			}
		}
	}
}

func (s *Session) readPump() {
	cfg := s.bridge.cfg
	defer func() {
		s.bridge.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.bridge.log.Warnf("Session %v closed unexpectedly: %v", s.ID, err)
			}
			return
		}
		s.bridge.handle(s, message)
		s.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
