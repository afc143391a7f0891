// Package bridge connects browser clients over a WebSocket to the playback service. Every "event"
// message from a client is answered with a pong and starts the configured album.
package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/musikboxeins/musikbox/metrics"
	"github.com/sirupsen/logrus"
)

const (
	EventConfirmation = "confirmation"
	EventMessage      = "event"

	ConfirmationPayload = "connected!"
	PongPayload         = "pong"

	// DefaultTarget is the album every socket event starts.
	DefaultTarget = "spotify:album:1UbnWM4Qnw1uKaBuXMUAV0"
)

// Player starts playback of a Spotify context URI on the active device.
type Player interface {
	Play(ctx context.Context, contextURI string) error
}

type Config struct {
	Target         string
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	CheckOrigin    func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		Target:         DefaultTarget,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     16,
	}
}

// Bridge is an http.Handler upgrading requests to sessions.
type Bridge struct {
	player   Player
	cfg      Config
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu       sync.RWMutex
	sessions map[string]*Session

	plays sync.WaitGroup
}

func New(player Player, cfg Config, logger logrus.FieldLogger) *Bridge {
	def := DefaultConfig()
	if cfg.Target == "" {
		cfg.Target = def.Target
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bridge{
		player: player,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		log:      logger,
		sessions: make(map[string]*Session),
	}
}

// Target is the context URI played for socket events.
func (b *Bridge) Target() string {
	return b.cfg.Target
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already answered the request
		b.log.Warnf("WebSocket upgrade from %v failed: %v", r.RemoteAddr, err)
		return
	}

	s := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		bridge:      b,
		send:        make(chan []byte, b.cfg.SendBuffer),
	}
	b.register(s)

	if err := s.Emit(EventConfirmation, ConfirmationPayload); err != nil {
		b.log.Warnf("Could not confirm session %v: %v", s.ID, err)
	}

	go s.writePump()
	go s.readPump()
}

// SessionCount is the number of connected clients.
func (b *Bridge) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}

// Play starts playback of contextURI without waiting for the outcome. The outcome is logged and
// counted under trigger. Failed requests are not retried.
func (b *Bridge) Play(trigger, contextURI string) {
	b.plays.Add(1)
	go func() {
		defer b.plays.Done()

		// no deadline, the request runs until the service answers
		err := b.player.Play(context.Background(), contextURI)
		metrics.PlayRequests.WithLabelValues(trigger, metrics.Outcome(err)).Inc()
		if err != nil {
			b.log.Errorf("Could not play %v: %v", contextURI, err)
			return
		}
		b.log.Infof("Playing %v", contextURI)
	}()
}

// Wait blocks until every started play request has finished.
func (b *Bridge) Wait() {
	b.plays.Wait()
}

// Close ends all sessions. Play requests in flight are left to finish.
func (b *Bridge) Close() {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		b.unregister(s)
	}
}

func (b *Bridge) register(s *Session) {
	b.mu.Lock()
	b.sessions[s.ID] = s
	b.mu.Unlock()

	metrics.Sessions.Inc()
	b.log.Infof("Session %v connected from %v", s.ID, s.conn.RemoteAddr())
}

func (b *Bridge) unregister(s *Session) {
	b.mu.Lock()
	_, ok := b.sessions[s.ID]
	delete(b.sessions, s.ID)
	b.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	metrics.Sessions.Dec()
	b.log.Infof("Session %v disconnected after %v", s.ID, time.Since(s.ConnectedAt).Round(time.Second))
}

func (b *Bridge) handle(s *Session, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.log.Warnf("Session %v sent an invalid message: %v", s.ID, err)
		return
	}

	switch msg.Event {
	case EventMessage:
		b.log.Infof("%v %v", s.ID, payloadText(msg.Data))
		if err := s.Emit(EventMessage, PongPayload); err != nil {
			b.log.Warnf("Could not answer session %v: %v", s.ID, err)
		}
		b.Play("socket", b.cfg.Target)
	default:
		b.log.Debugf("Session %v sent unknown event %q", s.ID, msg.Event)
	}
}

// payloadText renders JSON strings without quotes and anything else as sent.
func payloadText(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return string(data)
}

// OriginChecker allows same-host requests plus the listed origins. A "*" entry allows any origin.
func OriginChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSuffix(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowed["*"] || allowed[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
