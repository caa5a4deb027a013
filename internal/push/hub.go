package push

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait       = 10 * time.Second
	sendBuffer      = 32
	maxInboundBytes = 512
)

// ErrHubClosed is returned by Broadcast after Close.
var ErrHubClosed = errors.New("push hub closed")

// Authenticator resolves a session token to the subject it belongs to.
type Authenticator func(token string) (subject string, err error)

type session struct {
	conn    *websocket.Conn
	subject string
	send    chan []byte
	once    sync.Once
	done    chan struct{}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Hub is the server end of the push channel. It upgrades authenticated
// requests to WebSocket sessions keyed by subject and relays broadcast frames
// to them.
type Hub struct {
	upgrader     websocket.Upgrader
	authenticate Authenticator
	pingInterval time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[*session]struct{}
	closed   bool
}

// NewHub creates a hub. Sessions are pinged every pingInterval and dropped when
// they miss a pong for two intervals.
func NewHub(authenticate Authenticator, pingInterval time.Duration, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		authenticate: authenticate,
		pingInterval: pingInterval,
		logger:       logger,
		sessions:     make(map[*session]struct{}),
	}
}

func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

// ServeHTTP authenticates and upgrades the request, then serves the session
// until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	subject, err := h.authenticate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		conn:    conn,
		subject: subject,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
	if !h.register(s) {
		s.close()
		return
	}
	h.logger.Info("push session opened", zap.String("subject", subject))

	go h.writeLoop(s)
	h.readLoop(s)

	h.unregister(s)
	h.logger.Info("push session closed", zap.String("subject", subject))
}

// Broadcast queues msg for every session, or only for the recipient's
// sessions when msg names one. A session whose buffer is full is dropped; the
// client reconnects and resyncs. It returns the number of sessions the frame
// was queued for.
func (h *Hub) Broadcast(msg Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return 0, ErrHubClosed
	}
	var slow []*session
	delivered := 0
	for s := range h.sessions {
		if msg.Recipient != "" && s.subject != msg.Recipient {
			continue
		}
		select {
		case s.send <- data:
			delivered++
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.logger.Warn("dropping slow push session", zap.String("subject", s.subject))
		h.unregister(s)
	}
	return delivered, nil
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[*session]struct{})
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	s.close()
}

// readLoop discards inbound frames; the stream is subscribe-only. It returns
// when the connection fails or the peer stops answering pings.
func (h *Hub) readLoop(s *session) {
	pongWait := 2 * h.pingInterval
	s.conn.SetReadLimit(maxInboundBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *session) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
		}
	}
}
