// Package realtime tracks live observer connections: the session registry,
// the WebSocket gateway that feeds it, and the heartbeat supervisor that
// sweeps it.
package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

// ScopeAll is the default subscription scope: every event topic.
const ScopeAll = "all"

// Transport pushes bytes to one connected client. Implementations must be
// safe for concurrent use; the broadcaster and the heartbeat supervisor write
// from different goroutines.
type Transport interface {
	Send(payload []byte) error
	Ping(deadline time.Time) error
	Close() error
}

type sessionState int

const (
	stateAlive sessionState = iota
	stateAwaitingPong
)

// Session is one authenticated live connection. The registry exclusively owns
// the canonical session map; lastSeenAt and the heartbeat state are only
// touched under the registry's lock.
type Session struct {
	ID       string
	Identity tracking.TokenClaims
	Scope    string

	transport    Transport
	lastSeenAt   time.Time
	state        sessionState
	pongDeadline time.Time
}

// NewSession builds a session for a freshly accepted connection.
func NewSession(id string, identity tracking.TokenClaims, scope string, transport Transport) *Session {
	if scope == "" {
		scope = ScopeAll
	}
	return &Session{
		ID:         id,
		Identity:   identity,
		Scope:      scope,
		transport:  transport,
		lastSeenAt: time.Now(),
		state:      stateAlive,
	}
}

// Send pushes payload to the client. Safe outside the registry lock.
func (s *Session) Send(payload []byte) error {
	return s.transport.Send(payload)
}

// Ping sends a protocol-level ping with the given deadline.
func (s *Session) Ping(deadline time.Time) error {
	return s.transport.Ping(deadline)
}

// Close closes the underlying transport, unblocking its read loop.
func (s *Session) Close() error {
	return s.transport.Close()
}

// matches reports whether the session should receive an event carrying the
// given topics. An "all"-scoped session receives everything; a narrowed
// session only events whose topics include its scope.
func (s *Session) matches(topics []string) bool {
	if s.Scope == ScopeAll {
		return true
	}
	for _, topic := range topics {
		if s.Scope == topic {
			return true
		}
	}
	return false
}

const writeWait = 5 * time.Second

// wsTransport adapts a gorilla WebSocket connection to the Transport
// interface. gorilla permits one concurrent writer, so all writes share a
// mutex.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketTransport wraps conn for use as a session transport.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) Ping(deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}
