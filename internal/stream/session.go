package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"price_stream/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const defaultWriteWait = 5 * time.Second

// ErrAlreadyBound is returned when binding a symbol to a session a second time.
var ErrAlreadyBound = errors.New("session symbol already bound")

// Conn is the subset of *websocket.Conn a session needs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Session is one live client connection. Its symbol is bound once and never changes.
type Session struct {
	id        uuid.UUID
	remote    string
	conn      Conn
	clock     clockwork.Clock
	writeWait time.Duration

	mu     sync.RWMutex
	symbol string
	bound  bool

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithClock sets the clock used for write and read deadlines.
func WithClock(c clockwork.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithWriteWait sets how long a single write may block before it counts as a delivery failure.
func WithWriteWait(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.writeWait = d
		}
	}
}

// NewSession wraps an established connection. remote identifies the peer in messages and logs.
func NewSession(conn Conn, remote string, opts ...SessionOption) *Session {
	s := &Session{
		id:        uuid.New(),
		remote:    remote,
		conn:      conn,
		clock:     clockwork.NewRealClock(),
		writeWait: defaultWriteWait,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() uuid.UUID  { return s.id }
func (s *Session) Remote() string { return s.remote }

// Symbol returns the bound symbol, or "" before Bind.
func (s *Session) Symbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbol
}

// Bind sets the session symbol. It succeeds at most once.
func (s *Session) Bind(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return ErrAlreadyBound
	}
	s.symbol = symbol
	s.bound = true
	return nil
}

// ReadControl reads the next client message, waiting at most timeout.
func (s *Session) ReadControl(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		_ = s.conn.SetReadDeadline(s.clock.Now().Add(timeout))
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// StartReader drains client messages in the background and closes the session when the
// transport reports an error or close. Pongs extend the read deadline by pongWait.
func (s *Session) StartReader(pongWait time.Duration) {
	s.extendReadDeadline(pongWait)
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline(pongWait)
		return nil
	})

	go func() {
		defer s.Close()
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
			// The symbol is fixed for the session lifetime; later messages are ignored.
		}
	}()
}

func (s *Session) extendReadDeadline(pongWait time.Duration) {
	if pongWait <= 0 {
		_ = s.conn.SetReadDeadline(time.Time{})
		return
	}
	_ = s.conn.SetReadDeadline(s.clock.Now().Add(pongWait))
}

// Deliver writes one message. Any write error is a *domain.DeliveryError and is fatal to the session.
func (s *Session) Deliver(ctx context.Context, msg domain.BroadcastMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return domain.ErrSessionClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return &domain.DeliveryError{Err: err}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(s.clock.Now().Add(s.writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &domain.DeliveryError{Err: err}
	}
	return nil
}

// Ping sends a ping control frame.
func (s *Session) Ping() error {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, s.clock.Now().Add(s.writeWait)); err != nil {
		return &domain.DeliveryError{Err: err}
	}
	return nil
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears down the transport. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// CloseWithReason sends a close frame before tearing down the transport.
func (s *Session) CloseWithReason(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, s.clock.Now().Add(s.writeWait))
		_ = s.conn.Close()
	})
}
