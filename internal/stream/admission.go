package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrAtCapacity rejects a connection because a global or per-peer limit is reached.
	ErrAtCapacity = errors.New("too many connections")
	// ErrRateLimited rejects a connection because the peer is connecting too fast.
	ErrRateLimited = errors.New("connection rate exceeded")
)

// Gate decides whether a peer may open another connection. release must be called
// once the connection ends.
type Gate interface {
	Acquire(ip string) (release func(), err error)
}

// controlMessage is the first client frame, e.g. {"symbol":"btc"}.
type controlMessage struct {
	Symbol string `json:"symbol"`
}

// AdmissionConfig holds handshake settings.
type AdmissionConfig struct {
	DefaultSymbol    string
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// Admission upgrades client connections, binds the requested symbol and runs the
// session's loop for the lifetime of the connection.
type Admission struct {
	baseCtx  context.Context
	cfg      AdmissionConfig
	deps     LoopDeps
	gate     Gate
	upgrader websocket.Upgrader
}

// NewAdmission creates the /ws handler. Loops derive from ctx, so cancelling it stops them all.
// gate may be nil.
func NewAdmission(ctx context.Context, cfg AdmissionConfig, deps LoopDeps, gate Gate) *Admission {
	deps.setDefaults()
	if cfg.DefaultSymbol == "" {
		cfg.DefaultSymbol = "BTCUSDT"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Admission{
		baseCtx: ctx,
		cfg:     cfg,
		deps:    deps,
		gate:    gate,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      cfg.CheckOrigin,
		},
	}
}

func (a *Admission) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)

	if a.gate != nil {
		release, err := a.gate.Acquire(ip)
		if err != nil {
			a.reject(w, ip, err)
			return
		}
		defer release()
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		a.deps.Metrics.SessionRejected("upgrade")
		slog.Debug("WebSocket upgrade failed", slog.String("remote", ip), slog.Any("error", err))
		return
	}

	session := NewSession(conn, ip, WithClock(a.deps.Clock), WithWriteWait(a.cfg.WriteWait))

	symbol, err := a.readSymbol(session)
	if err != nil {
		session.Close()
		a.deps.Metrics.SessionRejected("handshake")
		slog.Debug("Connection closed before symbol was received",
			slog.String("remote", ip),
			slog.Any("error", err),
		)
		return
	}
	_ = session.Bind(symbol)

	session.StartReader(a.cfg.PongWait)

	slog.Info("Session admitted",
		slog.String("session", session.ID().String()),
		slog.String("remote", ip),
		slog.String("symbol", symbol),
	)

	loop := NewLoop(session, a.deps)
	if err := loop.Run(a.baseCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Debug("Loop ended", slog.String("session", session.ID().String()), slog.Any("error", err))
	}
}

// readSymbol reads the first control message. A malformed or empty message falls back
// to the default symbol; an unresolvable token is kept as sent so the loop can report it.
func (a *Admission) readSymbol(s *Session) (string, error) {
	data, err := s.ReadControl(a.cfg.HandshakeTimeout)
	if err != nil {
		return "", err
	}

	var msg controlMessage
	token := ""
	if json.Unmarshal(data, &msg) == nil {
		token = strings.TrimSpace(msg.Symbol)
	}
	if token == "" {
		token = a.cfg.DefaultSymbol
	}

	if canonical, ok := a.deps.Resolver.Resolve(token); ok {
		return canonical, nil
	}
	return token, nil
}

func (a *Admission) reject(w http.ResponseWriter, ip string, err error) {
	status := http.StatusServiceUnavailable
	reason := "capacity"
	if errors.Is(err, ErrRateLimited) {
		status = http.StatusTooManyRequests
		reason = "rate_limited"
	}
	a.deps.Metrics.SessionRejected(reason)
	slog.Warn("Connection rejected", slog.String("remote", ip), slog.String("reason", reason))
	http.Error(w, err.Error(), status)
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
