package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"price_stream/internal/domain"
	"price_stream/internal/infra"

	"github.com/jonboulle/clockwork"
)

var errInternal = errors.New("internal error")

// State is the broadcast loop lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateTerminated
)

func (s State) String() string {
	if s == StateTerminated {
		return "TERMINATED"
	}
	return "RUNNING"
}

// Termination reasons, used as log fields and metric labels.
const (
	ReasonDisconnect = "disconnect"
	ReasonDelivery   = "delivery"
	ReasonCancel     = "cancel"
	ReasonShutdown   = "shutdown"
)

// LoopDeps are the collaborators and timings shared by every loop.
type LoopDeps struct {
	Source       domain.PriceSource
	Resolver     domain.SymbolResolver
	Registry     *Registry
	Clock        clockwork.Clock
	Metrics      *infra.Metrics
	Interval     time.Duration // tick period, 1s by default
	Window       time.Duration // trailing window passed to the source
	QueryTimeout time.Duration
	PingInterval time.Duration // 0 disables pings
}

func (d *LoopDeps) setDefaults() {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Interval <= 0 {
		d.Interval = time.Second
	}
	if d.Window <= 0 {
		d.Window = 10 * time.Second
	}
	if d.QueryTimeout <= 0 {
		d.QueryTimeout = 2 * time.Second
	}
}

// Loop pushes a snapshot for one session's symbol every interval until the session
// disconnects, a delivery fails, or the loop is stopped. Ticks never overlap.
type Loop struct {
	session  *Session
	deps     LoopDeps
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a loop in the RUNNING state. Run drives it.
func NewLoop(session *Session, deps LoopDeps) *Loop {
	deps.setDefaults()
	l := &Loop{
		session: session,
		deps:    deps,
		stop:    make(chan struct{}),
	}
	l.state.Store(int32(StateRunning))
	return l
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Stop cancels the loop. Stopping a terminated loop is a no-op.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run registers the session, ticks until termination, then closes the session and
// deregisters it. The first tick runs immediately. Run returns the terminating cause:
// nil for a client disconnect.
func (l *Loop) Run(ctx context.Context) (err error) {
	if l.deps.Registry != nil {
		if err := l.deps.Registry.Add(l.session); err != nil {
			l.state.Store(int32(StateTerminated))
			l.session.Close()
			return err
		}
	}
	l.deps.Metrics.SessionStarted()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := l.deps.Clock.Now()
	reason := ReasonDisconnect
	defer func() {
		l.state.Store(int32(StateTerminated))
		l.session.Close()
		if l.deps.Registry != nil {
			l.deps.Registry.Remove(l.session)
		}
		l.deps.Metrics.SessionEnded(reason)
		slog.Info("Session terminated",
			slog.String("session", l.session.ID().String()),
			slog.String("remote", l.session.Remote()),
			slog.String("symbol", l.session.Symbol()),
			slog.String("reason", reason),
			slog.Duration("lifetime", l.deps.Clock.Since(started)),
		)
	}()

	// Stop and session close both cancel in-flight work promptly.
	go func() {
		select {
		case <-l.stop:
			cancel()
		case <-l.session.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := l.deps.Clock.NewTicker(l.deps.Interval)
	defer ticker.Stop()

	var pingC <-chan time.Time
	if l.deps.PingInterval > 0 {
		pinger := l.deps.Clock.NewTicker(l.deps.PingInterval)
		defer pinger.Stop()
		pingC = pinger.Chan()
	}

	for {
		if tickErr := l.tick(ctx); tickErr != nil {
			reason = l.classify(ctx, tickErr)
			if reason == ReasonDisconnect {
				return nil
			}
			return tickErr
		}

	wait:
		for {
			select {
			case <-l.stop:
				reason = ReasonCancel
				return context.Canceled
			case <-l.session.Done():
				return nil
			case <-ctx.Done():
				reason = l.classify(ctx, ctx.Err())
				if reason == ReasonDisconnect {
					return nil
				}
				return ctx.Err()
			case <-pingC:
				if pingErr := l.session.Ping(); pingErr != nil {
					l.deps.Metrics.RecordDeliveryFailure()
					reason = ReasonDelivery
					return pingErr
				}
			case <-ticker.Chan():
				break wait
			}
		}
	}
}

// classify maps a terminating error to a reason, checking the session and stop
// signal first since closing them also cancels ctx.
func (l *Loop) classify(ctx context.Context, err error) string {
	select {
	case <-l.stop:
		return ReasonCancel
	default:
	}
	select {
	case <-l.session.Done():
		return ReasonDisconnect
	default:
	}
	switch {
	case errors.Is(err, domain.ErrSessionClosed):
		return ReasonDisconnect
	case errors.Is(err, domain.ErrDelivery):
		return ReasonDelivery
	case ctx.Err() != nil:
		return ReasonShutdown
	default:
		return ReasonDelivery
	}
}

// tick fetches, packages and delivers one snapshot. Only delivery problems are returned.
func (l *Loop) tick(ctx context.Context) error {
	start := l.deps.Clock.Now()
	snap, kind := l.snapshot(ctx)

	if err := ctx.Err(); err != nil {
		return err
	}

	err := l.session.Deliver(ctx, domain.NewBroadcastMessage(l.session.Remote(), snap))
	l.deps.Metrics.RecordTick(l.deps.Clock.Since(start), kind)
	if err != nil {
		if errors.Is(err, domain.ErrDelivery) {
			l.deps.Metrics.RecordDeliveryFailure()
			slog.Warn("Delivery failed",
				slog.String("session", l.session.ID().String()),
				slog.Any("error", err),
			)
		}
		return err
	}
	return nil
}

// snapshot never fails: resolution and source errors become error-shaped snapshots.
func (l *Loop) snapshot(ctx context.Context) (snap domain.PriceSnapshot, kind string) {
	symbol := l.session.Symbol()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Price source panic recovered",
				slog.String("symbol", symbol),
				slog.Any("panic", r),
			)
			snap = domain.NewErrorSnapshot(symbol, l.deps.Window, errInternal)
			kind = "source"
		}
	}()

	canonical, ok := l.deps.Resolver.Resolve(symbol)
	if !ok {
		err := &domain.ResolutionError{Token: symbol, Kind: "ticker"}
		return domain.NewErrorSnapshot(symbol, l.deps.Window, err), domain.ErrorKind(err)
	}

	qctx, cancel := context.WithTimeout(ctx, l.deps.QueryTimeout)
	defer cancel()

	p, err := l.deps.Source.LastPrice(qctx, canonical, l.deps.Window)
	if err != nil {
		slog.Debug("Price query failed",
			slog.String("session", l.session.ID().String()),
			slog.String("symbol", canonical),
			slog.Any("error", err),
		)
		return domain.NewErrorSnapshot(canonical, l.deps.Window, err), domain.ErrorKind(err)
	}
	return domain.NewSnapshot(p, l.deps.Window), "none"
}
