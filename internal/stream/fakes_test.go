package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"price_stream/internal/domain"

	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("use of closed network connection")

// fakeConn is an in-memory Conn. Client frames are fed through reads; written frames are recorded.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	pings    int
	writeErr error
	reads    chan []byte
	closed   chan struct{}
	once     sync.Once
	written  chan struct{}
	onWrite  func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:   make(chan []byte, 8),
		closed:  make(chan struct{}),
		written: make(chan struct{}, 64),
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if hook := c.onWrite; hook != nil {
		hook()
	}
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	select {
	case <-c.closed:
		c.mu.Unlock()
		return errConnClosed
	default:
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	select {
	case c.written <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.reads:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.writeErr
}

func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetPongHandler(func(appData string) error) {}
func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 5555}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) messages(t *testing.T) []domain.BroadcastMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.BroadcastMessage, 0, len(c.writes))
	for _, raw := range c.writes {
		var msg domain.BroadcastMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// fakeSource serves fixed prices per symbol; symbols without a price return no data.
type fakeSource struct {
	mu      sync.Mutex
	prices  map[string]float64
	err     error
	at      time.Time
	calls   atomic.Int32
	queried []string
	delay   time.Duration
}

func newFakeSource(prices map[string]float64) *fakeSource {
	return &fakeSource{prices: prices, at: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeSource) LastPrice(ctx context.Context, symbol string, _ time.Duration) (domain.PricePoint, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.PricePoint{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, symbol)
	if f.err != nil {
		return domain.PricePoint{}, f.err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return domain.PricePoint{}, &domain.NoDataError{Symbol: symbol}
	}
	return domain.PricePoint{Symbol: symbol, Price: price, Time: f.at}, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queried...)
}

func waitForWrites(t *testing.T, c *fakeConn, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.count() >= n }, 2*time.Second, time.Millisecond,
		"expected at least %d writes", n)
}
