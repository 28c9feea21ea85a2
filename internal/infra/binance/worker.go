package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"price_stream/internal/domain"
	"price_stream/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	DefaultURL   = "wss://stream.binance.com:9443/stream"
	maxRetries   = 10
	readTimeout  = 60 * time.Second
	writeTimeout = 2 * time.Second
	maxStreams   = 1024
)

// tickerEvent is the 24hr ticker payload of a combined stream message.
// Reference: https://developers.binance.com/docs/binance-spot-api-docs/web-socket-streams
type tickerEvent struct {
	EventType string `json:"e"` // 24hrTicker
	EventTime int64  `json:"E"` // ms
	Symbol    string `json:"s"` // BTCUSDT
	LastPrice string `json:"c"`
}

type combinedMessage struct {
	Stream string      `json:"stream"`
	Data   tickerEvent `json:"data"`
}

// Worker streams Binance tickers into a PointWriter so a redis or sqlite price source
// has live data without an external aggregator.
type Worker struct {
	url       string
	symbols   []string
	writer    domain.PointWriter
	metrics   *infra.Metrics
	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ domain.ExchangeWorker = (*Worker)(nil)

// NewWorker creates a new Binance ingest worker
func NewWorker(url string, symbols []string, writer domain.PointWriter, metrics *infra.Metrics) *Worker {
	if url == "" {
		url = DefaultURL
	}
	return &Worker{
		url:     url,
		symbols: symbols,
		writer:  writer,
		metrics: metrics,
	}
}

// Connect starts the WebSocket connection with automatic reconnection
func (w *Worker) Connect(ctx context.Context) error {
	if len(w.symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)

	return nil
}

// connectionLoop handles connection and reconnection with exponential backoff
func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Binance panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Binance connection loop stopped")
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Binance connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)

			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				slog.Error("Binance max retries exceeded, resetting counter")
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		// Connection successful, reset retry counter
		retryCount = 0

		// Read messages until error
		w.readLoop(ctx)
	}
}

// streamURL builds the combined-stream URL, e.g. .../stream?streams=btcusdt@ticker/ethusdt@ticker
func (w *Worker) streamURL() string {
	symbols := w.symbols
	if len(symbols) > maxStreams {
		slog.Warn("Binance stream limit exceeded", slog.Int("count", len(symbols)))
		symbols = symbols[:maxStreams]
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@ticker"
	}
	return w.url + "?streams=" + strings.Join(streams, "/")
}

// connect establishes the WebSocket connection. Subscription is part of the URL.
func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.streamURL(), header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	slog.Info("Binance WebSocket connected",
		slog.Int("symbols", len(w.symbols)),
	)

	return nil
}

// readLoop reads messages from WebSocket
func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		// Set read deadline
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Binance WebSocket read error", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}

		if err := w.handleMessage(ctx, message); err != nil {
			slog.Debug("Binance message dropped", slog.Any("error", err))
		}
	}
}

// handleMessage parses a ticker message and writes it as a price point
func (w *Worker) handleMessage(ctx context.Context, message []byte) error {
	var msg combinedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if msg.Data.EventType != "24hrTicker" || msg.Data.Symbol == "" {
		return nil
	}

	price, err := strconv.ParseFloat(msg.Data.LastPrice, 64)
	if err != nil {
		return fmt.Errorf("parse price %q: %w", msg.Data.LastPrice, err)
	}

	point := domain.PricePoint{
		Symbol:         msg.Data.Symbol,
		Price:          price,
		LastUpdateTime: strconv.FormatInt(msg.Data.EventTime, 10),
		Time:           time.UnixMilli(msg.Data.EventTime).UTC(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.writer.WritePoint(writeCtx, point); err != nil {
		return err
	}
	w.metrics.RecordIngestedPoint()
	return nil
}

// closeConnection safely closes the WebSocket connection
func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// Disconnect closes the WebSocket connection
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	slog.Info("Binance WebSocket disconnected")
}

// IsConnected returns connection status
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
