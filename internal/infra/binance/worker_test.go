package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"price_stream/internal/domain"

	"github.com/gorilla/websocket"
)

type recordingWriter struct {
	mu     sync.Mutex
	points []domain.PricePoint
	err    error
	got    chan struct{}
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{got: make(chan struct{}, 16)}
}

func (r *recordingWriter) WritePoint(_ context.Context, p domain.PricePoint) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.points = append(r.points, p)
	r.mu.Unlock()
	select {
	case r.got <- struct{}{}:
	default:
	}
	return nil
}

func (r *recordingWriter) snapshot() []domain.PricePoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PricePoint(nil), r.points...)
}

const tickerMsg = `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1704067200000,"s":"BTCUSDT","c":"65000.50"}}`

func TestWorker_HandleMessage(t *testing.T) {
	writer := newRecordingWriter()
	w := NewWorker("", []string{"BTCUSDT"}, writer, nil)

	if err := w.handleMessage(context.Background(), []byte(tickerMsg)); err != nil {
		t.Fatalf("handleMessage failed: %v", err)
	}

	points := writer.snapshot()
	if len(points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(points))
	}
	p := points[0]
	if p.Symbol != "BTCUSDT" || p.Price != 65000.50 {
		t.Errorf("Unexpected point: %+v", p)
	}
	if p.LastUpdateTime != "1704067200000" {
		t.Errorf("Expected lastUpdateTime from event time, got %s", p.LastUpdateTime)
	}
	if !p.Time.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected time: %v", p.Time)
	}
}

func TestWorker_HandleMessage_Invalid(t *testing.T) {
	writer := newRecordingWriter()
	w := NewWorker("", []string{"BTCUSDT"}, writer, nil)
	ctx := context.Background()

	if err := w.handleMessage(ctx, []byte("not json")); err == nil {
		t.Error("Expected parse error")
	}
	if err := w.handleMessage(ctx, []byte(`{"stream":"x","data":{"e":"24hrTicker","s":"BTCUSDT","c":"abc"}}`)); err == nil {
		t.Error("Expected price parse error")
	}
	if err := w.handleMessage(ctx, []byte(`{"result":null,"id":1}`)); err != nil {
		t.Errorf("Non-ticker messages should be ignored, got %v", err)
	}
	if len(writer.snapshot()) != 0 {
		t.Error("No points should be written")
	}

	writer.err = errors.New("store down")
	if err := w.handleMessage(ctx, []byte(tickerMsg)); err == nil {
		t.Error("Writer errors should be returned")
	}
}

func TestWorker_StreamURL(t *testing.T) {
	w := NewWorker("wss://example.test/stream", []string{"BTCUSDT", "ethusdt"}, nil, nil)

	want := "wss://example.test/stream?streams=btcusdt@ticker/ethusdt@ticker"
	if got := w.streamURL(); got != want {
		t.Errorf("streamURL() = %s, want %s", got, want)
	}
}

func TestWorker_ConnectAndIngest(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var query atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(tickerMsg))
		// Hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	writer := newRecordingWriter()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	w := NewWorker(url, []string{"BTCUSDT"}, writer, nil)

	if err := w.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-writer.got:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for ingested point")
	}

	if !w.IsConnected() {
		t.Error("Expected connected worker")
	}
	if got := query.Load(); got != "btcusdt@ticker" {
		t.Errorf("Unexpected streams query: %v", got)
	}

	w.Disconnect()
	if w.IsConnected() {
		t.Error("Expected disconnected worker")
	}
}

func TestWorker_ConnectWithoutSymbols(t *testing.T) {
	w := NewWorker("", nil, newRecordingWriter(), nil)
	if err := w.Connect(context.Background()); err == nil {
		t.Error("Expected error without symbols")
	}
}
