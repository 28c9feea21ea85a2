package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewSnapshot(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := NewSnapshot(PricePoint{Symbol: "BTCUSDT", Price: 65000.0, Time: ts}, 10*time.Second)

	if snap.HasError() {
		t.Fatal("Populated snapshot should not carry an error")
	}
	price, ok := snap.Price()
	if !ok || price != 65000.0 {
		t.Errorf("Expected 65000, got %v (%v)", price, ok)
	}
	if snap.Window != "10s" {
		t.Errorf("Expected window 10s, got %s", snap.Window)
	}
	if !snap.Time.Equal(ts) {
		t.Errorf("Expected time %v, got %v", ts, snap.Time)
	}
}

func TestNewErrorSnapshot(t *testing.T) {
	snap := NewErrorSnapshot("ZZZ", 10*time.Second, &NoDataError{Symbol: "ZZZ"})

	if !snap.HasError() {
		t.Fatal("Error snapshot should carry an error")
	}
	if _, ok := snap.Price(); ok {
		t.Error("Error snapshot should not carry a price")
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	body := string(raw)
	if strings.Contains(body, "lastPrice") || strings.Contains(body, `"time"`) {
		t.Errorf("Error snapshot leaked price fields: %s", body)
	}
	if !strings.Contains(body, `"error":"no data found for symbol: ZZZ"`) {
		t.Errorf("Unexpected body: %s", body)
	}

	if NewErrorSnapshot("X", time.Second, nil).Error == "" {
		t.Error("nil error should still produce an error indicator")
	}
}

func TestBroadcastMessage_JSON(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := NewBroadcastMessage("10.0.0.1:5555", NewSnapshot(PricePoint{Symbol: "BTCUSDT", Price: 65000, Time: ts}, 10*time.Second))

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["message"] != "Broadcast from IP: 10.0.0.1:5555" {
		t.Errorf("Unexpected message: %v", decoded["message"])
	}
	data := decoded["data"].(map[string]any)
	if data["symbol"] != "BTCUSDT" || data["lastPrice"] != 65000.0 {
		t.Errorf("Unexpected data: %v", data)
	}
}

func TestFormatWindow(t *testing.T) {
	tests := map[time.Duration]string{
		10 * time.Second:        "10s",
		90 * time.Second:        "90s",
		5 * time.Minute:         "5m",
		24 * time.Hour:          "24h",
		1500 * time.Millisecond: "1500ms",
		0:                       "0s",
	}
	for d, want := range tests {
		if got := FormatWindow(d); got != want {
			t.Errorf("FormatWindow(%v) = %s, want %s", d, got, want)
		}
	}
}

func TestEnvelope(t *testing.T) {
	ok := Success("Price API server is running!")
	if !ok.Success || ok.Error != "" {
		t.Errorf("Unexpected success envelope: %+v", ok)
	}

	fail := Failure(errors.New("boom"))
	if fail.Success || fail.Error != "boom" {
		t.Errorf("Unexpected failure envelope: %+v", fail)
	}
	if Failure(nil).Error == "" {
		t.Error("Failure(nil) should still have an error string")
	}
}
