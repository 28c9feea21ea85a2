package domain

import (
	"testing"
)

func TestStaticResolver_Resolve(t *testing.T) {
	r := DefaultResolver()

	tests := []struct {
		token  string
		want   string
		wantOK bool
	}{
		{"btc", "BTCUSDT", true},
		{"BTC", "BTCUSDT", true},
		{" eth ", "ETHUSDT", true},
		{"usdt", "USDTUSD", true},
		{"usdc", "USDCUSD", true},
		{"btcusdt", "BTCUSDT", true},
		{"BTCEUR", "BTCEUR", true},
		{"ethusdc", "ETHUSDC", true},
		{"zzz", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := r.Resolve(tt.token)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Resolve(%q) = (%q, %v), want (%q, %v)", tt.token, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestStaticResolver_ResolveFiat(t *testing.T) {
	r := DefaultResolver()

	for _, token := range []string{"usd", "eur", "GBP", "jpy", "chf", "cny", "cad", "aud", "aed"} {
		if _, ok := r.ResolveFiat(token); !ok {
			t.Errorf("ResolveFiat(%q) should resolve", token)
		}
	}

	if code, _ := r.ResolveFiat("eur"); code != "EUR" {
		t.Errorf("Expected EUR, got %s", code)
	}
	if _, ok := r.ResolveFiat("krw"); ok {
		t.Error("krw should not resolve")
	}
}

func TestStaticResolver_Aliases(t *testing.T) {
	r := NewStaticResolver(map[string]string{"SOL": "solusdt", "": "IGNORED"})

	got, ok := r.Resolve("sol")
	if !ok || got != "SOLUSDT" {
		t.Errorf("Expected alias sol -> SOLUSDT, got %q (%v)", got, ok)
	}
	if !r.IsCanonical("SOLUSDT") {
		t.Error("Alias target should become canonical")
	}
	if _, ok := DefaultResolver().Resolve("sol"); ok {
		t.Error("Aliases must not leak into other resolvers")
	}

	assets := r.BaseAssets()
	if len(assets) != 5 || assets[0] != "btc" {
		t.Errorf("Unexpected base assets: %v", assets)
	}
}
