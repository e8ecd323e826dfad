package twelvedata

import (
	"reflect"
	"testing"
)

// go test -v --run TestTranslatorRoundTrip
func TestTranslatorRoundTrip(t *testing.T) {
	tr := DefaultTranslator()

	tests := []struct {
		internal string
		wire     string
	}{
		{"BTCUSD", "BTC/USD"},
		{"ETHUSD", "ETH/USD"},
		{"BRK-B", "BRK.B"},
		{"AAPL", "AAPL"},
	}
	for _, tt := range tests {
		if got := tr.ToWire(tt.internal); got != tt.wire {
			t.Errorf("ToWire(%q) = %q, want %q", tt.internal, got, tt.wire)
		}
		if got := tr.FromWire(tt.wire); got != tt.internal {
			t.Errorf("FromWire(%q) = %q, want %q", tt.wire, got, tt.internal)
		}
		if got := tr.FromWire(tr.ToWire(tt.internal)); got != tt.internal {
			t.Errorf("round trip %q = %q", tt.internal, got)
		}
	}
}

// go test -v --run TestTranslatorKeepsMappingOneToOne
func TestTranslatorKeepsMappingOneToOne(t *testing.T) {
	// viper hands map keys back lower-cased
	tr := NewTranslator(map[string]string{"btcusd": "BTC/USD", "xbtusd": "btc/usd"}, nil, nil)

	if got := tr.ToWire("BTCUSD"); got != "BTC/USD" {
		t.Errorf("ToWire(BTCUSD) = %q", got)
	}
	if got := tr.ToWire("XBTUSD"); got != "XBTUSD" {
		t.Errorf("ToWire(XBTUSD) = %q, want pass-through", got)
	}
	if got := tr.FromWire("BTC/USD"); got != "BTCUSD" {
		t.Errorf("FromWire(BTC/USD) = %q", got)
	}
}

// go test -v --run TestTranslatorFilter
func TestTranslatorFilter(t *testing.T) {
	tr := DefaultTranslator()

	got := tr.Filter([]string{"aapl", "ES1!", "MSFT", " AAPL ", "", "gold", "BTCUSD"})
	want := []string{"AAPL", "MSFT", "BTCUSD"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Filter() = %v, want %v", got, want)
	}

	if wire := tr.WireSymbols([]string{"BTCUSD", "NQ1!", "BRK-B"}); !reflect.DeepEqual(wire, []string{"BTC/USD", "BRK.B"}) {
		t.Errorf("WireSymbols() = %v", wire)
	}
}
