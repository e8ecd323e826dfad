package twelvedata

import (
	"sort"
	"strings"
)

// Default mappings between internal tickers and TwelveData wire symbols.
var (
	DefaultCryptoPairs  = map[string]string{"BTCUSD": "BTC/USD", "ETHUSD": "ETH/USD"}
	DefaultClassAliases = map[string]string{"BRK-B": "BRK.B"}
	DefaultSkipTickers  = []string{"ES1!", "NQ1!", "GOLD", "SILVER", "VX1!", "US500", "GC1!", "SI1!"}
)

// Translator maps internal tickers to wire symbols and back. Unknown symbols
// pass through unchanged in both directions.
type Translator struct {
	toWire   map[string]string
	fromWire map[string]string
	skip     map[string]struct{}
}

// NewTranslator builds a translator from internal→wire maps and a skip list.
// Keys and values are upper-cased. A wire symbol claimed by more than one
// internal ticker keeps only the first (in sorted key order) so the mapping
// stays one-to-one.
func NewTranslator(cryptoPairs, classAliases map[string]string, skip []string) *Translator {
	t := &Translator{
		toWire:   make(map[string]string),
		fromWire: make(map[string]string),
		skip:     make(map[string]struct{}, len(skip)),
	}
	t.addAll(cryptoPairs)
	t.addAll(classAliases)
	for _, s := range skip {
		if s = normalize(s); s != "" {
			t.skip[s] = struct{}{}
		}
	}
	return t
}

// DefaultTranslator uses the built-in crypto, class and skip tables.
func DefaultTranslator() *Translator {
	return NewTranslator(DefaultCryptoPairs, DefaultClassAliases, DefaultSkipTickers)
}

func (t *Translator) addAll(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		internal, wire := normalize(k), normalize(m[k])
		if internal == "" || wire == "" {
			continue
		}
		if _, taken := t.toWire[internal]; taken {
			continue
		}
		if _, taken := t.fromWire[wire]; taken {
			continue
		}
		t.toWire[internal] = wire
		t.fromWire[wire] = internal
	}
}

// ToWire returns the provider symbol for an internal ticker.
func (t *Translator) ToWire(symbol string) string {
	if w, ok := t.toWire[symbol]; ok {
		return w
	}
	return symbol
}

// FromWire returns the internal ticker for a provider symbol.
func (t *Translator) FromWire(wire string) string {
	if s, ok := t.fromWire[wire]; ok {
		return s
	}
	return wire
}

// Skipped reports whether the provider cannot serve symbol.
func (t *Translator) Skipped(symbol string) bool {
	_, ok := t.skip[normalize(symbol)]
	return ok
}

// Filter normalizes symbols, drops skipped ones and duplicates, and keeps
// the input order.
func (t *Translator) Filter(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = normalize(s)
		if s == "" || t.Skipped(s) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// WireSymbols translates symbols for a subscribe or quote request, dropping
// skipped ones.
func (t *Translator) WireSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if t.Skipped(s) {
			continue
		}
		out = append(out, t.ToWire(s))
	}
	return out
}

func normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
