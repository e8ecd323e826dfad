package stream

import (
	"math"
	"sort"

	"pricestream/pkg/twelvedata"
)

// SymbolState is the live row for one instrument.
type SymbolState struct {
	Last         float64
	LastTickTime int64 // epoch ms
	PrevClose    float64
	DailyClose   float64
	DayOpen      float64
	DayHigh      float64
	DayLow       float64
	DayVolume    int64
	Dirty        bool
}

// Table holds SymbolState per instrument. It is owned by the streamer
// goroutine and is not safe for concurrent use.
type Table struct {
	rows map[string]*SymbolState
}

func NewTable() *Table {
	return &Table{rows: make(map[string]*SymbolState)}
}

// ApplyTick applies one trade. A tick older than the stored tick time, or with
// a non-positive or non-finite price, is discarded and false is returned.
// Ticks with an equal timestamp are applied. dayVolume <= 0 leaves the stored
// volume as is.
func (t *Table) ApplyTick(symbol string, price float64, tsMs, dayVolume int64) bool {
	if !validPrice(price) {
		return false
	}

	row, ok := t.rows[symbol]
	if !ok {
		t.rows[symbol] = &SymbolState{
			Last:         price,
			LastTickTime: tsMs,
			DayHigh:      price,
			DayLow:       price,
			DayVolume:    max(dayVolume, 0),
			Dirty:        true,
		}
		return true
	}

	if tsMs < row.LastTickTime {
		return false
	}
	row.Last = price
	row.LastTickTime = tsMs
	if price > row.DayHigh {
		row.DayHigh = price
	}
	if row.DayLow <= 0 || price < row.DayLow {
		row.DayLow = price
	}
	if dayVolume > 0 {
		row.DayVolume = dayVolume
	}
	row.Dirty = true
	return true
}

// ApplySeed merges a point-in-time quote. Baseline fields are overwritten when
// the quote carries them; the live price only moves when the quote is strictly
// newer than the stored tick. nowMs stands in for a missing quote time.
func (t *Table) ApplySeed(symbol string, q twelvedata.Quote, nowMs int64) {
	tickTime := q.TickTimeMs
	if tickTime <= 0 {
		tickTime = nowMs
	}

	row, ok := t.rows[symbol]
	if !ok {
		t.rows[symbol] = &SymbolState{
			Last:         q.Price,
			LastTickTime: tickTime,
			PrevClose:    q.PrevClose,
			DailyClose:   q.Close,
			DayOpen:      q.Open,
			DayHigh:      q.High,
			DayLow:       q.Low,
			DayVolume:    q.Volume,
			Dirty:        true,
		}
		return
	}

	if q.PrevClose > 0 {
		row.PrevClose = q.PrevClose
	}
	if q.Close > 0 {
		row.DailyClose = q.Close
	}
	if q.Open > 0 {
		row.DayOpen = q.Open
	}
	if q.High > 0 {
		row.DayHigh = q.High
	}
	if q.Low > 0 {
		row.DayLow = q.Low
	}
	if q.Volume > 0 {
		row.DayVolume = q.Volume
	}
	if tickTime > row.LastTickTime && q.Price > 0 {
		row.Last = q.Price
		row.LastTickTime = tickTime
	}
	row.Dirty = true
}

// Get returns a copy of the row for symbol.
func (t *Table) Get(symbol string) (SymbolState, bool) {
	row, ok := t.rows[symbol]
	if !ok {
		return SymbolState{}, false
	}
	return *row, true
}

func (t *Table) Len() int {
	return len(t.rows)
}

// Dirty returns the symbols that are dirty and priced, sorted.
func (t *Table) Dirty() []string {
	var out []string
	for sym, row := range t.rows {
		if row.Dirty && row.Last > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Priced returns every symbol with a known price, sorted.
func (t *Table) Priced() []string {
	out := make([]string, 0, len(t.rows))
	for sym, row := range t.rows {
		if row.Last > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func (t *Table) markClean(symbol string) {
	if row, ok := t.rows[symbol]; ok {
		row.Dirty = false
	}
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
