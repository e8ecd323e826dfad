package stream

import (
	"github.com/shopspring/decimal"

	"pricestream/internal/session"
)

// PriceRow is the per-symbol payload pushed to the hub and merged into the
// durable snapshot.
type PriceRow struct {
	P   float64  `json:"p"`
	PC  float64  `json:"pc"`
	DC  *float64 `json:"dc"`
	DP  *float64 `json:"dp"`
	DH  float64  `json:"dh"`
	DL  float64  `json:"dl"`
	DV  int64    `json:"dv"`
	T   int64    `json:"t"`
	AHC *float64 `json:"ahc,omitempty"` // after-hours change vs dailyClose, PRE/AFTER only
	AHP *float64 `json:"ahp,omitempty"`
}

// PriceView is one entry of the prices() dump.
type PriceView struct {
	P   float64 `json:"p"`
	T   int64   `json:"t"`
	PC  float64 `json:"pc"`
	DC  float64 `json:"dc"`
	DP  float64 `json:"dp"`
	O   float64 `json:"o"`
	H   float64 `json:"h"`
	L   float64 `json:"l"`
	C   float64 `json:"c"`
	V   int64   `json:"v"`
	Src string  `json:"src"`
}

// change returns the rounded absolute and percent change of last against
// base, or nils when base is unknown.
func change(last, base float64) (*float64, *float64) {
	if base <= 0 {
		return nil, nil
	}
	l, b := decimal.NewFromFloat(last), decimal.NewFromFloat(base)
	diff := l.Sub(b)
	abs := diff.Round(2).InexactFloat64()
	pct := diff.Div(b).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	return &abs, &pct
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// deriveRow builds the outbound row. After-hours deltas are only filled in
// PRE and AFTER sessions.
func deriveRow(s SymbolState, sess session.Session) PriceRow {
	row := PriceRow{
		P:  round2(s.Last),
		PC: round2(s.PrevClose),
		DH: round2(s.DayHigh),
		DL: round2(s.DayLow),
		DV: s.DayVolume,
		T:  s.LastTickTime,
	}
	row.DC, row.DP = change(s.Last, s.PrevClose)
	if sess == session.Pre || sess == session.After {
		row.AHC, row.AHP = change(s.Last, s.DailyClose)
	}
	return row
}

// deriveView builds the read-side entry; unknown changes read as 0.
func deriveView(s SymbolState, src string) PriceView {
	v := PriceView{
		P:   s.Last,
		T:   s.LastTickTime,
		PC:  s.PrevClose,
		O:   s.DayOpen,
		H:   s.DayHigh,
		L:   s.DayLow,
		C:   s.DailyClose,
		V:   s.DayVolume,
		Src: src,
	}
	if dc, dp := change(s.Last, s.PrevClose); dc != nil {
		v.DC, v.DP = *dc, *dp
	}
	return v
}

// fields flattens the row for merging into a stored snapshot entry.
func (r PriceRow) fields() map[string]any {
	m := map[string]any{
		"p":  r.P,
		"pc": r.PC,
		"dc": nil,
		"dp": nil,
		"dh": r.DH,
		"dl": r.DL,
		"dv": r.DV,
		"t":  r.T,
	}
	if r.DC != nil {
		m["dc"] = *r.DC
		m["dp"] = *r.DP
	}
	if r.AHC != nil {
		m["ahc"] = *r.AHC
		m["ahp"] = *r.AHP
	}
	return m
}
