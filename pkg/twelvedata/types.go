package twelvedata

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Inbound websocket event kinds.
const (
	EventSubscribeStatus = "subscribe-status"
	EventHeartbeat       = "heartbeat"
	EventPrice           = "price"
)

// SubscribeRequest is the outbound subscribe frame.
type SubscribeRequest struct {
	Action string          `json:"action"` // always "subscribe"
	Params SubscribeParams `json:"params"`
}

type SubscribeParams struct {
	Symbols string `json:"symbols"` // comma-joined wire symbols
}

// HeartbeatRequest is the outbound liveness frame.
type HeartbeatRequest struct {
	Action string `json:"action"` // always "heartbeat"
}

// Event is any inbound websocket frame. Only the fields relevant to the
// event kind are populated.
type Event struct {
	Event     string  `json:"event"`
	Status    string  `json:"status"`
	Symbol    string  `json:"symbol"`
	Price     Number  `json:"price"`
	Timestamp Number  `json:"timestamp"`  // epoch seconds
	DayVolume Number  `json:"day_volume"` // optional
	Success   []Entry `json:"success"`    // subscribe-status only
	Fails     []Entry `json:"fails"`      // subscribe-status only
}

type Entry struct {
	Symbol string `json:"symbol"`
}

// ParseEvent decodes one inbound frame.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// QuoteResponse is one entry of the REST /quote response. Numeric fields
// arrive as strings.
type QuoteResponse struct {
	Symbol        string `json:"symbol"`
	Open          Number `json:"open"`
	High          Number `json:"high"`
	Low           Number `json:"low"`
	Close         Number `json:"close"`
	Volume        Number `json:"volume"`
	PreviousClose Number `json:"previous_close"`
	Timestamp     Number `json:"timestamp"` // epoch seconds

	// error envelope
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Quote is the point-in-time baseline for one instrument.
type Quote struct {
	Price      float64
	TickTimeMs int64 // 0 when the provider sent no timestamp
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	PrevClose  float64
}

// Number accepts a JSON number, a numeric string or null.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = Number{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// non-numeric strings are treated as absent
			*n = Number{}
			return nil
		}
		*n = Number{Value: v, Valid: true}
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*n = Number{}
		return nil
	}
	*n = Number{Value: v, Valid: true}
	return nil
}

// Or returns the value, or def when absent.
func (n Number) Or(def float64) float64 {
	if !n.Valid {
		return def
	}
	return n.Value
}

// toQuote converts a REST quote. ok is false when close is missing.
func (r QuoteResponse) toQuote() (Quote, bool) {
	if !r.Close.Valid {
		return Quote{}, false
	}
	q := Quote{
		Price:     r.Close.Value,
		Open:      r.Open.Or(0),
		High:      r.High.Or(0),
		Low:       r.Low.Or(0),
		Close:     r.Close.Value,
		Volume:    int64(r.Volume.Or(0)),
		PrevClose: r.PreviousClose.Or(0),
	}
	if r.Timestamp.Valid && r.Timestamp.Value > 0 {
		q.TickTimeMs = int64(r.Timestamp.Value * 1000)
	}
	return q, true
}
