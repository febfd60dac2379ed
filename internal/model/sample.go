package model

import "time"

// PriceSample is one accepted live-price observation. Immutable once accepted.
type PriceSample struct {
	Timestamp time.Time `json:"timestamp"` // feed-supplied, UTC
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
}

// CandleRow is a single row of the candle feed snapshot.
// RSI is only set on the most recent row of an analytics snapshot.
type CandleRow struct {
	Time   time.Time `json:"Time"`
	Open   float64   `json:"Open"`
	High   float64   `json:"High"`
	Low    float64   `json:"Low"`
	Close  float64   `json:"Close"`
	Volume float64   `json:"Volume,omitempty"`
	RSI    *float64  `json:"RSI,omitempty"`
}

// Closes extracts the close column from rows.
func Closes(rows []CandleRow) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Close
	}
	return out
}

// DailyCandle is a broker-supplied historical candle (bid side).
type DailyCandle struct {
	Time     time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Complete bool      `json:"complete"`
}
