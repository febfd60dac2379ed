package model

import "time"

// AccountSnapshot is refreshed wholesale on every account poll.
type AccountSnapshot struct {
	Balance      float64   `json:"balance"`
	UnrealizedPL float64   `json:"unrealizedPL"`
	RealizedPL   float64   `json:"pl"`
	UpdatedAt    time.Time `json:"-"`
}

// TradeHistoryEntry is a closing transaction with realised P/L.
type TradeHistoryEntry struct {
	OrderID string  `json:"order_id"`
	Units   float64 `json:"units"`
	PL      float64 `json:"pl"`
	Price   float64 `json:"price"`
}

// Transaction is the subset of a broker transaction the history poller reads.
type Transaction struct {
	ID      string
	Type    string
	OrderID string
	Units   *float64
	Price   *float64
	PL      *float64
}

// Pivots are classic floor-trader levels from the prior trading day.
type Pivots struct {
	PivotPoint float64   `json:"pivot_point"`
	S1         float64   `json:"s1"`
	S2         float64   `json:"s2"`
	R1         float64   `json:"r1"`
	R2         float64   `json:"r2"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Day        time.Time `json:"day"`
}

// VolatilityReading is the live volatility estimate with its inputs.
type VolatilityReading struct {
	Value     float64   `json:"volatility"`
	TVWAP     float64   `json:"t_vwap"`
	UpdatedAt time.Time `json:"last_updated"`
}

// Analytics is the candle-derived cache entry.
type Analytics struct {
	Rows      []CandleRow `json:"rows"`
	RSI       *float64    `json:"rsi"`
	ATR       *float64    `json:"atr"`
	MAShort   *float64    `json:"ma_50"`
	MALong    *float64    `json:"ma_200"`
	UpdatedAt time.Time   `json:"updated_at"`
}
