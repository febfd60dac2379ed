// Package strategy turns the live price, the TVWAP and the breakout band into
// buy or sell decisions for the order manager.
package strategy

import (
	"context"
	"time"

	"breakout-trader/internal/model"
)

// Signal is a breakout decision. A nil *Signal means no trade.
type Signal struct {
	Side     model.Side `json:"side"`
	Price    float64    `json:"price"`
	TVWAP    float64    `json:"t_vwap"`
	BandHigh float64    `json:"band_high"`
	BandLow  float64    `json:"band_low"`
	Reason   string     `json:"reason"`
	At       time.Time  `json:"at"`
}

// Band is the breakout band. OK is false until enough closes exist.
type Band struct {
	High float64 `json:"high"`
	Low  float64 `json:"low"`
	OK   bool    `json:"ok"`
}

// Inside reports whether price lies within the band, edges included.
func (b Band) Inside(price float64) bool {
	return b.OK && price >= b.Low && price <= b.High
}

// CloseSource is the sample history the band and volatility gate read.
type CloseSource interface {
	Closes() []float64
	LastCloses(n int) []float64
}

// PositionChecker answers whether the broker holds an open position.
type PositionChecker interface {
	OpenPositions(ctx context.Context) ([]model.OpenPosition, error)
}

// OrderPlacer receives signals that passed every gate.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, side model.Side, price float64) error
}
