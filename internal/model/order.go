package model

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Units returns the signed unit count the broker expects for this side.
func (s Side) Units(units int64) int64 {
	if s == SideSell {
		return -units
	}
	return units
}

// OrderState is the lifecycle state of the single managed position.
type OrderState int

const (
	OrderIdle OrderState = iota
	OrderOpening
	OrderOpen
	OrderClosing
)

func (s OrderState) String() string {
	switch s {
	case OrderIdle:
		return "idle"
	case OrderOpening:
		return "opening"
	case OrderOpen:
		return "open"
	case OrderClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ActiveOrder is the one position the engine may hold at a time.
type ActiveOrder struct {
	ID              string    `json:"id"`
	Side            Side      `json:"side"`
	Units           int64     `json:"units"`
	EntryPrice      float64   `json:"entry_price"`
	TakeProfitPrice float64   `json:"take_profit_price"`
	StopLossPrice   float64   `json:"stop_loss_price"`
	OpenedAt        time.Time `json:"opened_at"`
}

// OrderRequest is what the order manager submits to the broker.
type OrderRequest struct {
	Instrument       string
	Units            int64 // signed: negative sells
	TakeProfit       float64
	StopLossDistance float64
}

// OpenPosition is a broker-reported open trade.
type OpenPosition struct {
	TradeID      string  `json:"-"`
	Instrument   string  `json:"-"`
	CurrentUnits float64 `json:"currentUnits"`
	Price        float64 `json:"-"`
	UnrealizedPL float64 `json:"unrealizedPL"`
}

// ClosedTrade is the broker acknowledgement of a close.
type ClosedTrade struct {
	TradeID     string    `json:"trade_id"`
	Price       float64   `json:"price"`
	RealizedPL  float64   `json:"realized_pl"`
	ClosedAt    time.Time `json:"closed_at"`
	AlreadyGone bool      `json:"already_gone"`
}
