package model

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBrokerRejected wraps any broker refusal of an order or close.
	ErrBrokerRejected = errors.New("broker rejected request")
	// ErrTradeNotFound is returned when the broker has no such trade.
	ErrTradeNotFound = errors.New("trade not found")
)

// ── Collaborator ports ──
// The engine reaches the outside world only through these interfaces.

// Feed serves CSV snapshots of the live price and the candle series.
type Feed interface {
	// FetchLivePrice returns the most recent row of the live-price snapshot.
	FetchLivePrice(ctx context.Context) (PriceSample, error)

	// FetchCandles returns every row of the candle snapshot.
	FetchCandles(ctx context.Context) ([]CandleRow, error)
}

// Broker is the narrow surface of the trading venue the engine depends on.
type Broker interface {
	AccountSummary(ctx context.Context) (AccountSnapshot, error)
	OpenPositions(ctx context.Context) ([]OpenPosition, error)

	// SubmitOrder places a market order with take-profit and stop-loss on fill
	// and returns the broker's trade id.
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)

	// CloseTrade closes an open trade. Closing a trade that no longer exists
	// returns ClosedTrade{AlreadyGone: true} and no error.
	CloseTrade(ctx context.Context, tradeID string) (ClosedTrade, error)

	HistoricalCandles(ctx context.Context, instrument string, from, to time.Time, granularity string) ([]DailyCandle, error)

	// RecentTransactions returns up to count of the latest account transactions.
	RecentTransactions(ctx context.Context, count int) ([]Transaction, error)
}
