// Package mocks holds testify mocks of the collaborator ports.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"breakout-trader/internal/model"
)

// Broker mocks model.Broker.
type Broker struct{ mock.Mock }

var _ model.Broker = (*Broker)(nil)

func (b *Broker) AccountSummary(ctx context.Context) (model.AccountSnapshot, error) {
	args := b.Called(ctx)
	snap, _ := args.Get(0).(model.AccountSnapshot)
	return snap, args.Error(1)
}

func (b *Broker) OpenPositions(ctx context.Context) ([]model.OpenPosition, error) {
	args := b.Called(ctx)
	pos, _ := args.Get(0).([]model.OpenPosition)
	return pos, args.Error(1)
}

func (b *Broker) SubmitOrder(ctx context.Context, req model.OrderRequest) (string, error) {
	args := b.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (b *Broker) CloseTrade(ctx context.Context, tradeID string) (model.ClosedTrade, error) {
	args := b.Called(ctx, tradeID)
	ct, _ := args.Get(0).(model.ClosedTrade)
	return ct, args.Error(1)
}

func (b *Broker) HistoricalCandles(ctx context.Context, instrument string, from, to time.Time, granularity string) ([]model.DailyCandle, error) {
	args := b.Called(ctx, instrument, from, to, granularity)
	rows, _ := args.Get(0).([]model.DailyCandle)
	return rows, args.Error(1)
}

func (b *Broker) RecentTransactions(ctx context.Context, count int) ([]model.Transaction, error) {
	args := b.Called(ctx, count)
	txns, _ := args.Get(0).([]model.Transaction)
	return txns, args.Error(1)
}

// Feed mocks model.Feed.
type Feed struct{ mock.Mock }

var _ model.Feed = (*Feed)(nil)

func (f *Feed) FetchLivePrice(ctx context.Context) (model.PriceSample, error) {
	args := f.Called(ctx)
	s, _ := args.Get(0).(model.PriceSample)
	return s, args.Error(1)
}

func (f *Feed) FetchCandles(ctx context.Context) ([]model.CandleRow, error) {
	args := f.Called(ctx)
	rows, _ := args.Get(0).([]model.CandleRow)
	return rows, args.Error(1)
}
