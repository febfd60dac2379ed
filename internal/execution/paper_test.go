package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"breakout-trader/internal/model"
	"breakout-trader/internal/model/mocks"
)

func livePrice(f *mocks.Feed, px float64) *mock.Call {
	return f.On("FetchLivePrice", mock.Anything).Return(model.PriceSample{Close: px}, nil).Once()
}

func TestPaperBroker_FillAndClose(t *testing.T) {
	ctx := context.Background()
	f := &mocks.Feed{}
	p := NewPaperBroker(f, 1000, nil)

	livePrice(f, 2000)
	id, err := p.SubmitOrder(ctx, model.OrderRequest{Instrument: "XAU_USD", Units: -2})
	require.NoError(t, err)

	livePrice(f, 1995)
	pos, err := p.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, -2.0, pos[0].CurrentUnits)
	assert.Equal(t, 10.0, pos[0].UnrealizedPL)

	livePrice(f, 1990)
	closed, err := p.CloseTrade(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 20.0, closed.RealizedPL)
	assert.False(t, closed.AlreadyGone)

	livePrice(f, 1990)
	snap, err := p.AccountSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1020.0, snap.Balance)
	assert.Equal(t, 20.0, snap.RealizedPL)
	assert.Zero(t, snap.UnrealizedPL)

	pos, err = p.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pos, "no price fetch needed without trades")
	f.AssertExpectations(t)
}

func TestPaperBroker_CloseUnknownIsAlreadyGone(t *testing.T) {
	p := NewPaperBroker(&mocks.Feed{}, 0, nil)
	closed, err := p.CloseTrade(context.Background(), "404")
	require.NoError(t, err)
	assert.True(t, closed.AlreadyGone)
}

func TestPaperBroker_RejectsWithoutPrice(t *testing.T) {
	f := &mocks.Feed{}
	f.On("FetchLivePrice", mock.Anything).Return(nil, errors.New("feed down"))
	p := NewPaperBroker(f, 0, nil)

	_, err := p.SubmitOrder(context.Background(), model.OrderRequest{Units: 1})
	assert.ErrorIs(t, err, model.ErrBrokerRejected)
}

func TestPaperBroker_TransactionsCarryPL(t *testing.T) {
	ctx := context.Background()
	f := &mocks.Feed{}
	p := NewPaperBroker(f, 0, nil)

	livePrice(f, 100)
	id, err := p.SubmitOrder(ctx, model.OrderRequest{Units: 1})
	require.NoError(t, err)
	livePrice(f, 103)
	_, err = p.CloseTrade(ctx, id)
	require.NoError(t, err)

	txns, err := p.RecentTransactions(ctx, 100)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Nil(t, txns[0].PL)
	require.NotNil(t, txns[1].PL)
	assert.Equal(t, 3.0, *txns[1].PL)

	txns, err = p.RecentTransactions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestDailyFromRows(t *testing.T) {
	d1 := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	rows := []model.CandleRow{
		{Time: d1.Add(time.Hour), Open: 10, High: 12, Low: 9, Close: 11},
		{Time: d1.Add(2 * time.Hour), Open: 11, High: 15, Low: 10, Close: 14},
		{Time: d2.Add(time.Hour), Open: 14, High: 16, Low: 8, Close: 9},
	}

	days := DailyFromRows(rows, d1, d2)
	require.Len(t, days, 1)
	assert.Equal(t, model.DailyCandle{Time: d1, Open: 10, High: 15, Low: 9, Close: 14, Complete: true}, days[0])

	days = DailyFromRows(rows, d1, d2.AddDate(0, 0, 1))
	require.Len(t, days, 2)
	assert.False(t, days[1].Complete, "rows have not reached the second day's close")
}

func TestDailyFromRows_SplitsAtMidnightInFromLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	from := time.Date(2024, 3, 12, 0, 0, 0, 0, ny) // 04:00Z
	rows := []model.CandleRow{
		{Time: time.Date(2024, 3, 12, 3, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1},
		{Time: time.Date(2024, 3, 12, 4, 0, 0, 0, time.UTC), Open: 10, High: 12, Low: 9, Close: 11},
		{Time: time.Date(2024, 3, 13, 2, 0, 0, 0, time.UTC), Open: 11, High: 13, Low: 10, Close: 12},
		{Time: time.Date(2024, 3, 13, 5, 0, 0, 0, time.UTC), Open: 20, High: 20, Low: 20, Close: 20},
	}

	days := DailyFromRows(rows, from, from.AddDate(0, 0, 1))
	require.Len(t, days, 1, "rows past UTC midnight still belong to the New York day")
	assert.True(t, days[0].Time.Equal(from))
	assert.Equal(t, 10.0, days[0].Open)
	assert.Equal(t, 13.0, days[0].High)
	assert.Equal(t, 12.0, days[0].Close)
	assert.True(t, days[0].Complete)
}

func TestPaperBroker_HistoricalCandlesDailyOnly(t *testing.T) {
	p := NewPaperBroker(&mocks.Feed{}, 0, nil)
	_, err := p.HistoricalCandles(context.Background(), "XAU_USD", time.Now(), time.Now(), "H1")
	assert.ErrorIs(t, err, model.ErrBrokerRejected)
}
