package portfolio

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/model/mocks"
	"breakout-trader/internal/state"
)

func newMetrics() *metrics.Metrics { return metrics.NewMetrics(prometheus.NewRegistry()) }

func TestAccountMonitor_RoundsToCents(t *testing.T) {
	b := &mocks.Broker{}
	b.On("AccountSummary", mock.Anything).Return(model.AccountSnapshot{
		Balance: 100234.5678, UnrealizedPL: -1.234, RealizedPL: 12.005,
	}, nil)
	st := state.New()
	health := metrics.NewHealthStatus()
	a := NewAccountMonitor(b, st, newMetrics(), health, nil)

	require.NoError(t, a.Poll(context.Background()))
	snap, ok := st.Account.Get()
	require.True(t, ok)
	assert.Equal(t, 100234.57, snap.Balance)
	assert.Equal(t, -1.23, snap.UnrealizedPL)
	assert.Equal(t, 12.01, snap.RealizedPL)
}

func TestAccountMonitor_FailuresKeepLastSnapshot(t *testing.T) {
	b := &mocks.Broker{}
	b.On("AccountSummary", mock.Anything).Return(model.AccountSnapshot{Balance: 5000, RealizedPL: 12}, nil).Once()
	b.On("AccountSummary", mock.Anything).Return(nil, errors.New("connection reset")).Twice()
	st := state.New()
	a := NewAccountMonitor(b, st, newMetrics(), nil, nil)
	ctx := context.Background()

	require.NoError(t, a.Poll(ctx))
	assert.Error(t, a.Poll(ctx))
	assert.Error(t, a.Poll(ctx))

	snap, ok := st.Account.Get()
	require.True(t, ok)
	assert.Equal(t, 5000.0, snap.Balance)
	assert.Equal(t, 12.0, snap.RealizedPL)
	b.AssertExpectations(t)
}

func ptr(v float64) *float64 { return &v }

func TestClosedFills(t *testing.T) {
	txns := []model.Transaction{
		{ID: "1", OrderID: "a", Units: ptr(1), Price: ptr(2000)},
		{ID: "2", OrderID: "b", Units: ptr(-1), Price: ptr(2006), PL: ptr(6)},
		{ID: "3", OrderID: "c", Units: ptr(1), Price: ptr(2000), PL: ptr(0)},
		{ID: "4", Type: "DAILY_FINANCING", PL: ptr(-0.2)},
	}
	got := ClosedFills(txns)
	assert.Equal(t, []model.TradeHistoryEntry{{OrderID: "b", Units: -1, PL: 6, Price: 2006}}, got)
}

func TestHistoryPoller_KeepsPreviousOnFailure(t *testing.T) {
	b := &mocks.Broker{}
	b.On("RecentTransactions", mock.Anything, HistoryWindow).Return([]model.Transaction{
		{OrderID: "b", Units: ptr(-1), Price: ptr(2006), PL: ptr(6)},
	}, nil).Once()
	b.On("RecentTransactions", mock.Anything, HistoryWindow).Return(nil, errors.New("boom")).Once()
	st := state.New()
	h := NewHistoryPoller(b, st, newMetrics(), nil)

	require.NoError(t, h.Poll(context.Background()))
	assert.Error(t, h.Poll(context.Background()))

	hist, ok := st.History.Get()
	require.True(t, ok)
	assert.Len(t, hist, 1)
}
