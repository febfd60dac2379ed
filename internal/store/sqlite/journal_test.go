package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout-trader/internal/model"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func testOrder(id string, opened time.Time) model.ActiveOrder {
	return model.ActiveOrder{
		ID:              id,
		Side:            model.SideBuy,
		Units:           1,
		EntryPrice:      2000,
		TakeProfitPrice: 2006,
		StopLossPrice:   1997,
		OpenedAt:        opened,
	}
}

func TestJournal_OpenThenClose(t *testing.T) {
	j := openTestJournal(t)
	opened := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordOpen(testOrder("42", opened)))
	require.NoError(t, j.RecordOpen(testOrder("42", opened)), "reopen is ignored")

	orders, err := j.Orders(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].ClosedAt)
	assert.Equal(t, model.SideBuy, orders[0].Side)
	assert.True(t, opened.Equal(orders[0].OpenedAt))

	closed := opened.Add(5 * time.Minute)
	require.NoError(t, j.RecordClose(model.OrderEvent{
		Order: testOrder("42", opened), Reason: "take_profit", Price: 2006.2, PL: 6.2,
	}, closed))

	orders, err = j.Orders(context.Background(), 10)
	require.NoError(t, err)
	require.NotNil(t, orders[0].ClosedAt)
	assert.True(t, closed.Equal(*orders[0].ClosedAt))
	assert.InDelta(t, 6.2, *orders[0].RealizedPL, 1e-9)
	assert.Equal(t, "take_profit", *orders[0].CloseReason)
}

func TestJournal_OrdersNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	base := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.RecordOpen(testOrder(id, base.Add(time.Duration(i)*time.Minute))))
	}

	orders, err := j.Orders(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "c", orders[0].ID)
	assert.Equal(t, "b", orders[1].ID)
}

func TestJournal_RunConsumesEvents(t *testing.T) {
	j := openTestJournal(t)
	opened := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	o := testOrder("7", opened)

	ch := make(chan model.Event, 8)
	ch <- model.Event{Kind: model.EventState, Key: "live_price", Payload: 1.0, TS: opened}
	ch <- model.Event{Kind: model.EventOrderOpened, Payload: model.OrderEvent{Order: o}, TS: opened}
	ch <- model.Event{Kind: model.EventOrderClosed, Payload: model.OrderEvent{Order: o, Reason: "stop_loss", Price: 1997, PL: -3}, TS: opened.Add(time.Minute)}
	close(ch)

	j.Run(context.Background(), ch)

	orders, err := j.Orders(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.NotNil(t, orders[0].RealizedPL)
	assert.Equal(t, -3.0, *orders[0].RealizedPL)

	var n int
	require.NoError(t, j.DB().QueryRow(`SELECT COUNT(*) FROM order_events`).Scan(&n))
	assert.Equal(t, 2, n, "state events are not journaled")
}
