package portfolio

import (
	"context"
	"fmt"
	"log/slog"

	"breakout-trader/internal/logger"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
)

// HistoryWindow is how many recent transactions each poll inspects.
const HistoryWindow = 100

// HistoryPoller keeps the list of recent closing transactions.
type HistoryPoller struct {
	broker model.Broker
	st     *state.Store
	m      *metrics.Metrics
	log    *slog.Logger
}

func NewHistoryPoller(broker model.Broker, st *state.Store, m *metrics.Metrics, log *slog.Logger) *HistoryPoller {
	if log == nil {
		log = slog.Default()
	}
	return &HistoryPoller{broker: broker, st: st, m: m, log: log.With("component", "history")}
}

// Poll replaces the stored history with the closing fills among the latest
// HistoryWindow transactions. On failure the previous list stays.
func (h *HistoryPoller) Poll(ctx context.Context) error {
	txns, err := h.broker.RecentTransactions(ctx, HistoryWindow)
	if err != nil {
		h.m.BrokerErrors.WithLabelValues("transactions").Inc()
		h.log.Warn("history poll failed", append(logger.LogWithTrace(ctx), "error", err)...)
		return fmt.Errorf("recent transactions: %w", err)
	}
	h.st.History.Set(ClosedFills(txns))
	return nil
}

// ClosedFills keeps transactions that carry units, a price and a non-zero
// realised P/L.
func ClosedFills(txns []model.Transaction) []model.TradeHistoryEntry {
	out := make([]model.TradeHistoryEntry, 0, len(txns))
	for _, t := range txns {
		if t.Units == nil || t.Price == nil || t.PL == nil || *t.PL == 0 {
			continue
		}
		out = append(out, model.TradeHistoryEntry{
			OrderID: t.OrderID,
			Units:   *t.Units,
			PL:      *t.PL,
			Price:   *t.Price,
		})
	}
	return out
}
