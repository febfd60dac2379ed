// Package portfolio polls the broker for account figures and closed-trade
// history and publishes them to the shared state.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"

	"breakout-trader/internal/indicator"
	"breakout-trader/internal/logger"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
)

// AccountMonitor refreshes the account snapshot. A failed poll leaves the
// previous snapshot in place.
type AccountMonitor struct {
	broker model.Broker
	st     *state.Store
	m      *metrics.Metrics
	health *metrics.HealthStatus
	log    *slog.Logger
}

// NewAccountMonitor wires a monitor. health may be nil.
func NewAccountMonitor(broker model.Broker, st *state.Store, m *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) *AccountMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &AccountMonitor{broker: broker, st: st, m: m, health: health, log: log.With("component", "account")}
}

// Poll runs one cycle.
func (a *AccountMonitor) Poll(ctx context.Context) error {
	snap, err := a.broker.AccountSummary(ctx)
	if err != nil {
		a.m.BrokerErrors.WithLabelValues("account_summary").Inc()
		if a.health != nil {
			a.health.SetBrokerOK(false)
		}
		a.log.Warn("account poll failed, keeping previous snapshot",
			append(logger.LogWithTrace(ctx), "error", err)...)
		return fmt.Errorf("account summary: %w", err)
	}
	if a.health != nil {
		a.health.SetBrokerOK(true)
	}

	snap.Balance = indicator.Round(snap.Balance, 2)
	snap.UnrealizedPL = indicator.Round(snap.UnrealizedPL, 2)
	snap.RealizedPL = indicator.Round(snap.RealizedPL, 2)
	a.st.Account.Set(snap)
	return nil
}
