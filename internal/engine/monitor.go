package engine

import (
	"context"

	"breakout-trader/internal/execution"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/state"
)

// MonitorCycle checks the managed order against the latest live price. It
// is a no-op until the first price has been stored.
func MonitorCycle(st *state.Store, mgr *execution.Manager, health *metrics.HealthStatus) CycleFunc {
	return func(ctx context.Context) error {
		if health != nil {
			defer func() { health.SetOrderState(mgr.State().String()) }()
		}
		price, ok := st.LivePrice.Get()
		if !ok {
			return nil
		}
		return mgr.Monitor(ctx, price)
	}
}
