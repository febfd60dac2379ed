// Package execution owns the single position the engine may hold: it opens
// it through the broker, watches it against the live price and closes it on
// take-profit or stop-loss.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"breakout-trader/internal/logger"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
)

var (
	// ErrNotIdle is returned by PlaceOrder while an order is in flight or open.
	ErrNotIdle = errors.New("order manager is not idle")
	// ErrPositionOpen is returned when the broker already reports a position.
	ErrPositionOpen = errors.New("broker reports an open position")
)

const (
	ReasonTakeProfit = "take_profit"
	ReasonStopLoss   = "stop_loss"
)

// Config holds order sizing and exit distances.
type Config struct {
	Instrument       string
	Units            int64
	TakeProfitOffset float64
	StopLossDistance float64
	SubmitTimeout    time.Duration
}

// Manager runs the Idle → Opening → Open → Closing → Idle state machine.
// Broker calls happen outside the lock; the Opening and Closing states keep
// other callers out meanwhile.
type Manager struct {
	cfg     Config
	broker  model.Broker
	st      *state.Store
	publish func(model.Event) bool
	m       *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	state   model.OrderState
	order   *model.ActiveOrder
	reason  string
	closing bool
}

// NewManager creates an idle manager. publish may be nil.
func NewManager(cfg Config, broker model.Broker, st *state.Store, publish func(model.Event) bool,
	m *metrics.Metrics, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	mgr := &Manager{
		cfg:     cfg,
		broker:  broker,
		st:      st,
		publish: publish,
		m:       m,
		log:     log.With("component", "orders"),
		now:     time.Now,
	}
	mgr.st.Order.Set(state.OrderView{State: model.OrderIdle.String()})
	return mgr
}

// TakeProfit returns the take-profit level, rounded to a whole price away
// from entry.
func TakeProfit(side model.Side, entry, offset float64) float64 {
	e := decimal.NewFromFloat(entry)
	o := decimal.NewFromFloat(offset)
	if side == model.SideSell {
		return e.Sub(o).Floor().InexactFloat64()
	}
	return e.Add(o).Ceil().InexactFloat64()
}

// StopLoss returns the stop-loss level at distance from entry.
func StopLoss(side model.Side, entry, distance float64) float64 {
	e := decimal.NewFromFloat(entry)
	d := decimal.NewFromFloat(distance)
	if side == model.SideSell {
		return e.Add(d).InexactFloat64()
	}
	return e.Sub(d).InexactFloat64()
}

// Triggered reports whether price hits the order's take-profit or stop-loss,
// and which.
func Triggered(o model.ActiveOrder, price float64) (string, bool) {
	switch o.Side {
	case model.SideBuy:
		if price >= o.TakeProfitPrice {
			return ReasonTakeProfit, true
		}
		if price <= o.StopLossPrice {
			return ReasonStopLoss, true
		}
	case model.SideSell:
		if price <= o.TakeProfitPrice {
			return ReasonTakeProfit, true
		}
		if price >= o.StopLossPrice {
			return ReasonStopLoss, true
		}
	}
	return "", false
}

// PlaceOrder opens a position at entry. It is refused unless the manager is
// idle and the broker confirms no position is open.
func (mgr *Manager) PlaceOrder(ctx context.Context, side model.Side, entry float64) error {
	mgr.mu.Lock()
	if mgr.state != model.OrderIdle {
		st := mgr.state
		mgr.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotIdle, st)
	}
	mgr.transition(model.OrderOpening, nil)
	mgr.mu.Unlock()

	open, err := mgr.broker.OpenPositions(ctx)
	if err != nil {
		mgr.m.BrokerErrors.WithLabelValues("open_positions").Inc()
		mgr.abortOpen()
		return fmt.Errorf("re-validate positions: %w", err)
	}
	if len(open) > 0 {
		mgr.abortOpen()
		return ErrPositionOpen
	}

	tp := TakeProfit(side, entry, mgr.cfg.TakeProfitOffset)
	sl := StopLoss(side, entry, mgr.cfg.StopLossDistance)
	req := model.OrderRequest{
		Instrument:       mgr.cfg.Instrument,
		Units:            side.Units(mgr.cfg.Units),
		TakeProfit:       tp,
		StopLossDistance: mgr.cfg.StopLossDistance,
	}

	submitCtx, cancel := context.WithTimeout(ctx, mgr.cfg.SubmitTimeout)
	start := time.Now()
	id, err := mgr.broker.SubmitOrder(submitCtx, req)
	cancel()
	mgr.m.BrokerLatency.WithLabelValues("submit").Observe(time.Since(start).Seconds())

	if err != nil {
		mgr.m.BrokerErrors.WithLabelValues("submit").Inc()
		mgr.log.Warn("order submit failed",
			append(logger.LogWithTrace(ctx), "side", side, "entry", entry, "error", err)...)
		mgr.abortOpen()
		mgr.emit(model.EventOrderFailed, model.OrderEvent{
			Order: model.ActiveOrder{Side: side, Units: mgr.cfg.Units, EntryPrice: entry, TakeProfitPrice: tp, StopLossPrice: sl},
			Error: err.Error(),
		})
		return fmt.Errorf("submit order: %w", err)
	}

	order := model.ActiveOrder{
		ID:              id,
		Side:            side,
		Units:           mgr.cfg.Units,
		EntryPrice:      entry,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		OpenedAt:        mgr.now(),
	}

	mgr.mu.Lock()
	mgr.order = &order
	mgr.transition(model.OrderOpen, &order)
	mgr.mu.Unlock()

	mgr.log.Info("order opened",
		append(logger.LogWithTrace(ctx), "id", id, "side", side, "entry", entry, "take_profit", tp, "stop_loss", sl)...)
	mgr.emit(model.EventOrderOpened, model.OrderEvent{Order: order, Price: entry})
	return nil
}

func (mgr *Manager) abortOpen() {
	mgr.mu.Lock()
	mgr.transition(model.OrderIdle, nil)
	mgr.mu.Unlock()
}

// Monitor checks the open order against price and closes it on a trigger.
// In Closing it retries the close on every call until the broker confirms.
func (mgr *Manager) Monitor(ctx context.Context, price float64) error {
	mgr.mu.Lock()
	switch mgr.state {
	case model.OrderOpen:
		reason, hit := Triggered(*mgr.order, price)
		if !hit {
			mgr.mu.Unlock()
			return nil
		}
		mgr.reason = reason
		mgr.transition(model.OrderClosing, mgr.order)
	case model.OrderClosing:
	default:
		mgr.mu.Unlock()
		return nil
	}
	if mgr.closing {
		mgr.mu.Unlock()
		return nil
	}
	mgr.closing = true
	order := *mgr.order
	reason := mgr.reason
	mgr.mu.Unlock()

	start := time.Now()
	closed, err := mgr.broker.CloseTrade(ctx, order.ID)
	mgr.m.BrokerLatency.WithLabelValues("close").Observe(time.Since(start).Seconds())

	mgr.mu.Lock()
	mgr.closing = false
	if err != nil {
		mgr.mu.Unlock()
		mgr.m.BrokerErrors.WithLabelValues("close").Inc()
		mgr.log.Warn("close failed, will retry",
			append(logger.LogWithTrace(ctx), "id", order.ID, "reason", reason, "error", err)...)
		return fmt.Errorf("close trade %s: %w", order.ID, err)
	}
	mgr.order = nil
	mgr.reason = ""
	mgr.transition(model.OrderIdle, nil)
	mgr.mu.Unlock()

	closePrice := closed.Price
	if closePrice == 0 {
		closePrice = price
	}
	mgr.log.Info("order closed",
		append(logger.LogWithTrace(ctx), "id", order.ID, "reason", reason, "price", closePrice,
			"pl", closed.RealizedPL, "already_gone", closed.AlreadyGone)...)
	mgr.emit(model.EventOrderClosed, model.OrderEvent{
		Order: order, Reason: reason, Price: closePrice, PL: closed.RealizedPL,
	})
	return nil
}

// State returns the current lifecycle state.
func (mgr *Manager) State() model.OrderState {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.state
}

// Active returns a copy of the active order, if any.
func (mgr *Manager) Active() (model.ActiveOrder, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.order == nil {
		return model.ActiveOrder{}, false
	}
	return *mgr.order, true
}

// HasOpenOrder is the boolean projection other components read.
func (mgr *Manager) HasOpenOrder() bool {
	return mgr.State() != model.OrderIdle
}

// transition must be called with mgr.mu held.
func (mgr *Manager) transition(to model.OrderState, order *model.ActiveOrder) {
	mgr.state = to
	mgr.m.OrderState.Set(float64(to))
	mgr.m.OrderTransitions.WithLabelValues(to.String()).Inc()

	view := state.OrderView{State: to.String()}
	if order != nil {
		cp := *order
		view.Order = &cp
	}
	mgr.st.Order.Set(view)
}

func (mgr *Manager) emit(kind model.EventKind, payload model.OrderEvent) {
	if mgr.publish == nil {
		return
	}
	mgr.publish(model.Event{Kind: kind, Payload: payload, TS: mgr.now()})
}
