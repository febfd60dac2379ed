package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"breakout-trader/internal/execution"
	"breakout-trader/internal/indicator"
	"breakout-trader/internal/logger"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
)

// Config parameterises the breakout generator.
type Config struct {
	BreakoutPeriod      int
	LagPeriod           int
	VolatilityThreshold float64
	CooldownSamples     int
}

// Generator evaluates one accepted sample at a time.
//
// Every LagPeriod accepted samples it recomputes the band from the trailing
// BreakoutPeriod stored closes and resets its counter; on that same sample
// it gates on the sample standard deviation of all stored closes and skips
// evaluation when it is below VolatilityThreshold. Between recomputes the
// band is left unchanged.
//
// A signal fires at most once per band: the latch clears when the band is
// recomputed or when the price comes back inside the band.
type Generator struct {
	cfg       Config
	closes    CloseSource
	positions PositionChecker
	placer    OrderPlacer
	publish   func(model.Event) bool
	m         *metrics.Metrics
	log       *slog.Logger

	mu       sync.Mutex
	counter  int
	band     Band
	latched  bool
	cooldown int
}

// NewGenerator wires a generator. publish may be nil.
func NewGenerator(cfg Config, closes CloseSource, positions PositionChecker, placer OrderPlacer,
	publish func(model.Event) bool, m *metrics.Metrics, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		cfg:       cfg,
		closes:    closes,
		positions: positions,
		placer:    placer,
		publish:   publish,
		m:         m,
		log:       log.With("component", "signal"),
	}
}

// OnSample evaluates an accepted sample and forwards a surviving signal to
// the order placer. It returns the signal, or nil for none.
func (g *Generator) OnSample(ctx context.Context, price, tvwap float64, at time.Time) *Signal {
	sig := g.evaluate(ctx, price, tvwap, at)
	if sig == nil {
		return nil
	}

	// Fresh broker query rather than cached order state.
	open, err := g.positions.OpenPositions(ctx)
	if err != nil {
		g.m.BrokerErrors.WithLabelValues("open_positions").Inc()
		g.log.Warn("position pre-check failed, skipping signal",
			append(logger.LogWithTrace(ctx), "side", sig.Side, "error", err)...)
		return nil
	}
	if len(open) > 0 {
		g.m.SignalsSuppressed.WithLabelValues("position_open").Inc()
		g.log.Debug("signal suppressed, position open", "side", sig.Side, "positions", len(open))
		return nil
	}

	g.m.SignalsTotal.WithLabelValues(string(sig.Side)).Inc()
	g.log.Info("breakout signal",
		append(logger.LogWithTrace(ctx),
			"side", sig.Side, "price", price, "t_vwap", tvwap,
			"band_high", sig.BandHigh, "band_low", sig.BandLow)...)
	if g.publish != nil {
		g.publish(model.Event{Kind: model.EventSignal, Payload: *sig, TS: at})
	}

	if err := g.placer.PlaceOrder(ctx, sig.Side, price); err != nil {
		g.log.Warn("order not placed", append(logger.LogWithTrace(ctx), "side", sig.Side, "error", err)...)
		// A busy manager will refuse every retry on this band; only a
		// broker or transport failure leaves the signal armed.
		if !errors.Is(err, execution.ErrNotIdle) && !errors.Is(err, execution.ErrPositionOpen) {
			return sig
		}
	}

	g.mu.Lock()
	g.latched = true
	g.mu.Unlock()
	return sig
}

func (g *Generator) evaluate(ctx context.Context, price, tvwap float64, at time.Time) *Signal {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counter++
	if g.counter >= g.cfg.LagPeriod {
		g.counter = 0
		high, low, ok := indicator.Breakout(g.closes.LastCloses(g.cfg.BreakoutPeriod), g.cfg.BreakoutPeriod)
		g.band = Band{High: high, Low: low, OK: ok}
		g.latched = false
		g.m.BandRecomputes.Inc()
		g.log.Debug("band recomputed", append(logger.LogWithTrace(ctx), "high", high, "low", low, "ok", ok)...)

		vol, ok := indicator.SampleStdDev(g.closes.Closes())
		if !ok || vol < g.cfg.VolatilityThreshold {
			g.m.VolatilityGated.Inc()
			g.log.Debug("volatility below threshold, skipping cycle", "volatility", vol, "threshold", g.cfg.VolatilityThreshold)
			g.tickCooldown()
			return nil
		}
	}

	inCooldown := g.tickCooldown()

	if !g.band.OK {
		return nil
	}
	if g.band.Inside(price) {
		g.latched = false
	}

	var side model.Side
	switch {
	case price > tvwap && price > g.band.High:
		side = model.SideBuy
	case price < tvwap && price < g.band.Low:
		side = model.SideSell
	default:
		return nil
	}

	if g.latched {
		g.m.SignalsSuppressed.WithLabelValues("latched").Inc()
		return nil
	}
	if inCooldown {
		g.m.SignalsSuppressed.WithLabelValues("cooldown").Inc()
		return nil
	}

	return &Signal{
		Side:     side,
		Price:    price,
		TVWAP:    tvwap,
		BandHigh: g.band.High,
		BandLow:  g.band.Low,
		Reason:   "breakout",
		At:       at,
	}
}

// tickCooldown consumes one cooldown sample and reports whether the sample
// fell inside the cooldown. Caller holds g.mu.
func (g *Generator) tickCooldown() bool {
	if g.cooldown <= 0 {
		return false
	}
	g.cooldown--
	return true
}

// Band returns the current breakout band.
func (g *Generator) Band() Band {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.band
}

// StartCooldown suppresses signals for the configured number of samples.
func (g *Generator) StartCooldown() {
	if g.cfg.CooldownSamples <= 0 {
		return
	}
	g.mu.Lock()
	g.cooldown = g.cfg.CooldownSamples
	g.mu.Unlock()
}

// Run starts a cooldown for every order_closed event on events. Blocks until
// ctx is cancelled or events is closed.
func (g *Generator) Run(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == model.EventOrderClosed {
				g.StartCooldown()
				g.log.Debug("cooldown started", "samples", g.cfg.CooldownSamples)
			}
		}
	}
}
