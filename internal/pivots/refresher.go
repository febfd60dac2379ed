// Package pivots keeps the prior trading day's pivot levels in the shared
// state.
package pivots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"breakout-trader/internal/indicator"
	"breakout-trader/internal/logger"
	"breakout-trader/internal/markethours"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
)

// ErrNoCandle is returned when the broker has no daily candle for the day.
var ErrNoCandle = errors.New("no daily candle for previous trading day")

// Refresher computes pivots from the broker's daily candle.
type Refresher struct {
	instrument string
	broker     model.Broker
	cal        *markethours.Calendar
	st         *state.Store
	m          *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time
}

// NewRefresher wires a refresher. st and m may be nil for one-shot use.
func NewRefresher(instrument string, broker model.Broker, cal *markethours.Calendar, st *state.Store, m *metrics.Metrics, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		instrument: instrument,
		broker:     broker,
		cal:        cal,
		st:         st,
		m:          m,
		log:        log.With("component", "pivots"),
		now:        time.Now,
	}
}

// Compute fetches the previous trading day's candle and derives the levels.
func (r *Refresher) Compute(ctx context.Context) (model.Pivots, error) {
	day := r.cal.PreviousTradingDay(r.now())
	from, to := markethours.DayBounds(day)

	candles, err := r.broker.HistoricalCandles(ctx, r.instrument, from, to, "D")
	if err != nil {
		if r.m != nil {
			r.m.BrokerErrors.WithLabelValues("candles").Inc()
		}
		return model.Pivots{}, fmt.Errorf("daily candle %s: %w", day.Format(time.DateOnly), err)
	}
	c, ok := pick(candles, day)
	if !ok {
		return model.Pivots{}, fmt.Errorf("%w (%s)", ErrNoCandle, day.Format(time.DateOnly))
	}
	return indicator.Pivots(c), nil
}

// pick returns the complete candle that opens on day's date in day's
// location. A candle for any other session, or one still forming, is never
// used.
func pick(candles []model.DailyCandle, day time.Time) (model.DailyCandle, bool) {
	y, m, d := day.Date()
	for i := len(candles) - 1; i >= 0; i-- {
		c := candles[i]
		cy, cm, cd := c.Time.In(day.Location()).Date()
		if c.Complete && cy == y && cm == m && cd == d {
			return c, true
		}
	}
	return model.DailyCandle{}, false
}

// Refresh stores freshly computed pivots. On failure the stored value stays.
func (r *Refresher) Refresh(ctx context.Context) error {
	p, err := r.Compute(ctx)
	if err != nil {
		r.log.Warn("pivot refresh failed", append(logger.LogWithTrace(ctx), "error", err)...)
		return err
	}
	r.st.Pivots.Set(p)
	r.log.Debug("pivots refreshed", "day", p.Day, "pivot", p.PivotPoint)
	return nil
}
