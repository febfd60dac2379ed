package ingest

import (
	"context"
	"log/slog"
	"time"

	"breakout-trader/internal/indicator"
	"breakout-trader/internal/logger"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
)

// Periods for the candle analytics.
type Periods struct {
	RSI     int
	ATR     int
	MAShort int
	MALong  int
}

// DefaultPeriods are RSI(14), ATR(14), MA(50) and MA(200).
var DefaultPeriods = Periods{RSI: 14, ATR: 14, MAShort: 50, MALong: 200}

// CandleIngestor polls the candle snapshot and replaces the analytics cache.
type CandleIngestor struct {
	feed    model.Feed
	periods Periods
	st      *state.Store
	m       *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewCandleIngestor(f model.Feed, periods Periods, st *state.Store, m *metrics.Metrics, log *slog.Logger) *CandleIngestor {
	if log == nil {
		log = slog.Default()
	}
	return &CandleIngestor{
		feed:    f,
		periods: periods,
		st:      st,
		m:       m,
		log:     log.With("component", "candle_ingest"),
		now:     time.Now,
	}
}

// Cycle runs one poll. A failed or malformed fetch leaves the cache as is.
func (c *CandleIngestor) Cycle(ctx context.Context) error {
	rows, err := c.feed.FetchCandles(ctx)
	if err != nil {
		c.m.FeedFailures.WithLabelValues("candles", failureReason(err)).Inc()
		c.log.Warn("candle fetch failed, keeping previous analytics", append(logger.LogWithTrace(ctx), "error", err)...)
		return err
	}
	a := Analyze(rows, c.periods)
	a.UpdatedAt = c.now()
	c.st.Analytics.Set(a)
	c.m.CandleRows.Set(float64(len(rows)))
	if a.RSI != nil {
		c.m.RSI.Set(*a.RSI)
	}
	return nil
}

// Analyze computes the analytics for a candle snapshot. The RSI is attached
// to the last row only; rows is not modified.
func Analyze(rows []model.CandleRow, p Periods) model.Analytics {
	out := make([]model.CandleRow, len(rows))
	copy(out, rows)

	closes := model.Closes(rows)
	highs := make([]float64, len(rows))
	lows := make([]float64, len(rows))
	for i, r := range rows {
		highs[i] = r.High
		lows[i] = r.Low
	}

	var a model.Analytics
	if v, ok := indicator.RSI(closes, p.RSI); ok {
		a.RSI = &v
		if n := len(out); n > 0 {
			rsi := v
			out[n-1].RSI = &rsi
		}
	}
	if v, ok := indicator.ATR(highs, lows, closes, p.ATR); ok {
		a.ATR = &v
	}
	if v, ok := indicator.MovingAverage(closes, p.MAShort); ok {
		a.MAShort = &v
	}
	if v, ok := indicator.MovingAverage(closes, p.MALong); ok {
		a.MALong = &v
	}
	a.Rows = out
	return a
}
