// Package ingest runs the per-cycle logic of the live-price and candle
// pollers. Scheduling lives in internal/engine; each Cycle here is one poll.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"breakout-trader/internal/indicator"
	"breakout-trader/internal/logger"
	"breakout-trader/internal/marketdata/feed"
	"breakout-trader/internal/marketdata/tvwap"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
	"breakout-trader/internal/store/tickstore"
	"breakout-trader/internal/strategy"
)

// DefaultVolatilityPeriod is how many TVWAP-window prices the live
// volatility estimate needs when no period is configured.
const DefaultVolatilityPeriod = 20

// SampleHandler receives each sample the tick store accepted.
type SampleHandler interface {
	OnSample(ctx context.Context, price, tvwap float64, at time.Time) *strategy.Signal
}

// LiveIngestor polls the live price and drives the signal generator.
type LiveIngestor struct {
	feed    model.Feed
	window  *tvwap.Window
	period  int
	store   *tickstore.Store
	handler SampleHandler
	st      *state.Store
	m       *metrics.Metrics
	health  *metrics.HealthStatus
	log     *slog.Logger
	now     func() time.Time
}

// NewLiveIngestor wires the live cycle. volPeriod is the number of window
// prices the volatility estimate uses; values below 2 select
// DefaultVolatilityPeriod. handler and health may be nil.
func NewLiveIngestor(f model.Feed, window *tvwap.Window, volPeriod int, store *tickstore.Store, handler SampleHandler,
	st *state.Store, m *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) *LiveIngestor {
	if log == nil {
		log = slog.Default()
	}
	if volPeriod < 2 {
		volPeriod = DefaultVolatilityPeriod
	}
	return &LiveIngestor{
		feed:    f,
		window:  window,
		period:  volPeriod,
		store:   store,
		handler: handler,
		st:      st,
		m:       m,
		health:  health,
		log:     log.With("component", "live_ingest"),
		now:     time.Now,
	}
}

// Cycle runs one poll. Its effects (window update, store append, signal
// evaluation) complete before it returns.
func (l *LiveIngestor) Cycle(ctx context.Context) error {
	sample, err := l.feed.FetchLivePrice(ctx)
	if err != nil {
		l.m.FeedFailures.WithLabelValues("live", failureReason(err)).Inc()
		if l.health != nil {
			l.health.SetFeedOK(false)
		}
		l.log.Warn("live price fetch failed, skipping cycle", append(logger.LogWithTrace(ctx), "error", err)...)
		return err
	}
	if l.health != nil {
		l.health.SetFeedOK(true)
	}

	price := sample.Close
	l.st.LivePrice.Set(price)
	l.m.LivePrice.Set(price)

	switch err := l.window.Insert(price, sample.Timestamp); {
	case errors.Is(err, tvwap.ErrStale):
		l.m.SamplesStale.Inc()
		l.log.Debug("stale sample not added to window", "ts", sample.Timestamp)
	case err != nil && !errors.Is(err, tvwap.ErrDuplicate):
		return fmt.Errorf("tvwap insert: %w", err)
	}

	tv := l.window.TVWAP()
	l.st.TVWAP.Set(tv)
	l.m.TVWAP.Set(tv)

	if vol, ok := indicator.Volatility(lastN(l.window.Prices(), l.period), l.period); ok {
		scaled := indicator.Round(vol*10000, 4)
		l.st.Volatility.Set(model.VolatilityReading{Value: scaled, TVWAP: tv, UpdatedAt: l.now()})
		l.m.Volatility.Set(scaled)
	} else {
		// The window thinned out (e.g. after a feed gap): no estimate.
		l.st.Volatility.Clear()
	}

	if err := l.store.Append(sample, tv); err != nil {
		if errors.Is(err, tickstore.ErrDuplicate) {
			l.m.SamplesDuplicate.Inc()
			return nil
		}
		return fmt.Errorf("tick append: %w", err)
	}
	l.m.SamplesAccepted.Inc()
	if l.health != nil {
		l.health.SetLastSampleTime(sample.Timestamp)
	}

	if l.handler != nil {
		l.handler.OnSample(ctx, price, tv, sample.Timestamp)
	}
	return nil
}

func lastN(v []float64, n int) []float64 {
	if len(v) <= n {
		return v
	}
	return v[len(v)-n:]
}

func failureReason(err error) string {
	if errors.Is(err, feed.ErrMalformedPayload) {
		return "malformed"
	}
	return "unavailable"
}
