// Package engine schedules the periodic workers and connects the shared
// state to the event bus.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"breakout-trader/internal/logger"
	"breakout-trader/internal/marketdata/bus"
	"breakout-trader/internal/metrics"
	"breakout-trader/internal/model"
	"breakout-trader/internal/state"
)

// CycleFunc runs one worker cycle. A returned error is logged; the worker
// keeps its schedule.
type CycleFunc func(ctx context.Context) error

type worker struct {
	name     string
	interval time.Duration
	cycle    CycleFunc
}

// Supervisor owns a fixed set of periodic workers. Each worker is single
// threaded: cycle N finishes before cycle N+1 starts. Workers are
// independent of each other.
type Supervisor struct {
	workers []worker
	m       *metrics.Metrics
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewSupervisor(m *metrics.Metrics, log *slog.Logger) *Supervisor {
	return &Supervisor{m: m, log: log.With("component", "supervisor")}
}

// Add registers a worker. Call before Start.
func (s *Supervisor) Add(name string, interval time.Duration, cycle CycleFunc) {
	s.workers = append(s.workers, worker{name: name, interval: interval, cycle: cycle})
}

// Start launches every worker. Each runs one cycle immediately and then on
// its interval until ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) {
	for _, w := range s.workers {
		s.wg.Add(1)
		go func(w worker) {
			defer s.wg.Done()
			s.run(ctx, w)
		}(w)
	}
	s.log.Info("workers started", "count", len(s.workers))
}

// Wait blocks until every worker has returned.
func (s *Supervisor) Wait() { s.wg.Wait() }

func (s *Supervisor) run(ctx context.Context, w worker) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		s.runCycle(ctx, w)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runCycle detaches the cycle from shutdown so an in-flight network call
// completes under its own timeout.
func (s *Supervisor) runCycle(ctx context.Context, w worker) {
	start := time.Now()
	cctx := logger.WithTraceID(context.WithoutCancel(ctx), logger.GenerateTraceID(w.name, start))

	err := w.cycle(cctx)

	elapsed := time.Since(start)
	if s.m != nil {
		s.m.CycleDur.WithLabelValues(w.name).Observe(elapsed.Seconds())
		if err != nil {
			s.m.CycleSkipped.WithLabelValues(w.name).Inc()
		}
	}
	if err != nil {
		s.log.Warn("cycle failed", append(logger.LogWithTrace(cctx), "worker", w.name, "error", err)...)
	}
	if elapsed > w.interval {
		s.log.Debug("cycle overran interval", "worker", w.name, "elapsed", elapsed, "interval", w.interval)
	}
}

// Bridge publishes every shared state update on the bus as an EventState.
func Bridge(st *state.Store, b *bus.FanOut) {
	st.OnUpdate(func(key string, v any, at time.Time) {
		b.Publish(model.Event{Kind: model.EventState, Key: key, Payload: v, TS: at})
	})
}

// ReportSaturation samples subscriber queue depth into the saturation gauge
// until ctx is cancelled.
func ReportSaturation(ctx context.Context, b *bus.FanOut, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range b.ChannelStats() {
				if s.Cap > 0 {
					m.ChannelSaturationPct.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
				}
			}
		}
	}
}
