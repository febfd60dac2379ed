// Package tvwap maintains the sliding real-time window behind the
// time-weighted average price.
package tvwap

import (
	"errors"
	"sync"
	"time"

	"breakout-trader/internal/indicator"
	"breakout-trader/internal/ringbuf"
)

var (
	// ErrDuplicate is returned when the timestamp equals the newest entry.
	ErrDuplicate = errors.New("tvwap: duplicate timestamp")
	// ErrStale is returned when the timestamp is older than the newest entry.
	ErrStale = errors.New("tvwap: stale timestamp")
)

type point struct {
	price float64
	ts    time.Time
}

// Window holds (price, timestamp) pairs no older than span relative to the
// newest timestamp. Entries are evicted eagerly on every insert.
type Window struct {
	mu     sync.RWMutex
	span   time.Duration
	points *ringbuf.Ring[point]
}

// NewWindow creates a window covering span of feed time.
func NewWindow(span time.Duration) *Window {
	return &Window{
		span:   span,
		points: ringbuf.New[point](512),
	}
}

// Insert adds a point and evicts everything older than ts-span.
// A duplicate or older timestamp leaves the window untouched.
func (w *Window) Insert(price float64, ts time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.points.Back(); ok {
		switch {
		case ts.Equal(last.ts):
			return ErrDuplicate
		case ts.Before(last.ts):
			return ErrStale
		}
	}

	w.points.Push(point{price: price, ts: ts})
	for {
		front, ok := w.points.Front()
		if !ok || ts.Sub(front.ts) <= w.span {
			break
		}
		w.points.Pop()
	}
	return nil
}

// TVWAP returns the time-weighted average over the window, 0 when fewer than
// two points are held.
func (w *Window) TVWAP() float64 {
	prices, times := w.snapshot()
	return indicator.TimeWeightedAverage(prices, times)
}

// Prices returns the window prices oldest-first.
func (w *Window) Prices() []float64 {
	prices, _ := w.snapshot()
	return prices
}

// Len returns the number of points held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.points.Len()
}

// Oldest returns the timestamp of the oldest retained point.
func (w *Window) Oldest() (time.Time, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.points.Front()
	return p.ts, ok
}

func (w *Window) snapshot() ([]float64, []time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := w.points.Len()
	prices := make([]float64, n)
	times := make([]time.Time, n)
	for i := 0; i < n; i++ {
		p := w.points.At(i)
		prices[i] = p.price
		times[i] = p.ts
	}
	return prices, times
}
