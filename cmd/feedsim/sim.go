package main

import (
	"encoding/csv"
	"io"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"breakout-trader/internal/indicator"
	"breakout-trader/internal/model"
	"breakout-trader/internal/ringbuf"
)

// simulator random-walks a price and keeps the current tick plus a bounded
// history of fixed-period bars.
type simulator struct {
	mu sync.RWMutex

	rng     *rand.Rand
	step    float64 // max fractional move per tick
	period  time.Duration
	maxBars int

	last model.PriceSample
	bar  model.CandleRow
	open bool
	bars *ringbuf.Ring[model.CandleRow]
}

func newSimulator(start float64, step float64, period time.Duration, maxBars int, seed int64) *simulator {
	return &simulator{
		rng:     rand.New(rand.NewSource(seed)),
		step:    step,
		period:  period,
		maxBars: maxBars,
		last:    model.PriceSample{Open: start, High: start, Low: start, Close: start},
		bars:    ringbuf.New[model.CandleRow](maxBars),
	}
}

// walk moves the price once.
func (s *simulator) walk(price float64) float64 {
	pct := (s.rng.Float64()*2 - 1) * s.step
	next := indicator.Round(price*(1+pct), 2)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

// tick advances the simulation to now.
func (s *simulator) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.last.Close
	high, low := open, open
	px := open
	for i := 0; i < 4; i++ {
		px = s.walk(px)
		high = max(high, px)
		low = min(low, px)
	}
	s.last = model.PriceSample{Timestamp: now.UTC().Truncate(time.Second), Open: open, High: high, Low: low, Close: px}

	start := now.UTC().Truncate(s.period)
	if s.open && !s.bar.Time.Equal(start) {
		s.closeBar()
	}
	if !s.open {
		s.bar = model.CandleRow{Time: start, Open: open, High: high, Low: low}
		s.open = true
	}
	s.bar.High = max(s.bar.High, high)
	s.bar.Low = min(s.bar.Low, low)
	s.bar.Close = px
	s.bar.Volume++
}

// closeBar must be called with s.mu held.
func (s *simulator) closeBar() {
	if s.bars.Len() == s.maxBars {
		s.bars.Pop()
	}
	s.bars.Push(s.bar)
	s.open = false
}

// seed fills the bar history so analytics have enough rows from the start.
func (s *simulator) seed(now time.Time, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := now.UTC().Truncate(s.period).Add(-time.Duration(n) * s.period)
	px := s.last.Close
	for i := 0; i < n; i++ {
		open := px
		high, low := open, open
		for j := 0; j < 10; j++ {
			px = s.walk(px)
			high = max(high, px)
			low = min(low, px)
		}
		s.bar = model.CandleRow{Time: start.Add(time.Duration(i) * s.period), Open: open, High: high, Low: low, Close: px, Volume: 10}
		s.closeBar()
	}
	s.last.Close = px
}

func formatPrice(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// writeLive writes the live snapshot: a header and one row.
func (s *simulator) writeLive(w io.Writer) error {
	s.mu.RLock()
	p := s.last
	s.mu.RUnlock()

	cw := csv.NewWriter(w)
	cw.Write([]string{"timestamp", "open", "high", "low", "close"})
	cw.Write([]string{
		p.Timestamp.Format("2006-01-02 15:04:05"),
		formatPrice(p.Open), formatPrice(p.High), formatPrice(p.Low), formatPrice(p.Close),
	})
	cw.Flush()
	return cw.Error()
}

// writeCandles writes every closed bar plus the forming one.
func (s *simulator) writeCandles(w io.Writer) error {
	s.mu.RLock()
	rows := s.bars.Slice()
	if s.open {
		rows = append(rows, s.bar)
	}
	s.mu.RUnlock()

	cw := csv.NewWriter(w)
	cw.Write([]string{"Time", "Open", "High", "Low", "Close", "Volume"})
	for _, r := range rows {
		cw.Write([]string{
			r.Time.Format(time.RFC3339),
			formatPrice(r.Open), formatPrice(r.High), formatPrice(r.Low), formatPrice(r.Close),
			strconv.FormatFloat(r.Volume, 'f', 0, 64),
		})
	}
	cw.Flush()
	return cw.Error()
}
