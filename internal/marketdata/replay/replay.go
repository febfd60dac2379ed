// Package replay feeds a recorded tick file back through the live pipeline
// at a configurable speed for backtesting.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"breakout-trader/internal/marketdata/feed"
	"breakout-trader/internal/model"
)

// maxGap caps the sleep between two samples when replaying at a finite speed.
const maxGap = 5 * time.Second

// ErrExhausted is returned by Feed before the first sample is staged.
var ErrExhausted = errors.New("replay: no sample staged")

// Load reads a tick file. Any CSV with timestamp and close columns works;
// open/high/low fall back to close. Rows are returned sorted by timestamp.
func Load(path string) ([]model.PriceSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay open: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse is Load over an arbitrary reader.
func Parse(r io.Reader) ([]model.PriceSample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("replay csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("replay: empty file: %w", feed.ErrMalformedPayload)
	}

	cols := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"timestamp", "close"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("replay: missing column %q: %w", need, feed.ErrMalformedPayload)
		}
	}
	num := func(rec []string, name string) (float64, bool) {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		return v, err == nil
	}

	out := make([]model.PriceSample, 0, len(records)-1)
	for n, rec := range records[1:] {
		if cols["timestamp"] >= len(rec) {
			return nil, fmt.Errorf("replay: row %d short: %w", n+1, feed.ErrMalformedPayload)
		}
		ts, err := feed.ParseTime(rec[cols["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("replay: row %d: %v: %w", n+1, err, feed.ErrMalformedPayload)
		}
		c, ok := num(rec, "close")
		if !ok {
			return nil, fmt.Errorf("replay: row %d close: %w", n+1, feed.ErrMalformedPayload)
		}
		s := model.PriceSample{Timestamp: ts, Open: c, High: c, Low: c, Close: c}
		if v, ok := num(rec, "open"); ok {
			s.Open = v
		}
		if v, ok := num(rec, "high"); ok {
			s.High = v
		}
		if v, ok := num(rec, "low"); ok {
			s.Low = v
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Feed serves the sample currently staged by the Replayer as the live
// price. Candle requests are answered from the samples replayed so far,
// one row per sample.
type Feed struct {
	mu     sync.RWMutex
	cur    model.PriceSample
	staged bool
	rows   []model.CandleRow
}

var _ model.Feed = (*Feed)(nil)

func (f *Feed) stage(s model.PriceSample) {
	f.mu.Lock()
	f.cur = s
	f.staged = true
	f.rows = append(f.rows, model.CandleRow{Time: s.Timestamp, Open: s.Open, High: s.High, Low: s.Low, Close: s.Close})
	f.mu.Unlock()
}

// FetchLivePrice returns the staged sample.
func (f *Feed) FetchLivePrice(context.Context) (model.PriceSample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.staged {
		return model.PriceSample{}, ErrExhausted
	}
	return f.cur, nil
}

// FetchCandles returns every sample staged so far.
func (f *Feed) FetchCandles(context.Context) ([]model.CandleRow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.rows) == 0 {
		return nil, ErrExhausted
	}
	return append([]model.CandleRow(nil), f.rows...), nil
}

// Replayer stages samples on its Feed one at a time and runs the steps
// after each.
type Replayer struct {
	Feed *Feed
	log  *slog.Logger
}

// New creates a Replayer with an empty Feed.
func New(log *slog.Logger) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{Feed: &Feed{}, log: log.With("component", "replay")}
}

// Run replays samples in order. speed controls the playback rate: 1 is real
// time, 10 is ten times faster, 0 is as fast as possible. A step error is
// logged and the replay continues, matching how the live workers skip a
// failed cycle. It returns the number of samples replayed.
func (r *Replayer) Run(ctx context.Context, samples []model.PriceSample, speed float64, steps ...func(context.Context) error) (int, error) {
	if len(samples) == 0 {
		r.log.Info("no samples to replay")
		return 0, nil
	}
	r.log.Info("replay starting", "samples", len(samples), "speed", speed)

	var prev time.Time
	replayed := 0
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			r.log.Info("replay cancelled", "replayed", replayed)
			return replayed, err
		}

		if speed > 0 && !prev.IsZero() {
			if gap := s.Timestamp.Sub(prev); gap > 0 {
				scaled := min(time.Duration(float64(gap)/speed), maxGap)
				select {
				case <-ctx.Done():
					return replayed, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prev = s.Timestamp

		r.Feed.stage(s)
		for _, step := range steps {
			if err := step(ctx); err != nil {
				r.log.Debug("replay step failed", "ts", s.Timestamp, "error", err)
			}
		}
		replayed++
	}

	r.log.Info("replay completed", "replayed", replayed)
	return replayed, nil
}
