// Package tickstore is the append-only local log of accepted price samples.
//
// The on-disk file is CSV with header timestamp,open,high,low,close,t_vwap and
// is truncated when the store is opened. An in-memory copy of the accepted
// rows backs the readers so they never parse a half-written line.
package tickstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"breakout-trader/internal/model"
)

// ErrDuplicate is returned when a sample carries the same timestamp as the
// most recently stored one. The sample is not written.
var ErrDuplicate = errors.New("tickstore: duplicate timestamp")

var header = []string{"timestamp", "open", "high", "low", "close", "t_vwap"}

// Row is one stored sample with the TVWAP observed when it was accepted.
type Row struct {
	model.PriceSample
	TVWAP float64 `json:"t_vwap"`
}

// Store serialises writers and lets readers proceed concurrently.
type Store struct {
	mu   sync.RWMutex
	path string
	f    *os.File
	w    *csv.Writer
	rows []Row
	log  *slog.Logger
}

// Open creates (or truncates) the tick file at path and writes the header.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("tickstore mkdir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("tickstore create: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("tickstore header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("tickstore header: %w", err)
	}

	log.Info("tick store opened", "path", path)
	return &Store{
		path: path,
		f:    f,
		w:    w,
		rows: make([]Row, 0, 4096),
		log:  log,
	}, nil
}

// Append writes one sample. A timestamp equal to the last stored timestamp is
// skipped with ErrDuplicate; out-of-order timestamps are stored as they come.
func (s *Store) Append(sample model.PriceSample, tvwap float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.rows); n > 0 && s.rows[n-1].Timestamp.Equal(sample.Timestamp) {
		s.log.Debug("duplicate sample skipped", "timestamp", sample.Timestamp)
		return ErrDuplicate
	}

	rec := []string{
		sample.Timestamp.UTC().Format(time.RFC3339Nano),
		formatFloat(sample.Open),
		formatFloat(sample.High),
		formatFloat(sample.Low),
		formatFloat(sample.Close),
		formatFloat(tvwap),
	}
	if err := s.w.Write(rec); err != nil {
		return fmt.Errorf("tickstore write: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("tickstore flush: %w", err)
	}

	s.rows = append(s.rows, Row{PriceSample: sample, TVWAP: tvwap})
	return nil
}

// Closes returns every stored close, oldest first.
func (s *Store) Closes() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.rows))
	for i, r := range s.rows {
		out[i] = r.Close
	}
	return out
}

// LastCloses returns up to n of the most recent closes, oldest first.
func (s *Store) LastCloses(n int) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.rows) - n
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, len(s.rows)-start)
	for _, r := range s.rows[start:] {
		out = append(out, r.Close)
	}
	return out
}

// Last returns the most recently stored row.
func (s *Store) Last() (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.rows) == 0 {
		return Row{}, false
	}
	return s.rows[len(s.rows)-1], true
}

// Len returns the number of stored rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Close flushes and closes the backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
