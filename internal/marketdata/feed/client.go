// Package feed fetches CSV snapshots from the upstream price providers.
//
// Both providers serve a full snapshot on every GET; the live feed's last row
// is the current price and the candle feed is consumed whole.
package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"breakout-trader/internal/model"
)

var (
	// ErrFeedUnavailable covers transport failures, bad status codes and
	// unreadable CSV.
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrMalformedPayload means the CSV parsed but an expected field is missing
	// or unusable.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Config configures the feed client.
type Config struct {
	LiveURL   string
	CandleURL string
	Timeout   time.Duration // default: 5s
}

// Client implements model.Feed over HTTP.
type Client struct {
	liveURL   string
	candleURL string
	http      *http.Client
}

// NewClient creates a feed client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		liveURL:   cfg.LiveURL,
		candleURL: cfg.CandleURL,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

var _ model.Feed = (*Client)(nil)

// FetchLivePrice returns the last row of the live-price snapshot.
func (c *Client) FetchLivePrice(ctx context.Context) (model.PriceSample, error) {
	tbl, err := c.fetch(ctx, c.liveURL)
	if err != nil {
		return model.PriceSample{}, err
	}
	if len(tbl.rows) == 0 {
		return model.PriceSample{}, fmt.Errorf("live snapshot has no rows: %w", ErrMalformedPayload)
	}
	if err := tbl.require("timestamp", "close"); err != nil {
		return model.PriceSample{}, err
	}

	row := tbl.rows[len(tbl.rows)-1]
	ts, err := ParseTime(tbl.get(row, "timestamp"))
	if err != nil {
		return model.PriceSample{}, fmt.Errorf("timestamp: %v: %w", err, ErrMalformedPayload)
	}
	closePx, err := tbl.float(row, "close")
	if err != nil {
		return model.PriceSample{}, err
	}

	s := model.PriceSample{Timestamp: ts, Close: closePx, Open: closePx, High: closePx, Low: closePx}
	// open/high/low are informational; fall back to close when absent
	if v, err := tbl.float(row, "open"); err == nil {
		s.Open = v
	}
	if v, err := tbl.float(row, "high"); err == nil {
		s.High = v
	}
	if v, err := tbl.float(row, "low"); err == nil {
		s.Low = v
	}
	return s, nil
}

// FetchCandles returns every row of the candle snapshot.
func (c *Client) FetchCandles(ctx context.Context) ([]model.CandleRow, error) {
	tbl, err := c.fetch(ctx, c.candleURL)
	if err != nil {
		return nil, err
	}
	if err := tbl.require("Time", "Open", "High", "Low", "Close"); err != nil {
		return nil, err
	}
	if len(tbl.rows) == 0 {
		return nil, fmt.Errorf("candle snapshot has no rows: %w", ErrMalformedPayload)
	}

	out := make([]model.CandleRow, 0, len(tbl.rows))
	for i, row := range tbl.rows {
		ts, err := ParseTime(tbl.get(row, "Time"))
		if err != nil {
			return nil, fmt.Errorf("row %d Time: %v: %w", i, err, ErrMalformedPayload)
		}
		r := model.CandleRow{Time: ts}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"Open", &r.Open}, {"High", &r.High}, {"Low", &r.Low}, {"Close", &r.Close},
		} {
			v, err := tbl.float(row, f.name)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			*f.dst = v
		}
		if v, err := tbl.float(row, "Volume"); err == nil {
			r.Volume = v
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, url string) (*table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %v: %w", err, ErrFeedUnavailable)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %v: %w", url, err, ErrFeedUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: status %d: %w", url, resp.StatusCode, ErrFeedUnavailable)
	}

	r := csv.NewReader(resp.Body)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv from %s: %v: %w", url, err, ErrFeedUnavailable)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty csv from %s: %w", url, ErrMalformedPayload)
	}
	return newTable(records), nil
}

// table indexes CSV columns by lower-cased header name.
type table struct {
	cols map[string]int
	rows [][]string
}

func newTable(records [][]string) *table {
	t := &table{cols: make(map[string]int, len(records[0])), rows: records[1:]}
	for i, h := range records[0] {
		t.cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return t
}

func (t *table) require(names ...string) error {
	for _, n := range names {
		if _, ok := t.cols[strings.ToLower(n)]; !ok {
			return fmt.Errorf("missing column %q: %w", n, ErrMalformedPayload)
		}
	}
	return nil
}

func (t *table) get(row []string, name string) string {
	i, ok := t.cols[strings.ToLower(name)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) float(row []string, name string) (float64, error) {
	raw := t.get(row, name)
	if raw == "" {
		return 0, fmt.Errorf("empty %s: %w", name, ErrMalformedPayload)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", name, raw, ErrMalformedPayload)
	}
	return v, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts the timestamp shapes the providers emit: RFC 3339,
// pandas-style "YYYY-MM-DD HH:MM:SS[.fff][+00:00]" and unix seconds.
// Zone-less values are taken as UTC.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		whole := int64(secs)
		return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
