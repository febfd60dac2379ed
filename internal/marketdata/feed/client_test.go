package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveCSV(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchLivePrice_UsesLastRow(t *testing.T) {
	srv := serveCSV(t, http.StatusOK,
		"timestamp,open,high,low,close\n"+
			"2024-03-01 10:00:00,2000.1,2000.5,1999.9,2000.2\n"+
			"2024-03-01 10:00:01,2000.2,2001.0,2000.0,2000.8\n")

	c := NewClient(Config{LiveURL: srv.URL})
	s, err := c.FetchLivePrice(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC), s.Timestamp)
	assert.Equal(t, 2000.8, s.Close)
	assert.Equal(t, 2001.0, s.High)
	assert.Equal(t, 2000.0, s.Low)
	assert.Equal(t, 2000.2, s.Open)
}

func TestFetchLivePrice_MissingCloseIsMalformed(t *testing.T) {
	srv := serveCSV(t, http.StatusOK, "timestamp,open\n2024-03-01 10:00:00,1\n")
	c := NewClient(Config{LiveURL: srv.URL})

	_, err := c.FetchLivePrice(context.Background())
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestFetchLivePrice_BadStatusIsUnavailable(t *testing.T) {
	srv := serveCSV(t, http.StatusBadGateway, "")
	c := NewClient(Config{LiveURL: srv.URL})

	_, err := c.FetchLivePrice(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestFetchLivePrice_UnreachableIsUnavailable(t *testing.T) {
	srv := serveCSV(t, http.StatusOK, "")
	url := srv.URL
	srv.Close()

	c := NewClient(Config{LiveURL: url, Timeout: time.Second})
	_, err := c.FetchLivePrice(context.Background())
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestFetchCandles_ParsesAllRows(t *testing.T) {
	srv := serveCSV(t, http.StatusOK,
		"Time,Open,High,Low,Close,Volume\n"+
			"2024-03-01T10:00:00Z,1,3,0.5,2,10\n"+
			"2024-03-01T10:01:00Z,2,4,1.5,3,11\n")
	c := NewClient(Config{CandleURL: srv.URL})

	rows, err := c.FetchCandles(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3.0, rows[1].Close)
	assert.Equal(t, 11.0, rows[1].Volume)
	assert.Nil(t, rows[1].RSI)
}

func TestFetchCandles_MissingTimeIsMalformed(t *testing.T) {
	srv := serveCSV(t, http.StatusOK, "Open,High,Low,Close\n1,2,0,1\n")
	c := NewClient(Config{CandleURL: srv.URL})

	_, err := c.FetchCandles(context.Background())
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestFetchCandles_NonNumericCloseIsMalformed(t *testing.T) {
	srv := serveCSV(t, http.StatusOK, "Time,Open,High,Low,Close\n2024-03-01,1,2,0,abc\n")
	c := NewClient(Config{CandleURL: srv.URL})

	_, err := c.FetchCandles(context.Background())
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseTime_Shapes(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2024-03-01T10:00:00Z",
		"2024-03-01 10:00:00",
		"2024-03-01 10:00:00+00:00",
		"2024-03-01 12:00:00+02:00",
		"1709287200",
	} {
		got, err := ParseTime(raw)
		if assert.NoError(t, err, raw) {
			assert.True(t, want.Equal(got), "%s parsed as %v", raw, got)
		}
	}

	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}
