package indicator

import (
	"math"
	"testing"
	"time"

	"breakout-trader/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func secs(base time.Time, offsets ...int) []time.Time {
	out := make([]time.Time, len(offsets))
	for i, o := range offsets {
		out[i] = base.Add(time.Duration(o) * time.Second)
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Time-weighted average
// ────────────────────────────────────────────────────────────

func TestTimeWeightedAverage_FewerThanTwoPoints(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if got := TimeWeightedAverage(nil, nil); got != 0 {
		t.Errorf("empty: expected 0, got %f", got)
	}
	if got := TimeWeightedAverage([]float64{2000}, secs(base, 0)); got != 0 {
		t.Errorf("single point: expected 0, got %f", got)
	}
}

func TestTimeWeightedAverage_ZeroElapsed(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	got := TimeWeightedAverage([]float64{2000, 2001}, secs(base, 0, 0))
	if got != 0 {
		t.Errorf("expected 0 for zero elapsed time, got %f", got)
	}
}

func TestTimeWeightedAverage_WeightsByInterval(t *testing.T) {
	// 100 held for 1s, 102 held for 2s: (100*1 + 102*2) / 3
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	got := TimeWeightedAverage([]float64{100, 102, 104}, secs(base, 0, 1, 3))
	assertClose(t, "tvwap", got, 304.0/3.0, 1e-9)
}

func TestTimeWeightedAverage_DuplicatePointIsNoOp(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	prices := []float64{100, 102, 104}
	times := secs(base, 0, 1, 3)
	want := TimeWeightedAverage(prices, times)

	dupPrices := []float64{100, 102, 102, 104}
	dupTimes := secs(base, 0, 1, 1, 3)
	got := TimeWeightedAverage(dupPrices, dupTimes)
	assertClose(t, "tvwap with duplicate", got, want, 1e-12)
}

// ────────────────────────────────────────────────────────────
// Volatility
// ────────────────────────────────────────────────────────────

func TestVolatility_InsufficientData(t *testing.T) {
	if _, ok := Volatility([]float64{1, 2, 3}, 4); ok {
		t.Error("expected undefined volatility with 3 closes and period 4")
	}
}

func TestVolatility_FlatSeriesIsZero(t *testing.T) {
	got, ok := Volatility([]float64{5, 5, 5, 5, 5}, 5)
	if !ok {
		t.Fatal("expected defined volatility")
	}
	if got != 0 {
		t.Errorf("expected 0 for flat series, got %f", got)
	}
}

func TestVolatility_UsesTrailingPeriod(t *testing.T) {
	// Leading 1 is outside the window. Returns are +0.1 and -0.1 → std 0.1.
	got, ok := Volatility([]float64{1, 100, 110, 99}, 3)
	if !ok {
		t.Fatal("expected defined volatility")
	}
	assertClose(t, "volatility", got, 0.1, 1e-12)
}

func TestVolatility_ZeroBaseNeverNaN(t *testing.T) {
	got, ok := Volatility([]float64{0, 0, 0}, 3)
	if !ok || math.IsNaN(got) {
		t.Errorf("expected finite volatility, got %f ok=%v", got, ok)
	}
}

// ────────────────────────────────────────────────────────────
// Breakout
// ────────────────────────────────────────────────────────────

func TestBreakout_KnownSeries(t *testing.T) {
	high, low, ok := Breakout([]float64{1, 5, 3, 2, 4}, 5)
	if !ok {
		t.Fatal("expected defined band")
	}
	if high != 5 || low != 1 {
		t.Errorf("expected (5, 1), got (%v, %v)", high, low)
	}
}

func TestBreakout_InsufficientData(t *testing.T) {
	if _, _, ok := Breakout([]float64{1, 5, 3, 2, 4}, 6); ok {
		t.Error("expected undefined band for len < period")
	}
}

func TestBreakout_TrailingWindowOnly(t *testing.T) {
	high, low, _ := Breakout([]float64{100, 1, 5, 3}, 3)
	if high != 5 || low != 1 {
		t.Errorf("expected (5, 1), got (%v, %v)", high, low)
	}
}

// ────────────────────────────────────────────────────────────
// RSI
// ────────────────────────────────────────────────────────────

func TestRSI_AllGainsIs100(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	got, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("expected defined RSI")
	}
	if got != 100 {
		t.Errorf("expected 100, got %f", got)
	}
}

func TestRSI_AllLossesIsZero(t *testing.T) {
	closes := make([]float64, 15)
	for i := range closes {
		closes[i] = float64(200 - i)
	}
	got, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("expected defined RSI")
	}
	if got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
}

func TestRSI_BalancedIs50(t *testing.T) {
	got, _ := RSI([]float64{1, 2, 1}, 2)
	assertClose(t, "rsi", got, 50, 1e-9)
}

func TestRSI_NeedsPeriodDeltas(t *testing.T) {
	if _, ok := RSI([]float64{1, 2, 3}, 3); ok {
		t.Error("3 closes give only 2 deltas; expected undefined for period 3")
	}
}

// ────────────────────────────────────────────────────────────
// ATR, moving average, pivots
// ────────────────────────────────────────────────────────────

func TestATR_TrueRangeUsesPreviousClose(t *testing.T) {
	highs := []float64{10, 12, 11}
	lows := []float64{8, 9, 9}
	closes := []float64{9, 11, 10}
	// TR[1] = max(3, |12-9|, |9-9|) = 3; TR[2] = max(2, 0, |9-11|) = 2
	got, ok := ATR(highs, lows, closes, 2)
	if !ok {
		t.Fatal("expected defined ATR")
	}
	assertClose(t, "atr", got, 2.5, 1e-12)
}

func TestATR_GapsCountBothDirections(t *testing.T) {
	// Gap down: TR[1] = max(1, |5-10|, |4-10|) = 6.
	// Gap up:   TR[2] = max(1, |12-5|, |11-5|) = 7.
	highs := []float64{10, 5, 12}
	lows := []float64{9, 4, 11}
	closes := []float64{10, 5, 12}
	got, ok := ATR(highs, lows, closes, 2)
	if !ok {
		t.Fatal("expected defined ATR")
	}
	assertClose(t, "atr", got, 6.5, 1e-12)
}

func TestATR_InsufficientData(t *testing.T) {
	if _, ok := ATR([]float64{1}, []float64{1}, []float64{1}, 2); ok {
		t.Error("expected undefined ATR")
	}
}

func TestMovingAverage(t *testing.T) {
	got, ok := MovingAverage([]float64{100, 102, 104, 103, 105}, 3)
	if !ok {
		t.Fatal("expected defined average")
	}
	assertClose(t, "sma", got, 104, 1e-12)

	if _, ok := MovingAverage([]float64{1, 2}, 3); ok {
		t.Error("expected undefined average")
	}
}

func TestPivots_ClassicLevels(t *testing.T) {
	p := Pivots(model.DailyCandle{Open: 1995, High: 2010, Low: 1990, Close: 2000})
	assertClose(t, "pp", p.PivotPoint, 2000, 1e-9)
	assertClose(t, "s1", p.S1, 1990, 1e-9)
	assertClose(t, "s2", p.S2, 1980, 1e-9)
	assertClose(t, "r1", p.R1, 2010, 1e-9)
	assertClose(t, "r2", p.R2, 2020, 1e-9)
}

func TestPivots_RoundedToCents(t *testing.T) {
	p := Pivots(model.DailyCandle{High: 2001, Low: 2000, Close: 2000})
	// (2001+2000+2000)/3 = 2000.3333…
	if p.PivotPoint != 2000.33 {
		t.Errorf("expected 2000.33, got %v", p.PivotPoint)
	}
}

func TestSampleStdDev(t *testing.T) {
	if _, ok := SampleStdDev([]float64{1}); ok {
		t.Error("expected undefined for a single value")
	}
	got, ok := SampleStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if !ok {
		t.Fatal("expected defined")
	}
	// population std is 2; sample std is 2*sqrt(8/7)
	assertClose(t, "sample std", got, 2*math.Sqrt(8.0/7.0), 1e-12)
}
