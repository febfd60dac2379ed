package indicator

import "math"

// Volatility is the population standard deviation of percentage changes
// across the trailing period closes. A flat series yields 0.
func Volatility(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	return StdDev(PctChanges(closes[len(closes)-period:])), true
}

// Breakout returns the highest and lowest close of the trailing period closes.
func Breakout(closes []float64, period int) (high, low float64, ok bool) {
	if period <= 0 || len(closes) < period {
		return 0, 0, false
	}
	window := closes[len(closes)-period:]
	high, low = window[0], window[0]
	for _, c := range window[1:] {
		if c > high {
			high = c
		}
		if c < low {
			low = c
		}
	}
	return high, low, true
}

// ATR is the simple average of the trailing period true ranges, where
// true range = max(high-low, |high-prevClose|, |low-prevClose|). The first
// bar has no previous close and uses high-low alone.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if len(highs) < n {
		n = len(highs)
	}
	if len(lows) < n {
		n = len(lows)
	}
	if period <= 0 || n < period {
		return 0, false
	}

	sum := 0.0
	for i := n - period; i < n; i++ {
		sum += trueRange(highs, lows, closes, i)
	}
	return sum / float64(period), true
}

func trueRange(highs, lows, closes []float64, i int) float64 {
	tr := highs[i] - lows[i]
	if i == 0 {
		return tr
	}
	prev := closes[i-1]
	if d := math.Abs(highs[i] - prev); d > tr {
		tr = d
	}
	if d := math.Abs(lows[i] - prev); d > tr {
		tr = d
	}
	return tr
}
