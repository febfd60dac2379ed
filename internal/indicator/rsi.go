package indicator

// RSI is the Relative Strength Index over the last period deltas using simple
// means: 100 - 100/(1+RS), RS = mean(gains)/mean(losses).
//
// With no losses in the window RSI is 100; an all-loss window gives 0.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes)-1 < period {
		return 0, false
	}

	var gains, losses float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
