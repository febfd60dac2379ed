package indicator

// MovingAverage is the simple mean of the trailing window values.
func MovingAverage(values []float64, window int) (float64, bool) {
	if window <= 0 || len(values) < window {
		return 0, false
	}
	return mean(values[len(values)-window:]), true
}
