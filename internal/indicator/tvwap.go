package indicator

import "time"

// TimeWeightedAverage weights each price by the time until the next point:
// Σ(price_i × Δt_i) / Σ Δt_i over consecutive pairs. The last price carries no
// weight. Fewer than two points, or zero elapsed time, yield 0.
func TimeWeightedAverage(prices []float64, times []time.Time) float64 {
	n := len(prices)
	if len(times) < n {
		n = len(times)
	}
	if n < 2 {
		return 0
	}

	var weighted, total float64
	for i := 0; i < n-1; i++ {
		dt := times[i+1].Sub(times[i]).Seconds()
		weighted += prices[i] * dt
		total += dt
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}
