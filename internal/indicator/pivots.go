package indicator

import "breakout-trader/internal/model"

// Pivots computes floor-trader pivot levels from one day's bar.
// Levels are rounded to cents.
func Pivots(day model.DailyCandle) model.Pivots {
	h, l, c := day.High, day.Low, day.Close
	pp := (h + l + c) / 3

	return model.Pivots{
		PivotPoint: Round(pp, 2),
		S1:         Round(2*pp-h, 2),
		S2:         Round(pp-(h-l), 2),
		R1:         Round(2*pp-l, 2),
		R2:         Round(pp+(h-l), 2),
		Open:       day.Open,
		High:       h,
		Low:        l,
		Close:      c,
		Day:        day.Time,
	}
}
