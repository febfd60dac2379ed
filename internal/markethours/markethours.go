// Package markethours answers trading-calendar questions for the pivot
// refresher, backed by scmhub/calendar exchange calendars.
package markethours

import (
	"log/slog"
	"time"

	"github.com/scmhub/calendar"
)

// lookback bounds the search for a previous trading day.
const lookback = 14

// Calendar is an exchange calendar with a plain Monday to Friday fallback
// when the MIC is unknown.
type Calendar struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool
}

// New loads the calendar for mic (ISO 10383, e.g. "xnys").
func New(mic string) *Calendar {
	if cal := calendar.GetCalendar(mic); cal != nil {
		loc := cal.Loc
		if loc == nil {
			loc = time.UTC
		}
		return &Calendar{cal: cal, loc: loc}
	}
	slog.Warn("unknown exchange calendar, using weekday fallback", "mic", mic)
	return &Calendar{loc: time.UTC, fallback: true}
}

// Fallback reports whether the weekday fallback is in use.
func (c *Calendar) Fallback() bool { return c.fallback }

// IsWeekday returns true for Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay reports whether t's date, in the exchange's zone, is a
// business day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if c.fallback {
		return IsWeekday(t)
	}
	return c.cal.IsBusinessDay(t)
}

// PreviousTradingDay returns midnight, in the exchange's zone, of the last
// trading day strictly before t's date. If none is found within two weeks
// it returns the previous weekday.
func (c *Calendar) PreviousTradingDay(t time.Time) time.Time {
	t = t.In(c.loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	for i := 1; i <= lookback; i++ {
		d := day.AddDate(0, 0, -i)
		if c.IsTradingDay(d.Add(12 * time.Hour)) {
			return d
		}
	}
	for d := day.AddDate(0, 0, -1); ; d = d.AddDate(0, 0, -1) {
		if IsWeekday(d) {
			return d
		}
	}
}

// DayBounds returns [start, end) of day's date, both in day's location.
func DayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}
