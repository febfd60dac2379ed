package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 15, 0, 0, 0, time.UTC)
}

func TestPreviousTradingDay_SkipsWeekend(t *testing.T) {
	c := New("xnys")
	prev := c.PreviousTradingDay(date(2024, time.March, 11)) // Monday
	assert.Equal(t, time.Friday, prev.Weekday())
	assert.Equal(t, 8, prev.Day())
}

func TestPreviousTradingDay_SkipsHoliday(t *testing.T) {
	c := New("xnys")
	prev := c.PreviousTradingDay(date(2024, time.July, 5)) // after Independence Day
	assert.Equal(t, 3, prev.Day())
	assert.Equal(t, time.July, prev.Month())
}

func TestPreviousTradingDay_Midweek(t *testing.T) {
	c := New("xnys")
	prev := c.PreviousTradingDay(date(2024, time.March, 13))
	assert.Equal(t, 12, prev.Day())
	assert.Zero(t, prev.Hour())
}

func TestFallbackCalendar(t *testing.T) {
	c := New("not-a-mic")
	assert.True(t, c.Fallback())
	assert.False(t, c.IsTradingDay(date(2024, time.March, 9)))
	assert.True(t, c.IsTradingDay(date(2024, time.July, 4)), "fallback knows no holidays")

	prev := c.PreviousTradingDay(date(2024, time.March, 11))
	assert.Equal(t, time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC), prev)
}

func TestDayBounds(t *testing.T) {
	from, to := DayBounds(time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
}

func TestDayBounds_KeepsExchangeZone(t *testing.T) {
	c := New("xnys")
	day := c.PreviousTradingDay(date(2024, time.March, 13))
	from, to := DayBounds(day)
	assert.Equal(t, day.Location(), from.Location())
	assert.Equal(t, time.Date(2024, time.March, 12, 4, 0, 0, 0, time.UTC), from.UTC())
	assert.Equal(t, time.Date(2024, time.March, 13, 4, 0, 0, 0, time.UTC), to.UTC())
}

func TestIsWeekday(t *testing.T) {
	assert.True(t, IsWeekday(date(2024, time.March, 8)))
	assert.False(t, IsWeekday(date(2024, time.March, 10)))
}
