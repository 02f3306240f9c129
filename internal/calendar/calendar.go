// Package calendar decides which dates are KRX trading days.
package calendar

import (
	"time"

	"SectorSentinel/internal/model"
)

// Seoul is the exchange time zone. It falls back to a fixed +09:00 zone when
// the tz database is missing.
var Seoul = loadSeoul()

func loadSeoul() *time.Location {
	if loc, err := time.LoadLocation("Asia/Seoul"); err == nil {
		return loc
	}
	return time.FixedZone("KST", 9*60*60)
}

// Calendar is a weekday calendar minus a holiday set.
type Calendar struct {
	holidays map[time.Time]struct{}
}

// New creates a Calendar. A nil holidays slice selects DefaultHolidays.
func New(holidays []time.Time) *Calendar {
	if holidays == nil {
		holidays = DefaultHolidays()
	}
	c := &Calendar{holidays: make(map[time.Time]struct{}, len(holidays))}
	for _, h := range holidays {
		c.holidays[model.Day(h)] = struct{}{}
	}
	return c
}

// Today returns the current exchange-local date.
func Today(now time.Time) time.Time {
	return model.Day(now.In(Seoul))
}

// IsTradingDay reports whether date is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	d := model.Day(date)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := c.holidays[d]
	return !holiday
}

// Covers reports whether any holiday falls in year. A year without one
// would treat every weekday as a session.
func (c *Calendar) Covers(year int) bool {
	for d := range c.holidays {
		if d.Year() == year {
			return true
		}
	}
	return false
}

// PreviousTradingDay returns the closest trading day strictly before date.
func (c *Calendar) PreviousTradingDay(date time.Time) time.Time {
	d := model.Day(date).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// RecentTradingDays walks back from `from` (inclusive) for at most maxSearch
// calendar days and returns up to n trading days, oldest first.
func (c *Calendar) RecentTradingDays(from time.Time, n, maxSearch int) []time.Time {
	var days []time.Time
	d := model.Day(from)
	for i := 0; i < maxSearch && len(days) < n; i++ {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
		d = d.AddDate(0, 0, -1)
	}
	for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
		days[i], days[j] = days[j], days[i]
	}
	return days
}
