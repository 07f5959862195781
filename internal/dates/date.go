// Package dates provides the calendar-day type the valuation engine keys
// prices, valuations and performance points by. All dates are UTC days; the
// engine never reasons below day granularity.
package dates

import (
	"encoding/json"
	"fmt"
	"time"
)

// Format is the wire and cache-key layout for a Date.
const Format = "2006-01-02"

// Date identifies a single calendar day in UTC.
//
// The zero value is not a valid date; IsZero reports it.
type Date struct {
	y int
	m time.Month
	d int
}

// New returns the date for the given year, month and day. Out-of-range
// values are normalized the way time.Date normalizes them, so New(2024, 1,
// 32) is February 1st.
func New(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{y: t.Year(), m: t.Month(), d: t.Day()}
}

// At truncates an instant to its UTC calendar day.
func At(t time.Time) Date {
	u := t.UTC()
	return Date{y: u.Year(), m: u.Month(), d: u.Day()}
}

// Today is the current UTC calendar day.
func Today() Date {
	return At(time.Now())
}

// Parse reads a date in the 2006-01-02 layout.
func Parse(s string) (Date, error) {
	t, err := time.Parse(Format, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return At(t), nil
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether d is the zero value rather than a real day.
func (d Date) IsZero() bool {
	return d.y == 0 && d.m == 0 && d.d == 0
}

// Add returns the day shifted by the given number of calendar days, which
// may be negative.
func (d Date) Add(days int) Date {
	return At(d.Time().AddDate(0, 0, days))
}

// DaysSince returns the number of calendar days from other to d. Negative
// when other is later than d.
func (d Date) DaysSince(other Date) int {
	return int(d.Time().Sub(other.Time()) / (24 * time.Hour))
}

// Before reports whether d is an earlier day than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// After reports whether d is a later day than other.
func (d Date) After(other Date) bool {
	return d.Time().After(other.Time())
}

// Equal reports whether both values name the same day.
func (d Date) Equal(other Date) bool {
	return d.y == other.y && d.m == other.m && d.d == other.d
}

// Weekday returns the day of week.
func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// IsWeekend reports whether the day is a Saturday or Sunday, when equity
// markets publish no close.
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// PrecedingBusinessDay shifts Saturdays and Sundays back to the Friday
// before them and returns weekdays unchanged.
func (d Date) PrecedingBusinessDay() Date {
	switch d.Weekday() {
	case time.Saturday:
		return d.Add(-1)
	case time.Sunday:
		return d.Add(-2)
	default:
		return d
	}
}

// String formats the day in the 2006-01-02 layout.
func (d Date) String() string {
	return d.Time().Format(Format)
}

// MarshalJSON encodes the day as a "2006-01-02" string.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a "2006-01-02" string.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
