package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - A civil calendar day
// =============================================================================

// TimePoint is a calendar day. Time is always midnight UTC of that civil date,
// so differences between two TimePoints are exact multiples of 24h regardless
// of the timezone the day was observed in.
type TimePoint struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return TimePoint{Time: t}, nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.Time.Before(other.Time) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.Time.Equal(other.Time) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.Time.After(other.Time) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint   { return TimePoint{Time: tp.Time.AddDate(0, 0, n)} }
func (tp TimePoint) AddMonths(n int) TimePoint { return TimePoint{Time: tp.Time.AddDate(0, n, 0)} }

func (tp TimePoint) IsZero() bool   { return tp.Time.IsZero() }
func (tp TimePoint) String() string { return tp.Time.Format(dateLayout) }

// DaysBetween counts calendar days from -> to. Negative when to precedes from.
func DaysBetween(from, to TimePoint) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// =============================================================================
// CALENDAR - Timezone of record
// =============================================================================

// Calendar converts instants into calendar days in the engine's timezone of
// record. A request made at 23:59 and one made at 00:01 on the same local day
// map to the same TimePoint.
type Calendar struct {
	Location *time.Location
}

// NewCalendar loads an IANA zone such as "America/Denver".
func NewCalendar(zone string) (Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Calendar{}, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return Calendar{Location: loc}, nil
}

func UTCCalendar() Calendar { return Calendar{Location: time.UTC} }

// Day truncates an instant to its calendar day in the timezone of record.
func (c Calendar) Day(t time.Time) TimePoint {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return NewTimePoint(local.Year(), local.Month(), local.Day())
}

// DaysBetween counts calendar days between two instants after truncating
// both to days, never by dividing wall-clock hours.
func (c Calendar) DaysBetween(from, to time.Time) int {
	return DaysBetween(c.Day(from), c.Day(to))
}
