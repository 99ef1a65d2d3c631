package generic_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/enrollment-engine/generic"
)

func TestParseDate(t *testing.T) {
	tp, err := generic.ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, generic.NewTimePoint(2025, time.March, 10), tp)
	assert.Equal(t, "2025-03-10", tp.String())

	_, err = generic.ParseDate("03/10/2025")
	assert.Error(t, err)
}

func TestTimePoint_Arithmetic(t *testing.T) {
	d := generic.NewTimePoint(2025, time.January, 31)

	assert.Equal(t, "2025-02-01", d.AddDays(1).String())
	assert.Equal(t, "2026-01-31", d.AddMonths(12).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.BeforeOrEqual(d))
	assert.True(t, d.AfterOrEqual(d))
	assert.Equal(t, 30, generic.DaysBetween(d, d.AddDays(30)))
	assert.Equal(t, -2, generic.DaysBetween(d, d.AddDays(-2)))
}

func TestCalendar_DayUsesTimezoneOfRecord(t *testing.T) {
	// GIVEN: A Denver calendar
	cal, err := generic.NewCalendar("America/Denver")
	require.NoError(t, err)

	// WHEN: An instant early in the UTC day is truncated
	instant := time.Date(2025, time.March, 10, 5, 0, 0, 0, time.UTC)

	// THEN: It belongs to the previous Denver day
	assert.Equal(t, "2025-03-09", cal.Day(instant).String())
	assert.Equal(t, "2025-03-10", generic.UTCCalendar().Day(instant).String())
}

func TestCalendar_DaysBetweenCountsCalendarDays(t *testing.T) {
	cal, err := generic.NewCalendar("America/Denver")
	require.NoError(t, err)
	denver := cal.Location

	// GIVEN: A request late in the evening and a class early in the morning
	request := time.Date(2025, time.March, 8, 23, 59, 0, 0, denver)
	class := time.Date(2025, time.March, 10, 0, 1, 0, 0, denver)

	// THEN: Two calendar days apart, even though only ~24h elapse across DST
	assert.Equal(t, 2, cal.DaysBetween(request, class))

	// AND: Two instants on the same local day are zero days apart
	morning := time.Date(2025, time.March, 10, 0, 1, 0, 0, denver)
	night := time.Date(2025, time.March, 10, 23, 59, 0, 0, denver)
	assert.Equal(t, 0, cal.DaysBetween(morning, night))
	assert.Equal(t, cal.Day(morning), cal.Day(night))
}

func TestNewCalendar_UnknownZone(t *testing.T) {
	_, err := generic.NewCalendar("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestCounter(t *testing.T) {
	limit := 2
	c := generic.Counter{}

	assert.False(t, c.Reached(&limit))
	assert.False(t, c.Reached(nil))

	c = c.Increment().Increment()
	assert.Equal(t, 2, c.Count)
	assert.Equal(t, generic.Version(2), c.Version)
	assert.True(t, c.Reached(&limit))
	assert.False(t, c.Reached(nil))
}
