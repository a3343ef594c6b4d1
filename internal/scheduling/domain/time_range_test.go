package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func rangeAt(startHour, endHour int) TimeRange {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	return TimeRange{
		Start: day.Add(time.Duration(startHour) * time.Hour),
		End:   day.Add(time.Duration(endHour) * time.Hour),
	}
}

func TestTimeRangeOverlapsIsHalfOpen(t *testing.T) {
	base := rangeAt(8, 10)

	assert.True(t, base.Overlaps(rangeAt(9, 11)))
	assert.True(t, base.Overlaps(rangeAt(7, 9)))
	assert.True(t, base.Overlaps(rangeAt(8, 10)))

	// Touching endpoints do not overlap.
	assert.False(t, base.Overlaps(rangeAt(10, 12)))
	assert.False(t, base.Overlaps(rangeAt(6, 8)))
}

func TestTimeRangeContains(t *testing.T) {
	base := rangeAt(8, 10)

	assert.True(t, base.Contains(base.Start))
	assert.True(t, base.Contains(base.Start.Add(time.Hour)))
	// End is exclusive.
	assert.False(t, base.Contains(base.End))
	assert.False(t, base.Contains(base.Start.Add(-time.Minute)))
}

func TestTimeRangeCovers(t *testing.T) {
	base := rangeAt(8, 12)

	assert.True(t, base.Covers(rangeAt(9, 11)))
	assert.True(t, base.Covers(rangeAt(8, 12)))
	assert.False(t, base.Covers(rangeAt(7, 11)))
	assert.False(t, base.Covers(rangeAt(9, 13)))
}

func TestTimeRangeDurationAndZero(t *testing.T) {
	assert.Equal(t, 2*time.Hour, rangeAt(8, 10).Duration())
	assert.True(t, TimeRange{}.IsZero())
	assert.False(t, rangeAt(8, 10).IsZero())
}

func TestDateRangeContainsIgnoresTimeOfDay(t *testing.T) {
	d := DateRange{
		Start: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, d.Contains(time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)))
	assert.True(t, d.Contains(time.Date(2025, 3, 12, 8, 30, 0, 0, time.UTC)))
	assert.False(t, d.Contains(time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)))
	assert.False(t, d.Contains(time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC)))
}

func TestDateRangeIsValid(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.True(t, DateRange{Start: day, End: day}.IsValid())
	assert.True(t, DateRange{Start: day, End: day.AddDate(0, 0, 1)}.IsValid())
	assert.False(t, DateRange{Start: day, End: day.AddDate(0, 0, -1)}.IsValid())
}
