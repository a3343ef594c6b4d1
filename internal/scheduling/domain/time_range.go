package domain

import "time"

// TimeRange represents a half-open time interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Overlaps checks if two time ranges overlap.
func (t TimeRange) Overlaps(other TimeRange) bool {
	return t.Start.Before(other.End) && other.Start.Before(t.End)
}

// Contains checks if an instant falls within the range.
func (t TimeRange) Contains(at time.Time) bool {
	return !at.Before(t.Start) && at.Before(t.End)
}

// Covers checks if the range fully contains another range.
func (t TimeRange) Covers(other TimeRange) bool {
	return !other.Start.Before(t.Start) && !other.End.After(t.End)
}

// Duration returns the length of the range.
func (t TimeRange) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// IsZero returns true for the zero-value range.
func (t TimeRange) IsZero() bool {
	return t.Start.IsZero() && t.End.IsZero()
}

// DateRange represents an inclusive range of schedule dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains checks if a date falls within the range, ignoring time of day.
func (d DateRange) Contains(date time.Time) bool {
	day := truncateToDay(date)
	return !day.Before(truncateToDay(d.Start)) && !day.After(truncateToDay(d.End))
}

// IsValid returns true when the range end does not precede its start.
func (d DateRange) IsValid() bool {
	return !d.End.Before(d.Start)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
