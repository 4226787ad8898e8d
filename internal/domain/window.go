package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used in windows, paths and query parameters.
const DateLayout = "2006-01-02"

// TimeWindow is a 7-day half-open interval [Start, End) beginning on a Monday.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// WeekWindow returns the Monday-to-Monday window containing the calendar date of t.
func WeekWindow(t time.Time) TimeWindow {
	day := Date(t)
	// Weekday counts from Sunday; shift so Monday is 0.
	daysFromMonday := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -daysFromMonday)
	return TimeWindow{
		Start: start,
		End:   start.AddDate(0, 0, 7),
	}
}

// Date truncates t to its calendar date at UTC midnight.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// StartDate formats the window start as YYYY-MM-DD.
func (w TimeWindow) StartDate() string {
	return w.Start.Format(DateLayout)
}

// EndDate formats the window end as YYYY-MM-DD.
func (w TimeWindow) EndDate() string {
	return w.End.Format(DateLayout)
}

// StartTimestamp is the window start as an ISO 8601 UTC midnight timestamp.
func (w TimeWindow) StartTimestamp() string {
	return w.StartDate() + "T00:00:00Z"
}

// EndTimestamp is the window end as an ISO 8601 UTC midnight timestamp.
func (w TimeWindow) EndTimestamp() string {
	return w.EndDate() + "T00:00:00Z"
}

// Contains reports whether t falls inside [Start, End).
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// MarshalJSON renders the window the way aggregates persist it.
func (w TimeWindow) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"since":%q,"until":%q}`, w.StartDate(), w.EndDate())), nil
}

// ISOYearWeek returns the directory key for the ISO week of t, e.g. "2024_01".
func ISOYearWeek(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d_%02d", year, week)
}
