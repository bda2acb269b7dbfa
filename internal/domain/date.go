package domain

import (
	"fmt"
	"time"
)

// DefaultEpoch is the earliest year accepted by DateKey validation.
const DefaultEpoch = 1900

// DateKey identifies a year, month and optional day.
// Day is zero when the key denotes a whole month.
type DateKey struct {
	Year  int
	Month int
	Day   int
}

// NewDateKey creates a validated DateKey.
func NewDateKey(year, month, day int) (DateKey, error) {
	k := DateKey{Year: year, Month: month, Day: day}
	if err := k.Validate(DefaultEpoch); err != nil {
		return DateKey{}, err
	}
	return k, nil
}

// DateKeyFromTime returns the day key for t.
func DateKeyFromTime(t time.Time) DateKey {
	t = t.UTC()
	return DateKey{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// Validate checks the key against the archive epoch and calendar ranges.
func (k DateKey) Validate(epoch int) error {
	if k.Year < epoch {
		return &ValidationError{
			Field:      "year",
			Value:      k.Year,
			Constraint: fmt.Sprintf(">= %d", epoch),
			Message:    "year before archive epoch",
		}
	}
	if k.Month < 1 || k.Month > 12 {
		return &ValidationError{
			Field:      "month",
			Value:      k.Month,
			Constraint: "[1, 12]",
			Message:    "month out of range",
		}
	}
	if k.Day != 0 {
		if k.Day < 1 || k.Day > 31 {
			return &ValidationError{
				Field:      "day",
				Value:      k.Day,
				Constraint: "[1, 31]",
				Message:    "day out of range",
			}
		}
		// time.Date normalizes Feb 30 into March.
		if t := k.Start(); t.Day() != k.Day {
			return &ValidationError{
				Field:      "day",
				Value:      k.Day,
				Constraint: "valid calendar day",
				Message:    fmt.Sprintf("%04d-%02d has no day %d", k.Year, k.Month, k.Day),
			}
		}
	}
	return nil
}

// HasDay reports whether the key names a single day.
func (k DateKey) HasDay() bool {
	return k.Day != 0
}

// Start returns the first instant covered by the key.
func (k DateKey) Start() time.Time {
	day := k.Day
	if day == 0 {
		day = 1
	}
	return time.Date(k.Year, time.Month(k.Month), day, 0, 0, 0, 0, time.UTC)
}

// End returns the first day covered by the key's last day (inclusive, day precision).
func (k DateKey) End() time.Time {
	if k.HasDay() {
		return k.Start()
	}
	return k.Start().AddDate(0, 1, -1)
}

// MonthKey drops the day.
func (k DateKey) MonthKey() DateKey {
	return DateKey{Year: k.Year, Month: k.Month}
}

// Quarter returns the quarter (1-4) of the key's month.
func (k DateKey) Quarter() int {
	return (k.Month-1)/3 + 1
}

// DayOfYear returns the ordinal day within the year (1-366).
func (k DateKey) DayOfYear() int {
	return k.Start().YearDay()
}

// Compact formats the key as YYYYMM or YYYYMMDD.
func (k DateKey) Compact() string {
	if k.HasDay() {
		return fmt.Sprintf("%04d%02d%02d", k.Year, k.Month, k.Day)
	}
	return fmt.Sprintf("%04d%02d", k.Year, k.Month)
}

// String implements fmt.Stringer.
func (k DateKey) String() string {
	if k.HasDay() {
		return fmt.Sprintf("%04d-%02d-%02d", k.Year, k.Month, k.Day)
	}
	return fmt.Sprintf("%04d-%02d", k.Year, k.Month)
}

// DateWindow is an inclusive range of days.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// NewDateWindow creates a window truncated to whole UTC days.
func NewDateWindow(start, end time.Time) (DateWindow, error) {
	w := DateWindow{Start: truncateDay(start), End: truncateDay(end)}
	if w.End.Before(w.Start) {
		return DateWindow{}, fmt.Errorf("%w: end %s before start %s",
			ErrInvalidWindow, w.End.Format(time.DateOnly), w.Start.Format(time.DateOnly))
	}
	return w, nil
}

// ParseDateWindow parses YYYY-MM-DD bounds. An empty end means today.
func ParseDateWindow(start, end string, now time.Time) (DateWindow, error) {
	s, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return DateWindow{}, fmt.Errorf("%w: start: %v", ErrInvalidWindow, err)
	}
	e := now.UTC()
	if end != "" {
		e, err = time.Parse(time.DateOnly, end)
		if err != nil {
			return DateWindow{}, fmt.Errorf("%w: end: %v", ErrInvalidWindow, err)
		}
	}
	return NewDateWindow(s, e)
}

// Before reports whether the key lies entirely before the window.
func (w DateWindow) Before(k DateKey) bool {
	return k.End().Before(w.Start)
}

// After reports whether the key lies entirely after the window.
func (w DateWindow) After(k DateKey) bool {
	return k.Start().After(w.End)
}

// Contains reports whether the key overlaps the window.
func (w DateWindow) Contains(k DateKey) bool {
	return !w.Before(k) && !w.After(k)
}

// Days returns every day in the window in ascending order.
func (w DateWindow) Days() []DateKey {
	var keys []DateKey
	for d := w.Start; !d.After(w.End); d = d.AddDate(0, 0, 1) {
		keys = append(keys, DateKeyFromTime(d))
	}
	return keys
}

// Months returns every month touched by the window in ascending order.
func (w DateWindow) Months() []DateKey {
	var keys []DateKey
	first := time.Date(w.Start.Year(), w.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for m := first; !m.After(w.End); m = m.AddDate(0, 1, 0) {
		keys = append(keys, DateKey{Year: m.Year(), Month: int(m.Month())})
	}
	return keys
}

// String implements fmt.Stringer.
func (w DateWindow) String() string {
	return w.Start.Format(time.DateOnly) + ".." + w.End.Format(time.DateOnly)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
