package application

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/jobrunner/spacefetch/internal/domain"
)

// NameFilter selects remote entries whose embedded date lies in a window.
type NameFilter struct {
	pattern *regexp.Regexp
	year    int
	month   int
	day     int

	// AssumeSorted stops at the first entry after the window end instead of
	// scanning the whole listing. Only safe for listings known to be ascending.
	AssumeSorted bool
}

// NewNameFilter compiles a date-token expression. The expression must name
// the groups year and month; without a day group names yield month keys.
func NewNameFilter(expr string) (*NameFilter, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &domain.ConfigError{Field: "date_pattern", Message: err.Error()}
	}
	f := &NameFilter{pattern: re, year: -1, month: -1, day: -1}
	for i, name := range re.SubexpNames() {
		switch name {
		case "year":
			f.year = i
		case "month":
			f.month = i
		case "day":
			f.day = i
		}
	}
	if f.year < 0 || f.month < 0 {
		return nil, &domain.ConfigError{Field: "date_pattern", Message: fmt.Sprintf("%q lacks year or month group", expr)}
	}
	return f, nil
}

// MustNameFilter is NewNameFilter for expressions known at compile time.
func MustNameFilter(expr string) *NameFilter {
	f, err := NewNameFilter(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// DateOf extracts the date embedded in name.
func (f *NameFilter) DateOf(name string) (domain.DateKey, error) {
	m := f.pattern.FindStringSubmatch(name)
	if m == nil {
		return domain.DateKey{}, fmt.Errorf("%w: no date token in %q", domain.ErrInvalidDateKey, name)
	}
	y, _ := strconv.Atoi(m[f.year])
	mo, _ := strconv.Atoi(m[f.month])
	d := 0
	if f.day >= 0 && m[f.day] != "" {
		d, _ = strconv.Atoi(m[f.day])
	}
	return domain.NewDateKey(y, mo, d)
}

// Select returns the entries dated inside window, in input order, with Key set.
// Entries without a date token are dropped.
func (f *NameFilter) Select(entries []domain.RemoteEntry, window domain.DateWindow) []domain.RemoteEntry {
	var out []domain.RemoteEntry
	for _, e := range entries {
		key, err := f.DateOf(e.Name)
		if err != nil {
			continue
		}
		if window.Before(key) {
			continue
		}
		if window.After(key) {
			if f.AssumeSorted {
				break
			}
			continue
		}
		e.Key = key
		out = append(out, e)
	}
	return out
}
