// Package salon provides salon reference data: opening hours, holidays,
// the service catalogue and the dynamic booking settings snapshot.
package salon

import (
	"fmt"
	"time"
)

// DayHours represents the opening hours for a single day.
// Nil means the salon is closed that day.
type DayHours struct {
	Open  string `json:"open"`  // "09:00" in 24-hour format
	Close string `json:"close"` // "18:00" in 24-hour format
}

// BusinessHours maps weekdays to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// GetHoursForDay returns the hours for a given weekday (0=Sunday, 6=Saturday).
func (b *BusinessHours) GetHoursForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

// SetHoursForDay assigns hours for a weekday; nil marks it closed.
func (b *BusinessHours) SetHoursForDay(weekday time.Weekday, h *DayHours) {
	switch weekday {
	case time.Sunday:
		b.Sunday = h
	case time.Monday:
		b.Monday = h
	case time.Tuesday:
		b.Tuesday = h
	case time.Wednesday:
		b.Wednesday = h
	case time.Thursday:
		b.Thursday = h
	case time.Friday:
		b.Friday = h
	case time.Saturday:
		b.Saturday = h
	}
}

// Holiday is a full-day closure on a calendar date.
type Holiday struct {
	Date string `json:"date"` // "2006-01-02"
	Name string `json:"name,omitempty"`
}

// ClosedReason explains why no opening window exists for a date.
type ClosedReason string

const (
	OpenDay        ClosedReason = ""
	ClosedHoliday  ClosedReason = "holiday"
	ClosedWeekday  ClosedReason = "closed_weekday"
	ClosedBadHours ClosedReason = "invalid_hours"
)

// Window is the open interval of a single business day.
type Window struct {
	Open  time.Time
	Close time.Time
}

// Contains reports whether [start, end) lies inside the window.
func (w Window) Contains(start, end time.Time) bool {
	return !start.Before(w.Open) && !end.After(w.Close)
}

// Schedule is the salon's weekly hours plus holidays, resolved in one location.
type Schedule struct {
	Location *time.Location
	Hours    BusinessHours
	Holidays []Holiday
}

func (s Schedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// Holiday returns the holiday falling on the local date of t, if any.
func (s Schedule) Holiday(t time.Time) (Holiday, bool) {
	date := t.In(s.location()).Format(time.DateOnly)
	for _, h := range s.Holidays {
		if h.Date == date {
			return h, true
		}
	}
	return Holiday{}, false
}

// WindowFor resolves the open window of the local calendar day containing t.
func (s Schedule) WindowFor(t time.Time) (Window, ClosedReason) {
	loc := s.location()
	local := t.In(loc)
	if _, ok := s.Holiday(local); ok {
		return Window{}, ClosedHoliday
	}
	hours := s.Hours.GetHoursForDay(local.Weekday())
	if hours == nil {
		return Window{}, ClosedWeekday
	}
	openMin, err := parseClock(hours.Open)
	if err != nil {
		return Window{}, ClosedBadHours
	}
	closeMin, err := parseClock(hours.Close)
	if err != nil || closeMin <= openMin {
		return Window{}, ClosedBadHours
	}
	// Wall-clock construction keeps opening hours fixed across DST transitions.
	y, m, d := local.Date()
	return Window{
		Open:  time.Date(y, m, d, openMin/60, openMin%60, 0, 0, loc),
		Close: time.Date(y, m, d, closeMin/60, closeMin%60, 0, 0, loc),
	}, OpenDay
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("salon: parse clock %q: %w", v, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DefaultBusinessHours returns Tuesday to Saturday 09:00-19:00 with Sunday and Monday closed.
func DefaultBusinessHours() BusinessHours {
	day := func() *DayHours { return &DayHours{Open: "09:00", Close: "19:00"} }
	return BusinessHours{
		Tuesday:   day(),
		Wednesday: day(),
		Thursday:  day(),
		Friday:    day(),
		Saturday:  day(),
	}
}
