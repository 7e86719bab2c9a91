// Package validation implements the pure business-rule checks run before a
// booking reaches the database.
package validation

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/salon"
)

// Result is the outcome of a single rule.
type Result struct {
	Valid   bool
	Kind    appointment.ErrorKind
	Reason  string
	Context map[string]string
}

// OK is the passing result.
func OK() Result {
	return Result{Valid: true}
}

func fail(kind appointment.ErrorKind, reason string, kv ...string) Result {
	ctx := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		ctx[kv[i]] = kv[i+1]
	}
	return Result{Kind: kind, Reason: reason, Context: ctx}
}

// Failure converts a failed result into an appointment.Failure.
func (r Result) Failure() *appointment.Failure {
	if r.Valid {
		return nil
	}
	f := appointment.NewFailure(r.Kind, "reason", r.Reason)
	for k, v := range r.Context {
		f.Details[k] = v
	}
	return f
}

func localMidnight(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days between two local midnights, ignoring DST shifts.
func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// AdvanceNotice requires requested to fall at least minDays calendar days after now,
// both measured on the salon's local calendar.
func AdvanceNotice(now, requested time.Time, loc *time.Location, minDays int) Result {
	if loc == nil {
		loc = time.UTC
	}
	today := localMidnight(now, loc)
	day := localMidnight(requested, loc)
	daysUntil := daysBetween(today, day)
	if daysUntil >= minDays {
		return OK()
	}
	earliest := today.AddDate(0, 0, minDays)
	return fail(appointment.KindDateTooSoon,
		"appointments must be booked at least "+strconv.Itoa(minDays)+" days in advance",
		"days_until", strconv.Itoa(daysUntil),
		"min_days", strconv.Itoa(minDays),
		"earliest_date", earliest.Format(time.DateOnly),
	)
}

// NotInPast requires requested to start at or after now. It matters when the
// advance notice is zero and today is bookable.
func NotInPast(now, requested time.Time) Result {
	if !requested.Before(now) {
		return OK()
	}
	return fail(appointment.KindDateTooSoon, "the requested start time has already passed",
		"now", now.UTC().Format(time.RFC3339),
		"requested", requested.UTC().Format(time.RFC3339),
	)
}

// CategoryConsistency requires every service in one booking to share a category.
func CategoryConsistency(services []salon.Service) Result {
	if len(services) < 2 {
		return OK()
	}
	seen := map[string]struct{}{}
	for _, s := range services {
		seen[s.Category] = struct{}{}
	}
	if len(seen) == 1 {
		return OK()
	}
	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	return fail(appointment.KindCategoryMismatch,
		"services from different categories cannot be booked together",
		"categories", strings.Join(categories, ","),
	)
}

// Closure rejects windows on holidays, closed weekdays, or outside opening hours.
func Closure(start time.Time, duration time.Duration, sched salon.Schedule) Result {
	loc := sched.Location
	if loc == nil {
		loc = time.UTC
	}
	date := start.In(loc).Format(time.DateOnly)
	window, reason := sched.WindowFor(start)
	switch reason {
	case salon.ClosedHoliday:
		h, _ := sched.Holiday(start)
		return fail(appointment.KindClosedDay, "the salon is closed on "+date,
			"date", date, "closure", string(reason), "holiday", h.Name)
	case salon.ClosedWeekday, salon.ClosedBadHours:
		return fail(appointment.KindClosedDay, "the salon is closed on "+start.In(loc).Weekday().String(),
			"date", date, "closure", string(reason), "weekday", start.In(loc).Weekday().String())
	}

	if window.Contains(start, start.Add(duration)) {
		return OK()
	}
	if start.Before(window.Open) {
		return fail(appointment.KindClosedDay, "the appointment starts before opening",
			"date", date, "boundary", "opening", "opens_at", window.Open.Format("15:04"))
	}
	return fail(appointment.KindClosedDay, "the appointment ends after closing",
		"date", date, "boundary", "closing", "closes_at", window.Close.Format("15:04"))
}
