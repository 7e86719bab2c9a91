// Package availability computes free booking slots for a resource and holds
// the overlap predicate shared by the booking transaction.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/salon"
	"github.com/wolfman30/salon-ai-platform/internal/validation"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("salon.internal.availability")

// DefaultStep is the slot granularity.
const DefaultStep = 15 * time.Minute

// BusyKind tags the origin of a busy interval.
type BusyKind string

const (
	BusyAppointment   BusyKind = "appointment"
	BusyBlockingEvent BusyKind = "blocking_event"
)

// BusyInterval is a half-open [Start, End) range where a resource is occupied.
type BusyInterval struct {
	Start time.Time
	End   time.Time
	Kind  BusyKind
	Label string
	RefID uuid.UUID
}

// Slot is a free candidate start for a booking of the requested duration.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Source lists the occupied intervals of a resource.
// Implementations return active appointments and blocking events intersecting [from, to),
// sorted ascending by start.
type Source interface {
	ListBusy(ctx context.Context, resourceID uuid.UUID, from, to time.Time) ([]BusyInterval, error)
}

// ResourceSource looks up a bookable resource.
// Implementations return appointment.ErrResourceNotFound for unknown ids.
type ResourceSource interface {
	GetResource(ctx context.Context, resourceID uuid.UUID) (appointment.Resource, error)
}

// ScheduleSource loads the salon's opening hours and holidays.
type ScheduleSource interface {
	LoadSchedule(ctx context.Context) (salon.Schedule, error)
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Adjacent intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Conflicts returns the busy intervals overlapping [start, end).
func Conflicts(busy []BusyInterval, start, end time.Time) []BusyInterval {
	var out []BusyInterval
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			out = append(out, b)
		}
	}
	return out
}

// SortBusy orders busy intervals by start, then end.
func SortBusy(busy []BusyInterval) {
	sort.SliceStable(busy, func(i, j int) bool {
		if busy[i].Start.Equal(busy[j].Start) {
			return busy[i].End.Before(busy[j].End)
		}
		return busy[i].Start.Before(busy[j].Start)
	})
}

// GenerateSlots steps from window.Open to window.Close-duration and returns every
// candidate start whose [start, start+duration) overlaps nothing in busy.
func GenerateSlots(window salon.Window, duration, step time.Duration, busy []BusyInterval) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !window.Close.After(window.Open) || window.Open.Add(duration).After(window.Close) {
		return nil
	}

	var slots []time.Time
	for t := window.Open; !t.Add(duration).After(window.Close); t = t.Add(step) {
		if len(Conflicts(busy, t, t.Add(duration))) == 0 {
			slots = append(slots, t)
		}
	}
	return slots
}

// Engine answers availability queries.
type Engine struct {
	busy      Source
	resources ResourceSource
	schedules ScheduleSource
	settings  salon.SettingsProvider
	step      time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewEngine creates an availability engine.
func NewEngine(busy Source, resources ResourceSource, schedules ScheduleSource, settings salon.SettingsProvider, step time.Duration, logger *logging.Logger) *Engine {
	if busy == nil {
		panic("availability: busy source cannot be nil")
	}
	if resources == nil {
		panic("availability: resource source cannot be nil")
	}
	if schedules == nil {
		panic("availability: schedule source cannot be nil")
	}
	if settings == nil {
		panic("availability: settings provider cannot be nil")
	}
	if step <= 0 {
		step = DefaultStep
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		busy:      busy,
		resources: resources,
		schedules: schedules,
		settings:  settings,
		step:      step,
		logger:    logger,
		now:       time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// BusyIntervals returns the occupied intervals of a resource in [from, to), sorted by start.
func (e *Engine) BusyIntervals(ctx context.Context, resourceID uuid.UUID, from, to time.Time) ([]BusyInterval, error) {
	busy, err := e.busy.ListBusy(ctx, resourceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("availability: list busy: %w", err)
	}
	SortBusy(busy)
	return busy, nil
}

// CheckAvailability returns free slots for a booking of durationMinutes on the salon-local date.
// Closed days, dates inside the advance-notice window and start times already
// passed yield no slots. Unknown or inactive resources fail with
// appointment.ErrResourceNotFound.
func (e *Engine) CheckAvailability(ctx context.Context, resourceID uuid.UUID, date time.Time, durationMinutes int) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "availability.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.resource_id", resourceID.String()),
		attribute.String("salon.date", date.Format(time.DateOnly)),
		attribute.Int("salon.duration_minutes", durationMinutes),
	)

	if durationMinutes <= 0 {
		return nil, fmt.Errorf("availability: duration must be positive, got %d", durationMinutes)
	}
	res, err := e.resources.GetResource(ctx, resourceID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, appointment.ErrResourceNotFound) {
			return nil, fmt.Errorf("availability: resource %s: %w", resourceID, err)
		}
		return nil, fmt.Errorf("availability: get resource: %w", err)
	}
	if !res.Active {
		return nil, fmt.Errorf("availability: resource %s is inactive: %w", resourceID, appointment.ErrResourceNotFound)
	}
	cfg, err := e.settings.Settings(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("availability: load settings: %w", err)
	}
	sched, err := e.schedules.LoadSchedule(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("availability: load schedule: %w", err)
	}

	// Anchor at local noon so the calendar date survives any zone conversion.
	loc := sched.Location
	if loc == nil {
		loc = time.UTC
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc)
	now := e.now()
	if r := validation.AdvanceNotice(now, day, cfg.Location(), cfg.AdvanceNoticeDays); !r.Valid {
		e.logger.Debug("availability: date inside advance notice", "resource_id", resourceID, "date", day.Format(time.DateOnly), "earliest", r.Context["earliest_date"])
		return []Slot{}, nil
	}
	window, reason := sched.WindowFor(day)
	if reason != salon.OpenDay {
		e.logger.Debug("availability: salon closed", "resource_id", resourceID, "date", day.Format(time.DateOnly), "reason", reason)
		return []Slot{}, nil
	}
	if !window.Close.After(now) {
		return []Slot{}, nil
	}

	busy, err := e.BusyIntervals(ctx, resourceID, window.Open, window.Close)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	duration := time.Duration(durationMinutes) * time.Minute
	starts := GenerateSlots(window, duration, e.step, busy)
	slots := make([]Slot, 0, len(starts))
	for _, s := range starts {
		if !validation.NotInPast(now, s).Valid {
			continue
		}
		slots = append(slots, Slot{Start: s, End: s.Add(duration)})
	}
	span.SetAttributes(attribute.Int("salon.slots", len(slots)))
	return slots, nil
}
