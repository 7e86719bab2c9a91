// Package calendar pushes appointments and blocking events to an external
// calendar (the mirror). The mirror is never authoritative.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks mirror failures that retrying cannot fix.
var ErrPermanent = errors.New("calendar: permanent failure")

// Event is the mirror representation of a busy interval.
type Event struct {
	CalendarID  string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	// Reference is the local id stored on the remote event for reconciliation.
	Reference string
}

// Mirror creates, updates and deletes events in an external calendar.
// Implementations may fail transiently; callers own retries.
type Mirror interface {
	CreateEvent(ctx context.Context, ev Event) (string, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, ev Event) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Noop is the mirror used when no calendar is configured. Creates return an empty id.
type Noop struct{}

func (Noop) CreateEvent(context.Context, Event) (string, error) { return "", nil }
func (Noop) UpdateEvent(context.Context, string, string, Event) error { return nil }
func (Noop) DeleteEvent(context.Context, string, string) error { return nil }
