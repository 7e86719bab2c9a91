// Package appointment holds the booking core's domain model: appointments,
// blocking events, the appointment status machine and the failure taxonomy
// shared by every writer.
package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
//
//	pending → confirmed → completed
//	pending | confirmed → cancelled
//	pending → expired
//	confirmed → no_show
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusNoShow    Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusExpired},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusExpired, StatusNoShow:
		return true
	}
	return false
}

// IsActive reports whether the status occupies its time slot.
func (s Status) IsActive() bool {
	for _, active := range ActiveStatuses() {
		if s == active {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s.IsValid() && !s.IsActive()
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ActiveStatuses lists the statuses that participate in the non-overlap invariant.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed}
}

// MirrorStatus tracks the calendar mirror copy of an appointment.
type MirrorStatus string

const (
	MirrorPending MirrorStatus = "pending"
	MirrorSynced  MirrorStatus = "synced"
	MirrorFailed  MirrorStatus = "failed"
	MirrorDeleted MirrorStatus = "deleted"
)

// Appointment is a customer booking against a single resource.
type Appointment struct {
	ID                 uuid.UUID
	ResourceID         uuid.UUID
	ServiceIDs         []string
	StartTime          time.Time
	DurationMinutes    int
	Status             Status
	CustomerID         string
	CustomerName       string
	ExternalEventID    *string
	MirrorStatus       MirrorStatus
	HoldExpiresAt      *time.Time
	Notes              string
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        *time.Time
}

// EndTime returns the exclusive end of the appointment window.
func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(a.Duration())
}

// Duration returns the appointment length.
func (a *Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// HoldExpired reports whether a pending hold has outlived its expiry at now.
func (a *Appointment) HoldExpired(now time.Time) bool {
	return a.Status == StatusPending && a.HoldExpiresAt != nil && !a.HoldExpiresAt.After(now)
}

// BlockCategory classifies a blocking event.
type BlockCategory string

const (
	BlockVacation BlockCategory = "vacation"
	BlockBreak    BlockCategory = "break"
	BlockPersonal BlockCategory = "personal"
	BlockOther    BlockCategory = "other"
)

// IsValid reports whether c is a known block category.
func (c BlockCategory) IsValid() bool {
	switch c {
	case BlockVacation, BlockBreak, BlockPersonal, BlockOther:
		return true
	}
	return false
}

// BlockingEvent is staff-entered unavailability for a resource.
type BlockingEvent struct {
	ID              uuid.UUID
	ResourceID      uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	Category        BlockCategory
	Label           string
	ExternalEventID *string
	CreatedAt       time.Time
}

// Resource is a bookable stylist.
type Resource struct {
	ID         uuid.UUID
	Name       string
	CalendarID string
	Active     bool
}
