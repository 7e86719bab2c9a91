package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
)

// Event types written to the outbox.
const (
	TypeAppointmentBooked        = "appointment.booked.v1"
	TypeAppointmentExpired       = "appointment.expired.v1"
	TypeAppointmentCancelled     = "appointment.cancelled.v1"
	TypeAppointmentRescheduled   = "appointment.rescheduled.v1"
	TypeAppointmentStatusChanged = "appointment.status_changed.v1"
)

// AppointmentSnapshot is the appointment state carried by every appointment event.
type AppointmentSnapshot struct {
	AppointmentID string    `json:"appointment_id"`
	ResourceID    string    `json:"resource_id"`
	ServiceIDs    []string  `json:"service_ids"`
	CustomerID    string    `json:"customer_id"`
	CustomerName  string    `json:"customer_name,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
}

func Snapshot(a *appointment.Appointment) AppointmentSnapshot {
	return AppointmentSnapshot{
		AppointmentID: a.ID.String(),
		ResourceID:    a.ResourceID.String(),
		ServiceIDs:    a.ServiceIDs,
		CustomerID:    a.CustomerID,
		CustomerName:  a.CustomerName,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime(),
		Status:        string(a.Status),
	}
}

type AppointmentBookedV1 struct {
	EventID string `json:"event_id"`
	AppointmentSnapshot
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

type AppointmentExpiredV1 struct {
	EventID string `json:"event_id"`
	AppointmentSnapshot
	HoldExpiredAt *time.Time `json:"hold_expired_at,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

type AppointmentCancelledV1 struct {
	EventID string `json:"event_id"`
	AppointmentSnapshot
	Reason          string    `json:"reason,omitempty"`
	Escalated       bool      `json:"escalated"`
	HoursUntilStart float64   `json:"hours_until_start"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type AppointmentRescheduledV1 struct {
	EventID string `json:"event_id"`
	AppointmentSnapshot
	PreviousStartTime time.Time `json:"previous_start_time"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type AppointmentStatusChangedV1 struct {
	EventID string `json:"event_id"`
	AppointmentSnapshot
	PreviousStatus string    `json:"previous_status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func newEventID() string {
	return uuid.NewString()
}

func NewAppointmentBooked(a *appointment.Appointment, at time.Time) AppointmentBookedV1 {
	return AppointmentBookedV1{EventID: newEventID(), AppointmentSnapshot: Snapshot(a), HoldExpiresAt: a.HoldExpiresAt, OccurredAt: at.UTC()}
}

func NewAppointmentExpired(a *appointment.Appointment, holdExpiredAt *time.Time, at time.Time) AppointmentExpiredV1 {
	return AppointmentExpiredV1{EventID: newEventID(), AppointmentSnapshot: Snapshot(a), HoldExpiredAt: holdExpiredAt, OccurredAt: at.UTC()}
}

func NewAppointmentCancelled(a *appointment.Appointment, escalated bool, hoursUntil float64, at time.Time) AppointmentCancelledV1 {
	return AppointmentCancelledV1{
		EventID:             newEventID(),
		AppointmentSnapshot: Snapshot(a),
		Reason:              a.CancellationReason,
		Escalated:           escalated,
		HoursUntilStart:     hoursUntil,
		OccurredAt:          at.UTC(),
	}
}

func NewAppointmentRescheduled(a *appointment.Appointment, previousStart, at time.Time) AppointmentRescheduledV1 {
	return AppointmentRescheduledV1{EventID: newEventID(), AppointmentSnapshot: Snapshot(a), PreviousStartTime: previousStart, OccurredAt: at.UTC()}
}

func NewAppointmentStatusChanged(a *appointment.Appointment, previous appointment.Status, at time.Time) AppointmentStatusChangedV1 {
	return AppointmentStatusChangedV1{EventID: newEventID(), AppointmentSnapshot: Snapshot(a), PreviousStatus: string(previous), OccurredAt: at.UTC()}
}
