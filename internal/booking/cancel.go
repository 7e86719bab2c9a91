package booking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/availability"
	"github.com/wolfman30/salon-ai-platform/internal/events"
	"github.com/wolfman30/salon-ai-platform/internal/validation"
)

// CancelRequest cancels one appointment. Escalated requests bypass the cancellation window.
type CancelRequest struct {
	AppointmentID uuid.UUID
	Reason        string
	Escalated     bool
}

// CancellationResult is the outcome of Cancel.
type CancellationResult struct {
	Success            bool
	Kind               appointment.ErrorKind
	Details            map[string]string
	RequiresEscalation bool
	HoursUntilStart    float64
	Appointment        *appointment.Appointment
}

// Cancel moves a PENDING or CONFIRMED appointment to CANCELLED. Inside the
// cancellation window a non-escalated request is rejected with RequiresEscalation set.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) CancellationResult {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.appointment_id", req.AppointmentID.String()),
		attribute.Bool("salon.escalated", req.Escalated),
	)

	if req.AppointmentID == uuid.Nil {
		f := appointment.NewFailure(appointment.KindAppointmentNotFound, "reason", "appointment id is required")
		return CancellationResult{Kind: f.Kind, Details: f.Details}
	}

	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		s.logger.Error("booking: load settings failed", "error", err)
		f := appointment.NewFailure(appointment.KindDatabaseError, "reason", "settings unavailable")
		return CancellationResult{Kind: f.Kind, Details: f.Details}
	}
	window := cfg.CancellationWindow()
	now := s.now()

	var (
		appt       *appointment.Appointment
		hoursUntil float64
		escalate   bool
	)
	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.store.InTx(txCtx, func(ctx context.Context) error {
		escalate = false
		a, err := s.store.GetAppointmentForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		hoursUntil = a.StartTime.Sub(now).Hours()
		if !a.Status.CanTransition(appointment.StatusCancelled) {
			return invalidTransition(a.Status, appointment.StatusCancelled)
		}
		if a.StartTime.Sub(now) < window && !req.Escalated {
			escalate = true
			return appointment.NewFailure(appointment.KindCancellationWindow,
				"reason", "cancellations inside the window need staff approval",
				"hours_until_start", strconv.FormatFloat(hoursUntil, 'f', 1, 64),
				"window_hours", strconv.Itoa(cfg.CancellationWindowHours),
			)
		}

		a.Status = appointment.StatusCancelled
		a.CancellationReason = req.Reason
		cancelledAt := now.UTC()
		a.CancelledAt = &cancelledAt
		a.HoldExpiresAt = nil
		a.UpdatedAt = now.UTC()
		if err := s.store.SaveStatus(ctx, a); err != nil {
			return err
		}
		if _, err := s.outbox.Insert(ctx, a.ID, events.TypeAppointmentCancelled,
			events.NewAppointmentCancelled(a, req.Escalated, hoursUntil, now)); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		f := s.classify(err)
		if f.Kind == appointment.KindDatabaseError {
			s.logger.Error("booking: cancel failed", "appointment_id", req.AppointmentID, "error", err)
		}
		return CancellationResult{Kind: f.Kind, Details: f.Details, RequiresEscalation: escalate, HoursUntilStart: hoursUntil}
	}

	s.logger.Info("booking: appointment cancelled",
		"appointment_id", appt.ID,
		"escalated", req.Escalated,
		"hours_until_start", hoursUntil,
	)
	s.mirror.Delete(*appt)
	return CancellationResult{Success: true, HoursUntilStart: hoursUntil, Appointment: appt}
}

// RescheduleRequest moves an active appointment to a new start time.
type RescheduleRequest struct {
	AppointmentID uuid.UUID
	NewStartTime  time.Time
}

// Reschedule re-validates the new time and moves the appointment under the resource lock.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) Result {
	ctx, span := tracer.Start(ctx, "booking.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.appointment_id", req.AppointmentID.String()),
		attribute.String("salon.start_time", req.NewStartTime.Format(time.RFC3339)),
	)

	if req.AppointmentID == uuid.Nil {
		return failed(appointment.NewFailure(appointment.KindAppointmentNotFound, "reason", "appointment id is required"))
	}
	if req.NewStartTime.IsZero() {
		return failed(appointment.NewFailure(appointment.KindInvalidRequest, "reason", "new start time is required"))
	}

	current, err := s.store.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return failed(s.classify(err))
	}
	if !current.Status.IsActive() {
		return failed(invalidTransition(current.Status, current.Status))
	}

	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		s.logger.Error("booking: load settings failed", "error", err)
		return failed(appointment.NewFailure(appointment.KindDatabaseError, "reason", "settings unavailable"))
	}
	now := s.now()
	if r := validation.AdvanceNotice(now, req.NewStartTime, cfg.Location(), cfg.AdvanceNoticeDays); !r.Valid {
		return failed(r.Failure())
	}
	if r := validation.NotInPast(now, req.NewStartTime); !r.Valid {
		return failed(r.Failure())
	}
	sched, err := s.catalog.LoadSchedule(ctx)
	if err != nil {
		s.logger.Error("booking: load schedule failed", "error", err)
		return failed(appointment.NewFailure(appointment.KindDatabaseError, "reason", "schedule unavailable"))
	}
	if r := validation.Closure(req.NewStartTime, current.Duration(), sched); !r.Valid {
		return failed(r.Failure())
	}

	var (
		appt          *appointment.Appointment
		previousStart time.Time
	)
	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.store.InTx(txCtx, func(ctx context.Context) error {
		lockStart := time.Now()
		defer func() { s.metrics.ObserveLock(time.Since(lockStart).Seconds()) }()

		if _, err := s.store.LockResource(ctx, current.ResourceID); err != nil {
			return err
		}
		a, err := s.store.GetAppointmentForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		if !a.Status.IsActive() {
			return invalidTransition(a.Status, a.Status)
		}

		start := req.NewStartTime.UTC()
		end := start.Add(a.Duration())
		busy, err := s.store.ListBusyExcluding(ctx, a.ResourceID, start, end, a.ID)
		if err != nil {
			return err
		}
		if conflicts := availability.Conflicts(busy, start, end); len(conflicts) > 0 {
			return slotTaken(conflicts[0])
		}

		previousStart = a.StartTime
		a.StartTime = start
		a.UpdatedAt = now.UTC()
		if err := s.store.Reschedule(ctx, a); err != nil {
			return err
		}
		if _, err := s.outbox.Insert(ctx, a.ID, events.TypeAppointmentRescheduled,
			events.NewAppointmentRescheduled(a, previousStart, now)); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		f := s.classify(err)
		if f.Kind == appointment.KindDatabaseError {
			s.logger.Error("booking: reschedule failed",
				"appointment_id", req.AppointmentID,
				"resource_id", current.ResourceID,
				"start", req.NewStartTime,
				"error", err,
			)
		}
		return failed(f)
	}

	s.logger.Info("booking: appointment rescheduled",
		"appointment_id", appt.ID,
		"previous_start", previousStart,
		"start", appt.StartTime,
	)
	s.mirror.Update(*appt)
	return Result{Success: true, AppointmentID: appt.ID, ExternalEventID: appt.ExternalEventID, Appointment: appt}
}

// Confirm moves a PENDING appointment to CONFIRMED and clears its hold.
// A hold that already expired cannot be confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) Result {
	return s.transition(ctx, id, appointment.StatusConfirmed)
}

// Complete marks a CONFIRMED appointment as served.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) Result {
	return s.transition(ctx, id, appointment.StatusCompleted)
}

// MarkNoShow marks a CONFIRMED appointment whose customer did not arrive.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) Result {
	return s.transition(ctx, id, appointment.StatusNoShow)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, next appointment.Status) Result {
	ctx, span := tracer.Start(ctx, "booking.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.appointment_id", id.String()),
		attribute.String("salon.status", string(next)),
	)

	if id == uuid.Nil {
		return failed(appointment.NewFailure(appointment.KindAppointmentNotFound, "reason", "appointment id is required"))
	}

	now := s.now()
	var (
		appt     *appointment.Appointment
		previous appointment.Status
	)
	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.store.InTx(txCtx, func(ctx context.Context) error {
		a, err := s.store.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !a.Status.CanTransition(next) {
			return invalidTransition(a.Status, next)
		}
		if next == appointment.StatusConfirmed && a.HoldExpired(now) {
			f := invalidTransition(a.Status, next)
			f.Details["reason"] = "the provisional hold has expired"
			return f
		}

		previous = a.Status
		a.Status = next
		a.HoldExpiresAt = nil
		a.UpdatedAt = now.UTC()
		if err := s.store.SaveStatus(ctx, a); err != nil {
			return err
		}
		if _, err := s.outbox.Insert(ctx, a.ID, events.TypeAppointmentStatusChanged,
			events.NewAppointmentStatusChanged(a, previous, now)); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		f := s.classify(err)
		if f.Kind == appointment.KindDatabaseError {
			s.logger.Error("booking: status change failed", "appointment_id", id, "status", next, "error", err)
		}
		return failed(f)
	}

	s.logger.Info("booking: appointment status changed", "appointment_id", id, "from", previous, "to", next)
	return Result{Success: true, AppointmentID: appt.ID, ExternalEventID: appt.ExternalEventID, Appointment: appt}
}

func invalidTransition(from, to appointment.Status) *appointment.Failure {
	return appointment.NewFailure(appointment.KindInvalidTransition,
		"reason", fmt.Sprintf("cannot move appointment from %s to %s", from, to),
		"from", string(from),
		"to", string(to),
	)
}
