// Package booking implements the atomic booking transaction and the
// cancellation, reschedule and lifecycle operations that share its locking.
package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/availability"
	"github.com/wolfman30/salon-ai-platform/internal/events"
	"github.com/wolfman30/salon-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/salon-ai-platform/internal/salon"
	"github.com/wolfman30/salon-ai-platform/internal/storage/postgres"
	"github.com/wolfman30/salon-ai-platform/internal/validation"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("salon.internal.booking")

const defaultBookingTimeout = 5 * time.Second

// Store is the transactional persistence used by the service.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockResource(ctx context.Context, resourceID uuid.UUID) (appointment.Resource, error)
	ListBusyExcluding(ctx context.Context, resourceID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]availability.BusyInterval, error)
	InsertAppointment(ctx context.Context, a *appointment.Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	SaveStatus(ctx context.Context, a *appointment.Appointment) error
	Reschedule(ctx context.Context, a *appointment.Appointment) error
	InsertBlock(ctx context.Context, b *appointment.BlockingEvent) error
	DeleteBlock(ctx context.Context, resourceID, blockID uuid.UUID) (*appointment.BlockingEvent, error)
}

// Catalog provides services and the salon schedule.
type Catalog interface {
	GetServices(ctx context.Context, ids []string) ([]salon.Service, error)
	LoadSchedule(ctx context.Context) (salon.Schedule, error)
}

// Outbox records notification events inside the caller's transaction.
type Outbox interface {
	Insert(ctx context.Context, aggregateID uuid.UUID, eventType string, payload any) (uuid.UUID, error)
}

// Mirror schedules calendar mirror work after commit.
type Mirror interface {
	Push(ctx context.Context, appt appointment.Appointment) *string
	Update(appt appointment.Appointment)
	Delete(appt appointment.Appointment)
	PushBlock(block appointment.BlockingEvent)
	DeleteBlock(block appointment.BlockingEvent)
}

// Request is a booking attempt for one resource.
type Request struct {
	ResourceID   uuid.UUID
	ServiceIDs   []string
	StartTime    time.Time
	CustomerID   string
	CustomerName string
	Notes        string
}

// Result is the outcome of Book. Expected failures set Kind and Details.
type Result struct {
	Success         bool
	AppointmentID   uuid.UUID
	ExternalEventID *string
	Appointment     *appointment.Appointment
	Kind            appointment.ErrorKind
	Details         map[string]string
}

func failed(f *appointment.Failure) Result {
	return Result{Kind: f.Kind, Details: f.Details}
}

// Service runs booking operations.
type Service struct {
	store    Store
	catalog  Catalog
	settings salon.SettingsProvider
	outbox   Outbox
	mirror   Mirror
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
	timeout  time.Duration
	now      func() time.Time
}

// NewService wires the booking service.
func NewService(store Store, catalog Catalog, settings salon.SettingsProvider, outbox Outbox, mirror Mirror, logger *logging.Logger) *Service {
	if store == nil {
		panic("booking: store cannot be nil")
	}
	if catalog == nil {
		panic("booking: catalog cannot be nil")
	}
	if settings == nil {
		panic("booking: settings provider cannot be nil")
	}
	if outbox == nil {
		panic("booking: outbox cannot be nil")
	}
	if mirror == nil {
		panic("booking: mirror cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		settings: settings,
		outbox:   outbox,
		mirror:   mirror,
		logger:   logger,
		timeout:  defaultBookingTimeout,
		now:      time.Now,
	}
}

func (s *Service) WithMetrics(m *metrics.BookingMetrics) *Service {
	s.metrics = m
	return s
}

// WithTimeout bounds each booking transaction, retries included.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Book validates the request, commits a PENDING appointment under the resource
// lock and then pushes it to the calendar mirror. It is not idempotent.
func (s *Service) Book(ctx context.Context, req Request) Result {
	ctx, span := tracer.Start(ctx, "booking.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("salon.resource_id", req.ResourceID.String()),
		attribute.String("salon.start_time", req.StartTime.Format(time.RFC3339)),
		attribute.StringSlice("salon.service_ids", req.ServiceIDs),
	)

	res := s.book(ctx, req)
	outcome := "success"
	if !res.Success {
		outcome = strings.ToLower(string(res.Kind))
		span.SetAttributes(attribute.String("salon.failure", string(res.Kind)))
	}
	s.metrics.ObserveBooking(outcome)
	return res
}

func (s *Service) book(ctx context.Context, req Request) Result {
	if f := validateRequest(req); f != nil {
		return failed(f)
	}

	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		s.logger.Error("booking: load settings failed", "error", err)
		return failed(appointment.NewFailure(appointment.KindDatabaseError, "reason", "settings unavailable"))
	}
	now := s.now()
	if r := validation.AdvanceNotice(now, req.StartTime, cfg.Location(), cfg.AdvanceNoticeDays); !r.Valid {
		return failed(r.Failure())
	}
	if r := validation.NotInPast(now, req.StartTime); !r.Valid {
		return failed(r.Failure())
	}

	services, err := s.catalog.GetServices(ctx, req.ServiceIDs)
	if err != nil {
		if errors.Is(err, postgres.ErrServiceNotFound) {
			return failed(appointment.NewFailure(appointment.KindServiceNotFound, "reason", err.Error()))
		}
		s.logger.Error("booking: load services failed", "service_ids", req.ServiceIDs, "error", err)
		return failed(appointment.NewFailure(appointment.KindDatabaseError, "reason", "service lookup failed"))
	}
	if r := validation.CategoryConsistency(services); !r.Valid {
		return failed(r.Failure())
	}

	durationMinutes := salon.TotalDuration(services)
	duration := time.Duration(durationMinutes) * time.Minute

	sched, err := s.catalog.LoadSchedule(ctx)
	if err != nil {
		s.logger.Error("booking: load schedule failed", "error", err)
		return failed(appointment.NewFailure(appointment.KindDatabaseError, "reason", "schedule unavailable"))
	}
	if r := validation.Closure(req.StartTime, duration, sched); !r.Valid {
		return failed(r.Failure())
	}

	holdUntil := now.Add(cfg.HoldTimeout(now, req.StartTime)).UTC()
	appt := &appointment.Appointment{
		ID:              uuid.New(),
		ResourceID:      req.ResourceID,
		ServiceIDs:      req.ServiceIDs,
		StartTime:       req.StartTime.UTC(),
		DurationMinutes: durationMinutes,
		Status:          appointment.StatusPending,
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		Notes:           req.Notes,
		MirrorStatus:    appointment.MirrorPending,
		HoldExpiresAt:   &holdUntil,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}

	txCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.store.InTx(txCtx, func(ctx context.Context) error {
		lockStart := time.Now()
		defer func() { s.metrics.ObserveLock(time.Since(lockStart).Seconds()) }()

		if _, err := s.store.LockResource(ctx, req.ResourceID); err != nil {
			return err
		}
		busy, err := s.store.ListBusyExcluding(ctx, req.ResourceID, appt.StartTime, appt.EndTime(), uuid.Nil)
		if err != nil {
			return err
		}
		if conflicts := availability.Conflicts(busy, appt.StartTime, appt.EndTime()); len(conflicts) > 0 {
			return slotTaken(conflicts[0])
		}
		if err := s.store.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		_, err = s.outbox.Insert(ctx, appt.ID, events.TypeAppointmentBooked, events.NewAppointmentBooked(appt, now))
		return err
	})
	if err != nil {
		f := s.classify(err)
		if f.Kind == appointment.KindDatabaseError {
			s.logger.Error("booking: transaction failed",
				"resource_id", req.ResourceID,
				"start", appt.StartTime,
				"end", appt.EndTime(),
				"service_ids", req.ServiceIDs,
				"error", err,
			)
		}
		return failed(f)
	}

	s.logger.Info("booking: appointment committed",
		"appointment_id", appt.ID,
		"resource_id", appt.ResourceID,
		"start", appt.StartTime,
		"hold_expires_at", holdUntil,
	)

	ext := s.mirror.Push(ctx, *appt)
	appt.ExternalEventID = ext
	return Result{Success: true, AppointmentID: appt.ID, ExternalEventID: ext, Appointment: appt}
}

func validateRequest(req Request) *appointment.Failure {
	if req.ResourceID == uuid.Nil {
		return appointment.NewFailure(appointment.KindResourceNotFound, "reason", "resource id is required")
	}
	if len(req.ServiceIDs) == 0 {
		return appointment.NewFailure(appointment.KindServiceNotFound, "reason", "at least one service is required")
	}
	for _, id := range req.ServiceIDs {
		if strings.TrimSpace(id) == "" {
			return appointment.NewFailure(appointment.KindServiceNotFound, "reason", "service id is empty")
		}
	}
	if req.StartTime.IsZero() {
		return appointment.NewFailure(appointment.KindInvalidRequest, "reason", "start time is required")
	}
	return nil
}

func slotTaken(c availability.BusyInterval) *appointment.Failure {
	return appointment.NewFailure(appointment.KindSlotTaken,
		"reason", "the requested time overlaps an existing booking",
		"conflict_kind", string(c.Kind),
		"conflict_label", c.Label,
		"conflict_start", c.Start.UTC().Format(time.RFC3339),
		"conflict_end", c.End.UTC().Format(time.RFC3339),
	)
}

// classify maps transaction errors onto the failure taxonomy.
func (s *Service) classify(err error) *appointment.Failure {
	var f *appointment.Failure
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, postgres.ErrResourceNotFound):
		return appointment.NewFailure(appointment.KindResourceNotFound, "reason", "resource does not exist or is inactive")
	case errors.Is(err, postgres.ErrAppointmentNotFound):
		return appointment.NewFailure(appointment.KindAppointmentNotFound, "reason", "appointment does not exist")
	case errors.Is(err, postgres.ErrBlockNotFound):
		return appointment.NewFailure(appointment.KindBlockNotFound, "reason", "blocking event does not exist")
	case postgres.IsExclusionViolation(err):
		return appointment.NewFailure(appointment.KindSlotTaken, "reason", "the requested time overlaps an existing booking")
	case errors.Is(err, context.DeadlineExceeded):
		return appointment.NewFailure(appointment.KindDatabaseError, "reason", "booking timed out")
	default:
		return appointment.NewFailure(appointment.KindDatabaseError, "reason", "database error")
	}
}
