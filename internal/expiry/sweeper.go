// Package expiry turns PENDING appointments whose hold lapsed into EXPIRED,
// freeing their slots.
package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/events"
	"github.com/wolfman30/salon-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/salon-ai-platform/internal/storage/postgres"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

var tracer = otel.Tracer("salon.internal.expiry")

// Store is the persistence the sweeper needs.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	LockPendingForExpiry(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	SaveStatus(ctx context.Context, a *appointment.Appointment) error
}

// Outbox records the expiry notification in the sweep transaction.
type Outbox interface {
	Insert(ctx context.Context, aggregateID uuid.UUID, eventType string, payload any) (uuid.UUID, error)
}

// Mirror removes expired holds from the external calendar.
type Mirror interface {
	Delete(appt appointment.Appointment)
}

// Report summarizes one sweep.
type Report struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// Sweeper expires stale holds on an interval.
type Sweeper struct {
	store    Store
	outbox   Outbox
	mirror   Mirror
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
	interval time.Duration
	batch    int
	now      func() time.Time
}

// NewSweeper creates a sweeper that runs every minute over batches of 100.
func NewSweeper(store Store, outbox Outbox, mirror Mirror, logger *logging.Logger) *Sweeper {
	if store == nil {
		panic("expiry: store cannot be nil")
	}
	if outbox == nil {
		panic("expiry: outbox cannot be nil")
	}
	if mirror == nil {
		panic("expiry: mirror cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		store:    store,
		outbox:   outbox,
		mirror:   mirror,
		logger:   logger,
		interval: time.Minute,
		batch:    100,
		now:      time.Now,
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batch = n
	}
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.BookingMetrics) *Sweeper {
	s.metrics = m
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("expiry sweeper started", "interval", s.interval, "batch", s.batch)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires one batch. Each appointment commits independently; a
// failure on one is logged and counted and the sweep continues.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "expiry.sweep")
	defer span.End()

	now := s.now()
	ids, err := s.store.ListExpiredPending(ctx, now, s.batch)
	if err != nil {
		span.RecordError(err)
		return Report{}, err
	}

	report := Report{Scanned: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		appt, err := s.expire(ctx, id, now)
		switch {
		case err == nil && appt != nil:
			report.Expired++
			s.mirror.Delete(*appt)
		case err == nil, errors.Is(err, postgres.ErrLocked):
			report.Skipped++
		default:
			report.Failed++
			s.logger.Error("expiry: failed to expire appointment", "appointment_id", id, "error", err)
		}
	}

	span.SetAttributes(
		attribute.Int("salon.scanned", report.Scanned),
		attribute.Int("salon.expired", report.Expired),
		attribute.Int("salon.failed", report.Failed),
	)
	s.metrics.ObserveSweep(report.Expired, report.Failed)
	if report.Expired > 0 || report.Failed > 0 {
		s.logger.Info("expiry sweep completed",
			"scanned", report.Scanned,
			"expired", report.Expired,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
	return report, nil
}

// expire returns nil without error when the row no longer qualifies.
func (s *Sweeper) expire(ctx context.Context, id uuid.UUID, now time.Time) (*appointment.Appointment, error) {
	var expired *appointment.Appointment
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		expired = nil
		a, err := s.store.LockPendingForExpiry(ctx, id)
		if err != nil {
			return err
		}
		if !a.HoldExpired(now) || !a.Status.CanTransition(appointment.StatusExpired) {
			return nil
		}

		heldUntil := a.HoldExpiresAt
		a.Status = appointment.StatusExpired
		a.HoldExpiresAt = nil
		a.UpdatedAt = now.UTC()
		if err := s.store.SaveStatus(ctx, a); err != nil {
			return err
		}
		if _, err := s.outbox.Insert(ctx, a.ID, events.TypeAppointmentExpired,
			events.NewAppointmentExpired(a, heldUntil, now)); err != nil {
			return err
		}
		expired = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}
