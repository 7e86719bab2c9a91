// Package mirror runs calendar mirror work on a bounded worker pool so
// external calls never happen inside a booking transaction.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/calendar"
	"github.com/wolfman30/salon-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/salon-ai-platform/internal/salon"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

// Op names a mirror operation.
type Op string

const (
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpBlockCreate Op = "block_create"
	OpBlockDelete Op = "block_delete"
)

const defaultCalendarID = "primary"

// Store records mirror outcomes.
type Store interface {
	GetResource(ctx context.Context, id uuid.UUID) (appointment.Resource, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	SetMirrorState(ctx context.Context, id uuid.UUID, externalID *string, status appointment.MirrorStatus) error
	SetBlockExternalID(ctx context.Context, blockID uuid.UUID, externalID string) error
}

// Config sizes the pool and its retry budget.
type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration
	InlineWait  time.Duration
	// TimeZone labels mirrored events when no settings provider is attached.
	TimeZone string
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.InlineWait < 0 {
		c.InlineWait = 0
	}
}

type outcome struct {
	eventID string
	err     error
}

type task struct {
	op     Op
	appt   appointment.Appointment
	block  appointment.BlockingEvent
	result chan outcome
}

// Syncer owns the mirror worker pool.
type Syncer struct {
	mirror  calendar.Mirror
	store    Store
	cfg      Config
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
	settings salon.SettingsProvider

	mu      sync.RWMutex
	queue   chan task
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSyncer creates a stopped syncer; call Start before enqueueing.
func NewSyncer(mirror calendar.Mirror, store Store, cfg Config, logger *logging.Logger) *Syncer {
	if mirror == nil {
		panic("mirror: calendar mirror cannot be nil")
	}
	if store == nil {
		panic("mirror: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg.withDefaults()
	return &Syncer{
		mirror: mirror,
		store:  store,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan task, cfg.QueueSize),
	}
}

func (s *Syncer) WithMetrics(m *metrics.BookingMetrics) *Syncer {
	s.metrics = m
	return s
}

// WithSettings makes mirrored events carry the salon timezone from the live settings.
func (s *Syncer) WithSettings(p salon.SettingsProvider) *Syncer {
	s.settings = p
	return s
}

// Start launches the workers. Cancelling ctx aborts in-flight retries.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop closes the queue and waits for queued tasks to finish or ctx to expire.
func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if s.cancel != nil {
			s.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (s *Syncer) enqueue(t task) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("mirror: syncer stopped, dropping task", "op", t.op, "appointment_id", t.appt.ID, "block_id", t.block.ID)
		s.metrics.ObserveMirrorTask(string(t.op), "dropped")
		return false
	}
	select {
	case s.queue <- t:
		return true
	default:
		s.logger.Warn("mirror: queue full, dropping task", "op", t.op, "appointment_id", t.appt.ID, "block_id", t.block.ID)
		s.metrics.ObserveMirrorTask(string(t.op), "dropped")
		return false
	}
}

// Push mirrors a newly committed appointment. It waits at most InlineWait for the
// first outcome and returns the external event id when one arrived in time.
// The task keeps retrying in the background either way.
func (s *Syncer) Push(ctx context.Context, appt appointment.Appointment) *string {
	result := make(chan outcome, 1)
	if !s.enqueue(task{op: OpCreate, appt: appt, result: result}) {
		return nil
	}
	if s.cfg.InlineWait == 0 {
		return nil
	}

	timer := time.NewTimer(s.cfg.InlineWait)
	defer timer.Stop()
	select {
	case out := <-result:
		if out.err != nil || out.eventID == "" {
			return nil
		}
		id := out.eventID
		return &id
	case <-timer.C:
		s.logger.Info("mirror: push still in flight, returning without event id", "appointment_id", appt.ID)
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Update re-mirrors an appointment whose time changed.
func (s *Syncer) Update(appt appointment.Appointment) {
	s.enqueue(task{op: OpUpdate, appt: appt})
}

// Delete removes the mirror copy of an appointment that no longer occupies its slot.
func (s *Syncer) Delete(appt appointment.Appointment) {
	s.enqueue(task{op: OpDelete, appt: appt})
}

// PushBlock mirrors a blocking event.
func (s *Syncer) PushBlock(block appointment.BlockingEvent) {
	s.enqueue(task{op: OpBlockCreate, block: block})
}

// DeleteBlock removes the mirror copy of a blocking event.
func (s *Syncer) DeleteBlock(block appointment.BlockingEvent) {
	s.enqueue(task{op: OpBlockDelete, block: block})
}

func (s *Syncer) worker() {
	defer s.wg.Done()
	for t := range s.queue {
		s.process(t)
	}
}

func (s *Syncer) process(t task) {
	ctx := s.ctx
	eventID, err := s.withRetry(ctx, t)
	if t.result != nil {
		t.result <- outcome{eventID: eventID, err: err}
	}

	status := "succeeded"
	if err != nil {
		status = "failed"
		s.logger.Error("mirror: task failed", "op", t.op, "appointment_id", t.appt.ID, "block_id", t.block.ID, "error", err)
	}
	s.metrics.ObserveMirrorTask(string(t.op), status)

	// Outcome writes are independent of any booking transaction.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if werr := s.record(writeCtx, t, eventID, err); werr != nil {
		s.logger.Error("mirror: failed to record outcome", "op", t.op, "appointment_id", t.appt.ID, "error", werr)
	}
}

func (s *Syncer) withRetry(ctx context.Context, t task) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	op := func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		id, err := s.call(callCtx, t)
		if errors.Is(err, calendar.ErrPermanent) {
			return "", backoff.Permanent(err)
		}
		return id, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
	)
}

func (s *Syncer) call(ctx context.Context, t task) (string, error) {
	switch t.op {
	case OpCreate:
		ev, err := s.appointmentEvent(ctx, t.appt)
		if err != nil {
			return "", err
		}
		return s.mirror.CreateEvent(ctx, ev)
	case OpUpdate:
		ev, err := s.appointmentEvent(ctx, t.appt)
		if err != nil {
			return "", err
		}
		if t.appt.ExternalEventID == nil {
			return s.mirror.CreateEvent(ctx, ev)
		}
		return *t.appt.ExternalEventID, s.mirror.UpdateEvent(ctx, ev.CalendarID, *t.appt.ExternalEventID, ev)
	case OpDelete:
		if t.appt.ExternalEventID == nil {
			return "", nil
		}
		calID, err := s.calendarID(ctx, t.appt.ResourceID)
		if err != nil {
			return "", err
		}
		return "", s.mirror.DeleteEvent(ctx, calID, *t.appt.ExternalEventID)
	case OpBlockCreate:
		calID, err := s.calendarID(ctx, t.block.ResourceID)
		if err != nil {
			return "", err
		}
		return s.mirror.CreateEvent(ctx, blockEvent(t.block, calID, s.timeZone(ctx)))
	case OpBlockDelete:
		if t.block.ExternalEventID == nil {
			return "", nil
		}
		calID, err := s.calendarID(ctx, t.block.ResourceID)
		if err != nil {
			return "", err
		}
		return "", s.mirror.DeleteEvent(ctx, calID, *t.block.ExternalEventID)
	}
	return "", backoff.Permanent(fmt.Errorf("mirror: unknown op %q", t.op))
}

func (s *Syncer) record(ctx context.Context, t task, eventID string, taskErr error) error {
	switch t.op {
	case OpCreate, OpUpdate:
		if taskErr != nil {
			return s.store.SetMirrorState(ctx, t.appt.ID, nil, appointment.MirrorFailed)
		}
		if eventID == "" {
			return s.store.SetMirrorState(ctx, t.appt.ID, nil, appointment.MirrorSynced)
		}
		if err := s.store.SetMirrorState(ctx, t.appt.ID, &eventID, appointment.MirrorSynced); err != nil {
			return err
		}
		return s.deleteIfReleased(ctx, t.appt, eventID)
	case OpDelete:
		if taskErr != nil {
			return s.store.SetMirrorState(ctx, t.appt.ID, nil, appointment.MirrorFailed)
		}
		return s.store.SetMirrorState(ctx, t.appt.ID, nil, appointment.MirrorDeleted)
	case OpBlockCreate:
		if taskErr != nil || eventID == "" {
			return nil
		}
		return s.store.SetBlockExternalID(ctx, t.block.ID, eventID)
	}
	return nil
}

// deleteIfReleased handles a cancel or expiry that committed while the event was
// being created: its delete task carried no event id, so the new event is removed here.
func (s *Syncer) deleteIfReleased(ctx context.Context, appt appointment.Appointment, eventID string) error {
	current, err := s.store.GetAppointment(ctx, appt.ID)
	if err != nil {
		return fmt.Errorf("mirror: reload appointment: %w", err)
	}
	if current.Status.IsActive() {
		return nil
	}
	s.logger.Info("mirror: appointment released while event was created, deleting event",
		"appointment_id", appt.ID, "status", current.Status, "event_id", eventID)
	late := appt
	late.Status = current.Status
	late.ExternalEventID = &eventID
	s.enqueue(task{op: OpDelete, appt: late})
	return nil
}

func (s *Syncer) timeZone(ctx context.Context) string {
	if s.settings != nil {
		if cfg, err := s.settings.Settings(ctx); err == nil && cfg.Timezone != "" {
			return cfg.Timezone
		}
	}
	return s.cfg.TimeZone
}

func (s *Syncer) calendarID(ctx context.Context, resourceID uuid.UUID) (string, error) {
	res, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return "", fmt.Errorf("mirror: load resource: %w", err)
	}
	if res.CalendarID == "" {
		return defaultCalendarID, nil
	}
	return res.CalendarID, nil
}

func (s *Syncer) appointmentEvent(ctx context.Context, appt appointment.Appointment) (calendar.Event, error) {
	calID, err := s.calendarID(ctx, appt.ResourceID)
	if err != nil {
		return calendar.Event{}, err
	}
	summary := "Appointment"
	if appt.CustomerName != "" {
		summary += ": " + appt.CustomerName
	}
	desc := "Services: " + strings.Join(appt.ServiceIDs, ", ")
	if appt.Notes != "" {
		desc += "\n" + appt.Notes
	}
	return calendar.Event{
		CalendarID:  calID,
		Summary:     summary,
		Description: desc,
		Start:       appt.StartTime,
		End:         appt.EndTime(),
		TimeZone:    s.timeZone(ctx),
		Reference:   appt.ID.String(),
	}, nil
}

func blockEvent(b appointment.BlockingEvent, calendarID, tz string) calendar.Event {
	summary := "Blocked: " + string(b.Category)
	if b.Label != "" {
		summary += " (" + b.Label + ")"
	}
	return calendar.Event{
		CalendarID: calendarID,
		Summary:    summary,
		Start:      b.StartTime,
		End:        b.EndTime,
		TimeZone:   tz,
		Reference:  b.ID.String(),
	}
}
