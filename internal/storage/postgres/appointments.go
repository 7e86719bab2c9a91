package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/availability"
)

// AppointmentRepository persists appointments and blocking events.
type AppointmentRepository struct {
	*TxRunner
	db DB
}

// NewAppointmentRepository creates the repository over db.
func NewAppointmentRepository(db DB, runner *TxRunner) *AppointmentRepository {
	if db == nil {
		panic("postgres: db required")
	}
	if runner == nil {
		runner = NewTxRunner(db, nil)
	}
	return &AppointmentRepository{TxRunner: runner, db: db}
}

const appointmentColumns = `id, resource_id, service_ids, start_time, duration_minutes, status,
customer_id, customer_name, notes, external_event_id, mirror_status, hold_expires_at,
cancellation_reason, created_at, updated_at, cancelled_at`

func scanAppointment(row pgx.Row) (*appointment.Appointment, error) {
	var (
		a      appointment.Appointment
		status string
		mirror string
	)
	err := row.Scan(
		&a.ID, &a.ResourceID, &a.ServiceIDs, &a.StartTime, &a.DurationMinutes, &status,
		&a.CustomerID, &a.CustomerName, &a.Notes, &a.ExternalEventID, &mirror, &a.HoldExpiresAt,
		&a.CancellationReason, &a.CreatedAt, &a.UpdatedAt, &a.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = appointment.Status(status)
	a.MirrorStatus = appointment.MirrorStatus(mirror)
	return &a, nil
}

// LockResource takes the row lock that serializes bookings for one resource.
func (r *AppointmentRepository) LockResource(ctx context.Context, resourceID uuid.UUID) (appointment.Resource, error) {
	const query = `SELECT id, name, calendar_id, active FROM resources WHERE id = $1 FOR UPDATE`
	var res appointment.Resource
	err := QuerierFrom(ctx, r.db).QueryRow(ctx, query, resourceID).Scan(&res.ID, &res.Name, &res.CalendarID, &res.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return appointment.Resource{}, ErrResourceNotFound
		}
		return appointment.Resource{}, fmt.Errorf("postgres: lock resource: %w", err)
	}
	if !res.Active {
		return appointment.Resource{}, ErrResourceNotFound
	}
	return res, nil
}

// GetResource loads a resource without locking it.
func (r *AppointmentRepository) GetResource(ctx context.Context, resourceID uuid.UUID) (appointment.Resource, error) {
	const query = `SELECT id, name, calendar_id, active FROM resources WHERE id = $1`
	var res appointment.Resource
	err := QuerierFrom(ctx, r.db).QueryRow(ctx, query, resourceID).Scan(&res.ID, &res.Name, &res.CalendarID, &res.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return appointment.Resource{}, ErrResourceNotFound
		}
		return appointment.Resource{}, fmt.Errorf("postgres: get resource: %w", err)
	}
	return res, nil
}

// ListBusy returns active appointments and blocking events intersecting [from, to), sorted by start.
func (r *AppointmentRepository) ListBusy(ctx context.Context, resourceID uuid.UUID, from, to time.Time) ([]availability.BusyInterval, error) {
	return r.ListBusyExcluding(ctx, resourceID, from, to, uuid.Nil)
}

// ListBusyExcluding is ListBusy without the appointment identified by exclude.
func (r *AppointmentRepository) ListBusyExcluding(ctx context.Context, resourceID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]availability.BusyInterval, error) {
	q := QuerierFrom(ctx, r.db)

	const apptQuery = `
SELECT id, start_time, end_time, status
FROM appointments
WHERE resource_id = $1
  AND status = ANY($5)
  AND start_time < $3 AND end_time > $2
  AND id <> $4
ORDER BY start_time`
	rows, err := q.Query(ctx, apptQuery, resourceID, from, to, exclude, activeStatuses())
	if err != nil {
		return nil, fmt.Errorf("postgres: list busy appointments: %w", err)
	}
	var busy []availability.BusyInterval
	for rows.Next() {
		var (
			b      availability.BusyInterval
			status string
		)
		if err := rows.Scan(&b.RefID, &b.Start, &b.End, &status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan busy appointment: %w", err)
		}
		b.Kind = availability.BusyAppointment
		b.Label = status + " appointment"
		busy = append(busy, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list busy appointments: %w", err)
	}

	const blockQuery = `
SELECT id, start_time, end_time, category, label
FROM blocking_events
WHERE resource_id = $1 AND start_time < $3 AND end_time > $2
ORDER BY start_time`
	rows, err = q.Query(ctx, blockQuery, resourceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list busy blocks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			b               availability.BusyInterval
			category, label string
		)
		if err := rows.Scan(&b.RefID, &b.Start, &b.End, &category, &label); err != nil {
			return nil, fmt.Errorf("postgres: scan busy block: %w", err)
		}
		b.Kind = availability.BusyBlockingEvent
		b.Label = category
		if label != "" {
			b.Label = category + ": " + label
		}
		busy = append(busy, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list busy blocks: %w", err)
	}

	availability.SortBusy(busy)
	return busy, nil
}

func activeStatuses() []string {
	statuses := appointment.ActiveStatuses()
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// InsertAppointment writes a new appointment row.
func (r *AppointmentRepository) InsertAppointment(ctx context.Context, a *appointment.Appointment) error {
	const stmt = `
INSERT INTO appointments (id, resource_id, service_ids, start_time, end_time, duration_minutes, status,
	customer_id, customer_name, notes, mirror_status, hold_expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`
	_, err := QuerierFrom(ctx, r.db).Exec(ctx, stmt,
		a.ID, a.ResourceID, a.ServiceIDs, a.StartTime, a.EndTime(), a.DurationMinutes, string(a.Status),
		a.CustomerID, a.CustomerName, a.Notes, string(a.MirrorStatus), a.HoldExpiresAt, a.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrResourceNotFound
		}
		return fmt.Errorf("postgres: insert appointment: %w", err)
	}
	return nil
}

// GetAppointment loads an appointment by id.
func (r *AppointmentRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	a, err := scanAppointment(QuerierFrom(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("postgres: get appointment: %w", err)
	}
	return a, nil
}

// GetAppointmentForUpdate locks an appointment row for the current transaction.
func (r *AppointmentRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 FOR UPDATE`
	a, err := scanAppointment(QuerierFrom(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("postgres: lock appointment: %w", err)
	}
	return a, nil
}

// LockPendingForExpiry locks a PENDING appointment, skipping rows held by other transactions.
// ErrLocked means another writer owns the row or it is no longer pending.
func (r *AppointmentRepository) LockPendingForExpiry(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 AND status = 'pending' FOR UPDATE SKIP LOCKED`
	a, err := scanAppointment(QuerierFrom(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("postgres: lock pending appointment: %w", err)
	}
	return a, nil
}

// SaveStatus persists the status fields of a.
func (r *AppointmentRepository) SaveStatus(ctx context.Context, a *appointment.Appointment) error {
	const stmt = `
UPDATE appointments
SET status = $2, hold_expires_at = $3, cancelled_at = $4, cancellation_reason = $5, updated_at = $6
WHERE id = $1`
	tag, err := QuerierFrom(ctx, r.db).Exec(ctx, stmt,
		a.ID, string(a.Status), a.HoldExpiresAt, a.CancelledAt, a.CancellationReason, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// Reschedule moves an appointment to a new start time.
func (r *AppointmentRepository) Reschedule(ctx context.Context, a *appointment.Appointment) error {
	const stmt = `
UPDATE appointments
SET start_time = $2, end_time = $3, hold_expires_at = $4, updated_at = $5
WHERE id = $1`
	tag, err := QuerierFrom(ctx, r.db).Exec(ctx, stmt, a.ID, a.StartTime, a.EndTime(), a.HoldExpiresAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: reschedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// SetMirrorState records the outcome of a calendar mirror task.
// A nil externalID keeps the stored id.
func (r *AppointmentRepository) SetMirrorState(ctx context.Context, id uuid.UUID, externalID *string, status appointment.MirrorStatus) error {
	const stmt = `
UPDATE appointments
SET external_event_id = COALESCE($2, external_event_id), mirror_status = $3, updated_at = now()
WHERE id = $1`
	if _, err := QuerierFrom(ctx, r.db).Exec(ctx, stmt, id, externalID, string(status)); err != nil {
		return fmt.Errorf("postgres: set mirror state: %w", err)
	}
	return nil
}

// ListExpiredPending returns ids of PENDING appointments whose hold expired at or before now.
func (r *AppointmentRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	const query = `
SELECT id
FROM appointments
WHERE status = 'pending' AND hold_expires_at IS NOT NULL AND hold_expires_at <= $1
ORDER BY hold_expires_at
LIMIT $2`
	rows, err := QuerierFrom(ctx, r.db).Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired pending: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListMirrorBacklog returns appointments whose mirror copy is out of date and
// that were last touched before olderThan.
func (r *AppointmentRepository) ListMirrorBacklog(ctx context.Context, olderThan time.Time, limit int) ([]appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
FROM appointments
WHERE updated_at < $1
  AND (
    (mirror_status IN ('pending', 'failed') AND status IN ('pending', 'confirmed'))
    OR (status IN ('cancelled', 'expired') AND external_event_id IS NOT NULL AND mirror_status <> 'deleted')
  )
ORDER BY updated_at
LIMIT $2`
	rows, err := QuerierFrom(ctx, r.db).Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mirror backlog: %w", err)
	}
	defer rows.Close()

	var out []appointment.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mirror backlog: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// InsertBlock writes a blocking event.
func (r *AppointmentRepository) InsertBlock(ctx context.Context, b *appointment.BlockingEvent) error {
	const stmt = `
INSERT INTO blocking_events (id, resource_id, start_time, end_time, category, label, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := QuerierFrom(ctx, r.db).Exec(ctx, stmt, b.ID, b.ResourceID, b.StartTime, b.EndTime, string(b.Category), b.Label, b.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrResourceNotFound
		}
		return fmt.Errorf("postgres: insert block: %w", err)
	}
	return nil
}

// DeleteBlock removes a blocking event and returns the deleted row.
func (r *AppointmentRepository) DeleteBlock(ctx context.Context, resourceID, blockID uuid.UUID) (*appointment.BlockingEvent, error) {
	const stmt = `
DELETE FROM blocking_events
WHERE id = $1 AND resource_id = $2
RETURNING id, resource_id, start_time, end_time, category, label, external_event_id, created_at`
	var (
		b        appointment.BlockingEvent
		category string
	)
	err := QuerierFrom(ctx, r.db).QueryRow(ctx, stmt, blockID, resourceID).
		Scan(&b.ID, &b.ResourceID, &b.StartTime, &b.EndTime, &category, &b.Label, &b.ExternalEventID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, fmt.Errorf("postgres: delete block: %w", err)
	}
	b.Category = appointment.BlockCategory(category)
	return &b, nil
}

// SetBlockExternalID records the mirror event id of a blocking event.
func (r *AppointmentRepository) SetBlockExternalID(ctx context.Context, blockID uuid.UUID, externalID string) error {
	const stmt = `UPDATE blocking_events SET external_event_id = $2 WHERE id = $1`
	if _, err := QuerierFrom(ctx, r.db).Exec(ctx, stmt, blockID, externalID); err != nil {
		return fmt.Errorf("postgres: set block external id: %w", err)
	}
	return nil
}
