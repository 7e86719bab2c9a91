package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/availability"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

func TestInTxCommits(t *testing.T) {
	mock := newMock(t)
	runner := NewTxRunner(mock, nil)

	mock.ExpectBeginTx(serializable)
	mock.ExpectExec("UPDATE appointments").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := runner.InTx(context.Background(), func(ctx context.Context) error {
		assert.True(t, InTransaction(ctx))
		_, err := QuerierFrom(ctx, mock).Exec(ctx, "UPDATE appointments SET notes = ''")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRetriesSerializationFailure(t *testing.T) {
	mock := newMock(t)
	runner := NewTxRunner(mock, nil)

	conflict := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	mock.ExpectBeginTx(serializable)
	mock.ExpectRollback()
	mock.ExpectBeginTx(serializable)
	mock.ExpectCommit()

	calls := 0
	err := runner.InTx(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return conflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxGivesUpAfterMaxAttempts(t *testing.T) {
	mock := newMock(t)
	runner := NewTxRunner(mock, nil).WithMaxAttempts(2)

	deadlock := &pgconn.PgError{Code: "40P01"}
	for i := 0; i < 2; i++ {
		mock.ExpectBeginTx(serializable)
		mock.ExpectRollback()
	}

	err := runner.InTx(context.Background(), func(context.Context) error { return deadlock })
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxDoesNotRetryOtherErrors(t *testing.T) {
	mock := newMock(t)
	runner := NewTxRunner(mock, nil)

	boom := errors.New("boom")
	mock.ExpectBeginTx(serializable)
	mock.ExpectRollback()

	calls := 0
	err := runner.InTx(context.Background(), func(context.Context) error { calls++; return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxJoinsOuterTransaction(t *testing.T) {
	mock := newMock(t)
	runner := NewTxRunner(mock, nil)

	mock.ExpectBeginTx(serializable)
	mock.ExpectCommit()

	err := runner.InTx(context.Background(), func(ctx context.Context) error {
		return runner.InTx(ctx, func(inner context.Context) error {
			assert.True(t, InTransaction(inner))
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorClassifiers(t *testing.T) {
	assert.True(t, IsExclusionViolation(&pgconn.PgError{Code: "23P01"}))
	assert.False(t, IsExclusionViolation(errors.New("x")))
	assert.True(t, IsRetryable(errors.Join(errors.New("commit"), &pgconn.PgError{Code: "40001"})))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
}

func TestLockResource(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	id := uuid.New()

	mock.ExpectQuery("FROM resources WHERE id = \\$1 FOR UPDATE").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "calendar_id", "active"}).AddRow(id, "Ana", "ana@salon", true))
	res, err := repo.LockResource(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", res.Name)

	mock.ExpectQuery("FOR UPDATE").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "calendar_id", "active"}).AddRow(id, "Ana", "", false))
	_, err = repo.LockResource(context.Background(), id)
	assert.ErrorIs(t, err, ErrResourceNotFound)

	mock.ExpectQuery("FOR UPDATE").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = repo.LockResource(context.Background(), id)
	assert.ErrorIs(t, err, ErrResourceNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBusyMergesAndSorts(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	resourceID := uuid.New()
	day := time.Date(2025, 11, 4, 0, 0, 0, 0, time.UTC)
	from, to := day.Add(9*time.Hour), day.Add(19*time.Hour)

	apptID := uuid.New()
	blockID := uuid.New()
	mock.ExpectQuery("FROM appointments").WithArgs(resourceID, from, to, uuid.Nil, []string{"pending", "confirmed"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_time", "end_time", "status"}).
			AddRow(apptID, day.Add(14*time.Hour), day.Add(15*time.Hour), "confirmed"))
	mock.ExpectQuery("FROM blocking_events").WithArgs(resourceID, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_time", "end_time", "category", "label"}).
			AddRow(blockID, day.Add(13*time.Hour), day.Add(14*time.Hour), "break", "lunch"))

	busy, err := repo.ListBusy(context.Background(), resourceID, from, to)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.Equal(t, availability.BusyBlockingEvent, busy[0].Kind)
	assert.Equal(t, "break: lunch", busy[0].Label)
	assert.Equal(t, availability.BusyAppointment, busy[1].Kind)
	assert.Equal(t, apptID, busy[1].RefID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAppointmentMapsForeignKey(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	now := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	expiry := now.Add(30 * time.Minute)
	a := &appointment.Appointment{
		ID: uuid.New(), ResourceID: uuid.New(), ServiceIDs: []string{"cut"},
		StartTime: now.AddDate(0, 0, 3), DurationMinutes: 45, Status: appointment.StatusPending,
		CustomerID: "cust-1", MirrorStatus: appointment.MirrorPending, HoldExpiresAt: &expiry, CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(a.ID, a.ResourceID, a.ServiceIDs, a.StartTime, a.EndTime(), 45, "pending",
			"cust-1", "", "", "pending", a.HoldExpiresAt, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.InsertAppointment(context.Background(), a))

	mock.ExpectExec("INSERT INTO appointments").WillReturnError(&pgconn.PgError{Code: "23503"})
	assert.ErrorIs(t, repo.InsertAppointment(context.Background(), a), ErrResourceNotFound)

	mock.ExpectExec("INSERT INTO appointments").WillReturnError(&pgconn.PgError{Code: "23P01"})
	err := repo.InsertAppointment(context.Background(), a)
	assert.True(t, IsExclusionViolation(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func appointmentRow(a appointment.Appointment) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "resource_id", "service_ids", "start_time", "duration_minutes", "status",
		"customer_id", "customer_name", "notes", "external_event_id", "mirror_status", "hold_expires_at",
		"cancellation_reason", "created_at", "updated_at", "cancelled_at",
	}).AddRow(
		a.ID, a.ResourceID, a.ServiceIDs, a.StartTime, a.DurationMinutes, string(a.Status),
		a.CustomerID, a.CustomerName, a.Notes, a.ExternalEventID, string(a.MirrorStatus), a.HoldExpiresAt,
		a.CancellationReason, a.CreatedAt, a.UpdatedAt, a.CancelledAt,
	)
}

func TestGetAppointmentForUpdate(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	now := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	want := appointment.Appointment{
		ID: uuid.New(), ResourceID: uuid.New(), ServiceIDs: []string{"cut", "color"},
		StartTime: now, DurationMinutes: 90, Status: appointment.StatusConfirmed,
		CustomerID: "c", MirrorStatus: appointment.MirrorSynced, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").WithArgs(want.ID).WillReturnRows(appointmentRow(want))
	got, err := repo.GetAppointmentForUpdate(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)
	assert.Equal(t, []string{"cut", "color"}, got.ServiceIDs)
	assert.Equal(t, now.Add(90*time.Minute), got.EndTime())

	mock.ExpectQuery("FOR UPDATE").WithArgs(want.ID).WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetAppointmentForUpdate(context.Background(), want.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockPendingForExpirySkipsLockedRows(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	id := uuid.New()

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err := repo.LockPendingForExpiry(context.Background(), id)
	assert.ErrorIs(t, err, ErrLocked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveStatus(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	now := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	a := &appointment.Appointment{ID: uuid.New(), Status: appointment.StatusCancelled, CancelledAt: &now, CancellationReason: "sick", UpdatedAt: now}

	mock.ExpectExec("UPDATE appointments").
		WithArgs(a.ID, "cancelled", a.HoldExpiresAt, a.CancelledAt, "sick", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.SaveStatus(context.Background(), a))

	mock.ExpectExec("UPDATE appointments").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.SaveStatus(context.Background(), a), ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpiredPending(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	now := time.Date(2025, 11, 1, 10, 11, 0, 0, time.UTC)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery("hold_expires_at <= \\$1").WithArgs(now, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(a).AddRow(b))
	ids, err := repo.ListExpiredPending(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetMirrorState(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	id := uuid.New()
	ext := "evt-1"

	mock.ExpectExec("SET external_event_id = COALESCE").WithArgs(id, &ext, "synced").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.SetMirrorState(context.Background(), id, &ext, appointment.MirrorSynced))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBlock(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock, nil)
	resourceID, blockID := uuid.New(), uuid.New()
	start := time.Date(2025, 11, 4, 13, 0, 0, 0, time.UTC)
	ext := "evt-9"

	mock.ExpectQuery("DELETE FROM blocking_events").WithArgs(blockID, resourceID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "resource_id", "start_time", "end_time", "category", "label", "external_event_id", "created_at"}).
			AddRow(blockID, resourceID, start, start.Add(time.Hour), "break", "lunch", &ext, start))
	b, err := repo.DeleteBlock(context.Background(), resourceID, blockID)
	require.NoError(t, err)
	assert.Equal(t, appointment.BlockBreak, b.Category)
	require.NotNil(t, b.ExternalEventID)
	assert.Equal(t, "evt-9", *b.ExternalEventID)

	mock.ExpectQuery("DELETE FROM blocking_events").WithArgs(blockID, resourceID).WillReturnError(pgx.ErrNoRows)
	_, err = repo.DeleteBlock(context.Background(), resourceID, blockID)
	assert.ErrorIs(t, err, ErrBlockNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
