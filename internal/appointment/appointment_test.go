package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusNoShow, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusExpired, false},
		{StatusConfirmed, StatusPending, false},
		{StatusExpired, StatusPending, false},
		{StatusExpired, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusNoShow, StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, StatusPending.IsActive())
	assert.True(t, StatusConfirmed.IsActive())
	assert.False(t, StatusExpired.IsActive())
	assert.True(t, StatusNoShow.IsTerminal())
	assert.False(t, Status("archived").IsValid())
	assert.False(t, Status("archived").IsTerminal())
	assert.ElementsMatch(t, []Status{StatusPending, StatusConfirmed}, ActiveStatuses())
}

func TestAppointmentWindow(t *testing.T) {
	start := time.Date(2025, 11, 4, 10, 0, 0, 0, time.UTC)
	a := Appointment{StartTime: start, DurationMinutes: 90}
	assert.Equal(t, start.Add(90*time.Minute), a.EndTime())
}

func TestHoldExpired(t *testing.T) {
	now := time.Date(2025, 11, 4, 10, 11, 0, 0, time.UTC)
	expiry := now.Add(-time.Minute)
	a := Appointment{Status: StatusPending, HoldExpiresAt: &expiry}
	assert.True(t, a.HoldExpired(now))

	a.Status = StatusConfirmed
	assert.False(t, a.HoldExpired(now))

	later := now.Add(time.Minute)
	b := Appointment{Status: StatusPending, HoldExpiresAt: &later}
	assert.False(t, b.HoldExpired(now))

	c := Appointment{Status: StatusPending}
	assert.False(t, c.HoldExpired(now))
}

func TestFailure(t *testing.T) {
	f := NewFailure(KindDateTooSoon, "reason", "too soon", "days_until", "2", "dangling")
	assert.Equal(t, "DATE_TOO_SOON: too soon", f.Error())
	assert.Equal(t, "2", f.Details["days_until"])
	assert.NotContains(t, f.Details, "dangling")

	var target *Failure
	assert.True(t, errors.As(error(f), &target))
	assert.True(t, target.Kind.UserCorrectable())
	assert.False(t, target.Kind.Retryable())
	assert.True(t, KindDatabaseError.Retryable())
	assert.Equal(t, "SLOT_TAKEN", NewFailure(KindSlotTaken).Error())
}
