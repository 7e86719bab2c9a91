package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/booking"
	"github.com/wolfman30/salon-ai-platform/internal/calendar"
	"github.com/wolfman30/salon-ai-platform/internal/events"
	"github.com/wolfman30/salon-ai-platform/internal/mirror"
	"github.com/wolfman30/salon-ai-platform/internal/salon"
	"github.com/wolfman30/salon-ai-platform/internal/storage/postgres"
	"github.com/wolfman30/salon-ai-platform/internal/testutil"
)

func TestPostgresConcurrentBookingsSameSlot(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	resourceID := testutil.InsertResource(t, pool, "ana")
	testutil.InsertService(t, pool, "cut", "hair", 60)
	testutil.InsertOpenWeek(t, pool, "09:00", "19:00")

	settings := salon.DefaultSettings()
	settings.Timezone = "UTC"
	provider := salon.StaticSettings(settings)

	repo := postgres.NewAppointmentRepository(pool, nil)
	syncer := mirror.NewSyncer(calendar.Noop{}, repo, mirror.Config{Workers: 1}, nil)
	syncer.Start(ctx)
	t.Cleanup(func() { _ = syncer.Stop(context.Background()) })

	now := time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := booking.NewService(repo, postgres.NewCatalogRepository(pool, provider), provider,
		events.NewOutboxStore(pool), syncer, nil).
		WithClock(func() time.Time { return now })

	start := time.Date(2030, 3, 5, 10, 0, 0, 0, time.UTC)
	const n = 8
	var wg sync.WaitGroup
	results := make([]booking.Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Book(ctx, booking.Request{
				ResourceID: resourceID,
				ServiceIDs: []string{"cut"},
				StartTime:  start.Add(time.Duration(i%2) * 30 * time.Minute),
				CustomerID: "c",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
			continue
		}
		assert.Equal(t, appointment.KindSlotTaken, r.Kind, "details=%v", r.Details)
	}
	assert.Equal(t, 1, succeeded)

	busy, err := repo.ListBusy(ctx, resourceID, start.Add(-time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, busy, 1)

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE type = $1`, events.TypeAppointmentBooked).Scan(&outboxRows))
	assert.Equal(t, 1, outboxRows)
}
