package salon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStoreReturnsDefaultsWhenMissing(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewStore(client, DefaultSettings())

	got, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)
}

func TestStoreRoundTrip(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewStore(client, DefaultSettings())

	cfg := DefaultSettings()
	cfg.AdvanceNoticeDays = 5
	cfg.Timezone = "America/New_York"
	require.NoError(t, store.Set(context.Background(), cfg))
	assert.True(t, mr.Exists(settingsKey))

	got, err := store.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, got.AdvanceNoticeDays)
	assert.Equal(t, "America/New_York", got.Location().String())
}

func TestStorePartialDocumentKeepsDefaults(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set(settingsKey, `{"advance_notice_days":1}`))

	got, err := NewStore(client, DefaultSettings()).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.AdvanceNoticeDays)
	assert.Equal(t, 24, got.CancellationWindowHours)
}

func TestStoreRejectsInvalidSettings(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewStore(client, DefaultSettings())

	cfg := DefaultSettings()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, store.Set(context.Background(), cfg))

	cfg = DefaultSettings()
	cfg.HoldTimeoutMinutes = 0
	assert.Error(t, store.Set(context.Background(), cfg))
}

func TestStoreCorruptDocument(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set(settingsKey, "{not json"))

	_, err := NewStore(client, DefaultSettings()).Get(context.Background())
	assert.Error(t, err)
}

func TestHoldTimeout(t *testing.T) {
	s := DefaultSettings()
	loc := s.Location()
	now := time.Date(2025, 11, 4, 9, 0, 0, 0, loc)

	assert.Equal(t, 10*time.Minute, s.HoldTimeout(now, now.Add(3*time.Hour)))
	assert.Equal(t, 30*time.Minute, s.HoldTimeout(now, now.Add(72*time.Hour)))

	s.SameDayHoldTimeoutMinutes = 0
	assert.Equal(t, 30*time.Minute, s.HoldTimeout(now, now.Add(time.Hour)))
	assert.Equal(t, 24*time.Hour, DefaultSettings().CancellationWindow())
}

func TestLocationFallback(t *testing.T) {
	assert.Equal(t, time.UTC, Settings{}.Location())
	assert.Equal(t, time.UTC, Settings{Timezone: "Nowhere/Special"}.Location())
}

type countingProvider struct {
	calls int
	value Settings
	err   error
}

func (p *countingProvider) Settings(context.Context) (Settings, error) {
	p.calls++
	if p.err != nil {
		return Settings{}, p.err
	}
	return p.value, nil
}

func TestSettingsCacheTTL(t *testing.T) {
	now := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	src := &countingProvider{value: DefaultSettings()}
	cache := NewSettingsCache(src, 5*time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := cache.Settings(ctx)
	require.NoError(t, err)
	_, err = cache.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	now = now.Add(6 * time.Minute)
	_, err = cache.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	cache.Invalidate()
	src.value.AdvanceNoticeDays = 7
	got, err := cache.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 7, got.AdvanceNoticeDays)
}

func TestSettingsCacheServesStaleOnError(t *testing.T) {
	now := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	src := &countingProvider{value: DefaultSettings()}
	cache := NewSettingsCache(src, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := cache.Settings(ctx)
	require.NoError(t, err)

	src.err = errors.New("redis down")
	now = now.Add(2 * time.Minute)
	got, err := cache.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)

	cache.Invalidate()
	_, err = cache.Settings(ctx)
	assert.Error(t, err)
}

func TestStaticSettings(t *testing.T) {
	got, err := StaticSettings(DefaultSettings()).Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got.AdvanceNoticeDays)
}
