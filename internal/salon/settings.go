package salon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // zone data for slim containers

	"github.com/redis/go-redis/v9"
)

// Settings is the dynamic booking policy snapshot fed to validators.
type Settings struct {
	Timezone                  string `json:"timezone"`
	AdvanceNoticeDays         int    `json:"advance_notice_days"`
	CancellationWindowHours   int    `json:"cancellation_window_hours"`
	HoldTimeoutMinutes        int    `json:"hold_timeout_minutes"`
	SameDayHoldTimeoutMinutes int    `json:"same_day_hold_timeout_minutes"`
}

// DefaultSettings returns the built-in policy.
func DefaultSettings() Settings {
	return Settings{
		Timezone:                  "Europe/Madrid",
		AdvanceNoticeDays:         3,
		CancellationWindowHours:   24,
		HoldTimeoutMinutes:        30,
		SameDayHoldTimeoutMinutes: 10,
	}
}

// Location resolves the salon timezone, falling back to UTC.
func (s Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CancellationWindow returns the minimum notice for self-service cancellation.
func (s Settings) CancellationWindow() time.Duration {
	return time.Duration(s.CancellationWindowHours) * time.Hour
}

// HoldTimeout returns how long a PENDING booking for start stays provisional when made at now.
// Bookings for the same local day get the shorter same-day timeout.
func (s Settings) HoldTimeout(now, start time.Time) time.Duration {
	loc := s.Location()
	if now.In(loc).Format(time.DateOnly) == start.In(loc).Format(time.DateOnly) && s.SameDayHoldTimeoutMinutes > 0 {
		return time.Duration(s.SameDayHoldTimeoutMinutes) * time.Minute
	}
	return time.Duration(s.HoldTimeoutMinutes) * time.Minute
}

// Validate rejects snapshots that cannot drive the validators.
func (s Settings) Validate() error {
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("salon: invalid timezone %q: %w", s.Timezone, err)
	}
	if s.AdvanceNoticeDays < 0 {
		return errors.New("salon: advance notice days must not be negative")
	}
	if s.CancellationWindowHours < 0 {
		return errors.New("salon: cancellation window must not be negative")
	}
	if s.HoldTimeoutMinutes <= 0 {
		return errors.New("salon: hold timeout must be positive")
	}
	return nil
}

// SettingsProvider returns the current settings snapshot.
type SettingsProvider interface {
	Settings(ctx context.Context) (Settings, error)
}

const settingsKey = "salon:settings"

// Store persists settings in Redis.
type Store struct {
	redis    *redis.Client
	defaults Settings
}

// NewStore creates a settings store. Missing keys resolve to defaults.
func NewStore(redisClient *redis.Client, defaults Settings) *Store {
	return &Store{redis: redisClient, defaults: defaults}
}

// Get retrieves settings, returning defaults if none were saved.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	data, err := s.redis.Get(ctx, settingsKey).Bytes()
	if err == redis.Nil {
		return s.defaults, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("salon: get settings: %w", err)
	}

	cfg := s.defaults
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("salon: unmarshal settings: %w", err)
	}
	return cfg, nil
}

// Settings implements SettingsProvider.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	return s.Get(ctx)
}

// Set saves settings.
func (s *Store) Set(ctx context.Context, cfg Settings) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("salon: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, settingsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("salon: set settings: %w", err)
	}
	return nil
}

// SettingsCache is a read-through TTL cache over a SettingsProvider.
// It is advisory only: stale values can delay a policy change by at most one TTL.
type SettingsCache struct {
	source SettingsProvider
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	value    Settings
	loadedAt time.Time
	valid    bool
}

// NewSettingsCache wraps source with a TTL cache.
func NewSettingsCache(source SettingsProvider, ttl time.Duration) *SettingsCache {
	if source == nil {
		panic("salon: settings source cannot be nil")
	}
	return &SettingsCache{source: source, ttl: ttl, now: time.Now}
}

// WithClock overrides the cache clock.
func (c *SettingsCache) WithClock(now func() time.Time) *SettingsCache {
	if now != nil {
		c.now = now
	}
	return c
}

// Settings returns the cached snapshot, reloading it when the TTL elapsed.
func (c *SettingsCache) Settings(ctx context.Context) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.loadedAt) < c.ttl {
		return c.value, nil
	}
	cfg, err := c.source.Settings(ctx)
	if err != nil {
		if c.valid {
			return c.value, nil
		}
		return Settings{}, err
	}
	c.value = cfg
	c.loadedAt = c.now()
	c.valid = true
	return cfg, nil
}

// Invalidate drops the cached snapshot.
func (c *SettingsCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// StaticSettings is a fixed SettingsProvider.
type StaticSettings Settings

// Settings implements SettingsProvider.
func (s StaticSettings) Settings(context.Context) (Settings, error) {
	return Settings(s), nil
}
