package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/salon-ai-platform/internal/config"
	"github.com/wolfman30/salon-ai-platform/internal/salon"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// ConnectPostgres opens and pings a pgx pool.
func ConnectPostgres(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// DefaultSettings turns the environment policy into a settings snapshot.
func DefaultSettings(cfg *appconfig.Config) salon.Settings {
	settings := salon.DefaultSettings()
	if cfg == nil {
		return settings
	}
	if tz := strings.TrimSpace(cfg.SalonTimezone); tz != "" {
		settings.Timezone = tz
	}
	if cfg.AdvanceNoticeDays >= 0 {
		settings.AdvanceNoticeDays = cfg.AdvanceNoticeDays
	}
	if cfg.CancellationWindow > 0 {
		settings.CancellationWindowHours = int(cfg.CancellationWindow.Hours())
	}
	if cfg.HoldTimeout > 0 {
		settings.HoldTimeoutMinutes = int(cfg.HoldTimeout.Minutes())
	}
	if cfg.SameDayHoldTimeout > 0 {
		settings.SameDayHoldTimeoutMinutes = int(cfg.SameDayHoldTimeout.Minutes())
	}
	return settings
}

// BuildSettingsProvider returns the Redis-backed policy behind a TTL cache, or the
// environment defaults when Redis is unavailable.
func BuildSettingsProvider(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) salon.SettingsProvider {
	if logger == nil {
		logger = logging.Default()
	}
	defaults := DefaultSettings(cfg)
	if redisClient == nil {
		logger.Warn("redis unavailable; using static booking settings", "timezone", defaults.Timezone)
		return salon.StaticSettings(defaults)
	}
	var ttl time.Duration
	if cfg != nil {
		ttl = cfg.SettingsCacheTTL
	}
	return salon.NewSettingsCache(salon.NewStore(redisClient, defaults), ttl)
}
