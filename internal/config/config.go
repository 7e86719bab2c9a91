package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string
	DBMaxConns  int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Booking policy defaults. Values stored in Redis override these per deployment.
	SalonTimezone      string
	AdvanceNoticeDays  int
	CancellationWindow time.Duration
	HoldTimeout        time.Duration
	SameDayHoldTimeout time.Duration
	SettingsCacheTTL   time.Duration
	SlotInterval       time.Duration
	BookingTimeout     time.Duration

	// Expiration sweeper
	SweepInterval  time.Duration
	SweepBatchSize int

	// Calendar mirror sync
	MirrorWorkers           int
	MirrorQueueSize         int
	MirrorMaxAttempts       int
	MirrorBaseDelay         time.Duration
	MirrorCallTimeout       time.Duration
	MirrorInlineWait        time.Duration
	MirrorReconcileInterval time.Duration
	GoogleCredentialsFile   string
	GoogleCalendarEndpoint  string

	// Notification signals
	NotifyTransport    string
	KafkaBrokers       string
	KafkaTopic         string
	NotifyQueueURL     string
	OutboxPollInterval time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	ServiceJWTSecret string
	RateLimitRPS     float64
	RateLimitBurst   int

	OTelEnabled  bool
	OTelEndpoint string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvAsInt("DB_MAX_CONNS", 10),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SalonTimezone:      getEnv("SALON_TIMEZONE", "Europe/Madrid"),
		AdvanceNoticeDays:  getEnvAsInt("ADVANCE_NOTICE_DAYS", 3),
		CancellationWindow: getEnvAsDuration("CANCELLATION_WINDOW", 24*time.Hour),
		HoldTimeout:        getEnvAsDuration("HOLD_TIMEOUT", 30*time.Minute),
		SameDayHoldTimeout: getEnvAsDuration("SAME_DAY_HOLD_TIMEOUT", 10*time.Minute),
		SettingsCacheTTL:   getEnvAsDuration("SETTINGS_CACHE_TTL", 5*time.Minute),
		SlotInterval:       getEnvAsDuration("SLOT_INTERVAL", 15*time.Minute),
		BookingTimeout:     getEnvAsDuration("BOOKING_TIMEOUT", 5*time.Second),

		SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", time.Minute),
		SweepBatchSize: getEnvAsInt("SWEEP_BATCH_SIZE", 100),

		MirrorWorkers:           getEnvAsInt("MIRROR_WORKERS", 4),
		MirrorQueueSize:         getEnvAsInt("MIRROR_QUEUE_SIZE", 256),
		MirrorMaxAttempts:       getEnvAsInt("MIRROR_MAX_ATTEMPTS", 3),
		MirrorBaseDelay:         getEnvAsDuration("MIRROR_BASE_DELAY", 500*time.Millisecond),
		MirrorCallTimeout:       getEnvAsDuration("MIRROR_CALL_TIMEOUT", 10*time.Second),
		MirrorInlineWait:        getEnvAsDuration("MIRROR_INLINE_WAIT", 2*time.Second),
		MirrorReconcileInterval: getEnvAsDuration("MIRROR_RECONCILE_INTERVAL", 5*time.Minute),
		GoogleCredentialsFile:   getEnv("GOOGLE_CALENDAR_CREDENTIALS_FILE", ""),
		GoogleCalendarEndpoint:  getEnv("GOOGLE_CALENDAR_ENDPOINT", ""),

		NotifyTransport:    strings.ToLower(strings.TrimSpace(getEnv("NOTIFY_TRANSPORT", "log"))),
		KafkaBrokers:       getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "salon.appointments"),
		NotifyQueueURL:     getEnv("NOTIFY_QUEUE_URL", ""),
		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ServiceJWTSecret: getEnv("SERVICE_JWT_SECRET", ""),
		RateLimitRPS:     getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:   getEnvAsInt("RATE_LIMIT_BURST", 40),

		OTelEnabled:  getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// MirrorEnabled reports whether Google Calendar credentials are configured.
func (c *Config) MirrorEnabled() bool {
	return strings.TrimSpace(c.GoogleCredentialsFile) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
