package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

// BreakerConfig tunes the circuit breaker around a Mirror.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// BreakerMirror stops calling the remote calendar after consecutive failures.
type BreakerMirror struct {
	next Mirror
	cb   *gobreaker.CircuitBreaker[string]
}

// NewBreakerMirror wraps next with a circuit breaker.
func NewBreakerMirror(next Mirror, cfg BreakerConfig, logger *logging.Logger) *BreakerMirror {
	if next == nil {
		panic("calendar: mirror cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "calendar-mirror"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Rejections by the remote calendar are not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrPermanent)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("calendar: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerMirror{next: next, cb: cb}
}

// State reports the breaker state.
func (b *BreakerMirror) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerMirror) CreateEvent(ctx context.Context, ev Event) (string, error) {
	return b.cb.Execute(func() (string, error) {
		return b.next.CreateEvent(ctx, ev)
	})
}

func (b *BreakerMirror) UpdateEvent(ctx context.Context, calendarID, eventID string, ev Event) error {
	_, err := b.cb.Execute(func() (string, error) {
		return "", b.next.UpdateEvent(ctx, calendarID, eventID, ev)
	})
	return err
}

func (b *BreakerMirror) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	_, err := b.cb.Execute(func() (string, error) {
		return "", b.next.DeleteEvent(ctx, calendarID, eventID)
	})
	return err
}
