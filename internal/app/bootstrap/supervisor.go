package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/salon-ai-platform/internal/calendar"
	appconfig "github.com/wolfman30/salon-ai-platform/internal/config"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

// BuildCalendarMirror returns the Google Calendar mirror behind a circuit breaker,
// or a no-op mirror when no credentials are configured.
func BuildCalendarMirror(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (calendar.Mirror, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if !cfg.MirrorEnabled() {
		logger.Info("calendar mirror disabled; no credentials configured")
		return calendar.Noop{}, nil
	}

	google, err := calendar.NewGoogleMirror(ctx, calendar.GoogleConfig{
		CredentialsFile: cfg.GoogleCredentialsFile,
		Endpoint:        cfg.GoogleCalendarEndpoint,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("calendar mirror enabled", "workers", cfg.MirrorWorkers)
	return calendar.NewBreakerMirror(google, calendar.BreakerConfig{Name: "google-calendar"}, logger), nil
}

// Loop is a background job that runs until its context is cancelled.
type Loop struct {
	Name string
	Run  func(ctx context.Context)
}

// Supervisor runs background loops and waits for them on shutdown.
type Supervisor struct {
	logger *logging.Logger
	loops  []Loop
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSupervisor creates a supervisor for the given loops. Loops with a nil Run are skipped.
func NewSupervisor(logger *logging.Logger, loops ...Loop) *Supervisor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Supervisor{logger: logger, loops: loops}
}

// Start launches every loop on a context derived from ctx.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, loop := range s.loops {
		if loop.Run == nil {
			continue
		}
		s.wg.Add(1)
		go func(l Loop) {
			defer s.wg.Done()
			s.logger.Info("background loop started", "loop", l.Name)
			l.Run(ctx)
			s.logger.Info("background loop stopped", "loop", l.Name)
		}(loop)
	}
}

// Stop cancels the loops and waits up to timeout for them to return.
func (s *Supervisor) Stop(timeout time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("bootstrap: background loops did not stop within %s", timeout)
	}
}
