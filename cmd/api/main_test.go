package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	httpmiddleware "github.com/wolfman30/salon-ai-platform/internal/http/middleware"
)

func TestSetupMetricsExposesMetrics(t *testing.T) {
	handler, bookingMetrics := setupMetrics()
	if handler == nil || bookingMetrics == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	bookingMetrics.ObserveBooking("slot_taken")
	bookingMetrics.ObserveSweep(2, 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"salon_booking_attempts_total", "salon_sweeper_expired_total", "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s to be exported", name)
		}
	}
}

func TestEvictIdleBucketsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		evictIdleBuckets(ctx, httpmiddleware.NewRateLimiter(1, 1))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evict loop did not stop")
	}
}
