package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/salon-ai-platform/internal/availability"
	"github.com/wolfman30/salon-ai-platform/internal/booking"
	"github.com/wolfman30/salon-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/salon-ai-platform/internal/http/middleware"
	"github.com/wolfman30/salon-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

const testSecret = "router-secret"

type noopBooking struct{}

func (noopBooking) Book(context.Context, booking.Request) booking.Result { return booking.Result{} }
func (noopBooking) Cancel(context.Context, booking.CancelRequest) booking.CancellationResult {
	return booking.CancellationResult{}
}
func (noopBooking) Reschedule(context.Context, booking.RescheduleRequest) booking.Result {
	return booking.Result{}
}
func (noopBooking) Confirm(context.Context, uuid.UUID) booking.Result    { return booking.Result{} }
func (noopBooking) Complete(context.Context, uuid.UUID) booking.Result   { return booking.Result{} }
func (noopBooking) MarkNoShow(context.Context, uuid.UUID) booking.Result { return booking.Result{} }
func (noopBooking) CreateBlock(context.Context, booking.BlockRequest) booking.BlockResult {
	return booking.BlockResult{}
}
func (noopBooking) DeleteBlock(context.Context, uuid.UUID, uuid.UUID) booking.BlockResult {
	return booking.BlockResult{}
}

type emptyAvailability struct{}

func (emptyAvailability) CheckAvailability(context.Context, uuid.UUID, time.Time, int) ([]availability.Slot, error) {
	return []availability.Slot{}, nil
}

func newTestRouter(t *testing.T, limiter *httpmiddleware.RateLimiter) http.Handler {
	t.Helper()

	logger := logging.Default()
	reg := prometheus.NewRegistry()
	metrics.NewBookingMetrics(reg).ObserveBooking("success")

	cfg := &Config{
		Logger:           logger,
		Booking:          handlers.NewBookingHandler(handlers.BookingHandlerConfig{Service: noopBooking{}, Availability: emptyAvailability{}, Logger: logger}),
		Health:           handlers.NewHealthHandler(logger),
		MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ServiceJWTSecret: testSecret,
		RateLimiter:      limiter,
	}
	return New(cfg)
}

func bearer(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "conversation-worker",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", resp["status"])
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "salon_booking_attempts_total") {
		t.Fatalf("expected booking metrics in output")
	}
}

func TestRouterRequiresServiceToken(t *testing.T) {
	router := newTestRouter(t, nil)
	path := "/v1/resources/" + uuid.NewString() + "/availability?date=2025-11-04&duration=60"

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without token, got %d", http.StatusUnauthorized, rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", bearer(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d with token, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected request id header")
	}
}

func TestRouterRateLimitsCaller(t *testing.T) {
	router := newTestRouter(t, httpmiddleware.NewRateLimiter(0, 1))
	path := "/v1/resources/" + uuid.NewString() + "/availability?date=2025-11-04&duration=60"

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", bearer(t))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 429], got %v", codes)
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/appointments/"+uuid.NewString()+"/teleport", nil)
	req.Header.Set("Authorization", bearer(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}
