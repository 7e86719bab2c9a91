package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/salon-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/salon-ai-platform/internal/http/middleware"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Booking        *handlers.BookingHandler
	Health         http.Handler
	MetricsHandler http.Handler

	// ServiceJWTSecret protects /v1; an empty secret rejects every /v1 call.
	ServiceJWTSecret string
	// RateLimiter caps requests per calling service; nil disables limiting.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Ops endpoints
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Method(http.MethodGet, "/health", cfg.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Booking == nil {
		return r
	}

	// Booking API for the conversational layer and staff tooling
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpmiddleware.ServiceJWT(cfg.ServiceJWTSecret))
		if cfg.RateLimiter != nil {
			v1.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}

		v1.Post("/bookings", cfg.Booking.Book)

		v1.Route("/resources/{resourceID}", func(res chi.Router) {
			res.Get("/availability", cfg.Booking.Availability)
			res.Post("/blocks", cfg.Booking.CreateBlock)
			res.Delete("/blocks/{blockID}", cfg.Booking.DeleteBlock)
		})

		v1.Route("/appointments/{id}", func(appt chi.Router) {
			appt.Post("/cancel", cfg.Booking.Cancel)
			appt.Post("/reschedule", cfg.Booking.Reschedule)
			appt.Post("/confirm", cfg.Booking.Confirm)
			appt.Post("/complete", cfg.Booking.Complete)
			appt.Post("/no-show", cfg.Booking.NoShow)
		})
	})

	return r
}
