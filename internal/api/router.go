package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Service        AppointmentService
	HealthChecks   []HealthCheck
	JWTSecret      string
	RateLimitRPS   float64 // <= 0 disables rate limiting
	RateLimitBurst int
	Logger         zerolog.Logger
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.HealthChecks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{svc: cfg.Service, log: cfg.Logger}

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitRPS > 0 {
		limit = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))
		r.Use(NoStoreMiddleware)

		r.Route("/appointments", func(r chi.Router) {
			r.With(limit).Post("/", h.createAppointment)
			r.Get("/", h.listAppointments)
			r.Get("/upcoming", h.listUpcoming)
			r.Get("/summary", h.summary)
			r.Get("/{id}", h.getAppointment)
			r.With(limit).Post("/{id}/confirm", h.confirmAppointment)
			r.With(limit).Post("/{id}/cancel", h.cancelAppointment)
		})

		r.Get("/booking-options", h.bookingOptions)
		r.Get("/providers", h.listProviders)
		r.Get("/providers/specialties", h.listSpecialties)
	})

	return r
}
