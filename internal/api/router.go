package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/metrics"
)

// RouterConfig wires the HTTP surface. Estimate, Limiter and Health may be nil.
type RouterConfig struct {
	Handler     *Handler
	Estimate    http.HandlerFunc
	Limiter     Limiter
	Health      http.Handler
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter builds the chi router for the public API.
func NewRouter(cfg RouterConfig) chi.Router {
	h := cfg.Handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "X-Idempotency-Replayed"},
		MaxAge:         300,
	}).Handler)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/businesses/{businessID}", func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.Limiter, cfg.Logger, "business", BusinessKeyFunc))

			r.Get("/availability", h.GetAvailability)
			r.Post("/bookings", h.CreateBooking)
			r.Get("/notifications", h.ListNotifications)
			r.Post("/scan", h.TriggerScan)
		})

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.Limiter, cfg.Logger, "ip", IPKeyFunc))

			r.Post("/notifications/{id}/dismiss", h.DismissNotification)
			r.Post("/notifications/{id}/snooze", h.SnoozeNotification)
			r.Post("/notifications/{id}/act", h.ActNotification)

			if cfg.Estimate != nil {
				r.Post("/vehicle-size/estimate", cfg.Estimate)
			}
		})
	})

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
	} else {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}

	r.Handle("/metrics", metrics.Handler())

	return r
}
