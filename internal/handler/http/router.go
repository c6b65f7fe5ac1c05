package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/holdbay/stockhold/pkg/health"
	"github.com/holdbay/stockhold/pkg/middleware"
)

// NewRouter creates a chi router with all stockhold routes registered.
func NewRouter(
	engine ReservationEngine,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("stockhold"))
	r.Use(middleware.Tracing("stockhold"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	handler := NewReservationHandler(engine, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/reservations", func(r chi.Router) {
			r.Use(ContentTypeJSON)

			r.Post("/", handler.Reserve)
			r.Post("/extend", handler.Extend)
			r.Post("/commit", handler.Commit)
			r.Post("/release", handler.Release)
		})

		r.Get("/inventory/{sku}", handler.Snapshot)
		r.Get("/events", handler.Events)
	})

	return r
}
