package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "covidseir/internal/errors"
	"covidseir/internal/middleware"
)

// RouterConfig collects the handlers and cross-cutting middleware of the
// HTTP API. OTel, RateLimiter and Metrics are optional.
type RouterConfig struct {
	Health      *HealthHandler
	Simulations *SimulationHandler
	Jobs        *JobHandler
	WebSocket   http.Handler

	ErrorHandler *apperrors.ErrorHandler
	OTel         *middleware.OTelMiddleware
	RateLimiter  *middleware.RateLimiter
	CORS         middleware.CORSConfig
	Metrics      http.Handler
	Logger       *slog.Logger
}

// NewRouter builds the chi router.
// Middleware order: RequestID, RealIP, OTel, Logger, Recoverer, then the
// API-only security, CORS and rate limiting.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// The websocket route keeps to the minimal chain: the logger's writer
	// wrapper must not sit between the upgrader and the connection.
	if cfg.WebSocket != nil {
		r.Handle("/ws", cfg.WebSocket)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.OTel != nil {
			r.Use(cfg.OTel.Handler)
		}
		r.Use(middleware.StructuredLogger(cfg.Logger))
		r.Use(middleware.Recoverer(cfg.ErrorHandler))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.CORS(cfg.CORS))
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(middleware.ContentTypeValidator(cfg.ErrorHandler, "application/json"))

			if cfg.Health != nil {
				cfg.Health.Routes(r)
			}
			if cfg.Simulations != nil {
				cfg.Simulations.Routes(r)
			}
			if cfg.Jobs != nil {
				r.Mount("/jobs", cfg.Jobs.Routes())
			}
		})
	})

	r.NotFound(cfg.ErrorHandler.NotFound)
	r.MethodNotAllowed(cfg.ErrorHandler.MethodNotAllowed)
	return r
}
