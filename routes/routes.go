package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/promptcraft/promptcraft-hybrid/app"
	"github.com/promptcraft/promptcraft-hybrid/middleware"
	"github.com/promptcraft/promptcraft-hybrid/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.Metrics(deps.Metrics))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Exported-Count", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	timeout := chimw.Timeout(cfg.Server.RequestTimeout)
	r.Group(func(r chi.Router) {
		r.Use(timeout)
		r.Get("/health", deps.HealthHandler.HandleHealth)
		r.Get("/health/ready", deps.HealthHandler.HandleReadiness)
		r.Get("/health/config", deps.HealthHandler.HandleConfigHealth)
	})

	if cfg.Observability.MetricsEnabled {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.With(timeout).Get("/status", deps.HealthHandler.HandleStatus)

		// Security operations (require admin role)
		r.Route("/security", func(r chi.Router) {
			r.Use(middleware.RateLimit(deps.RateLimiter, deps.SecurityLogger, deps.Logger))
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Use(deps.AuthMiddleware.RequireRole(cfg.Security.AdminRole))

			// Long-lived websocket connection, no request deadline
			r.Get("/events/stream", deps.SecurityHandler.HandleStream)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				h := deps.SecurityHandler

				r.Get("/dashboard", h.HandleDashboard)
				r.Get("/events", h.HandleSearchEvents)
				r.Post("/events", h.HandleIngestEvent)
				r.Get("/events/export", h.HandleExportEvents)
				r.Get("/events/{id}", h.HandleGetEvent)
				r.Get("/alerts", h.HandleListAlerts)
				r.Post("/alerts/{id}/acknowledge", h.HandleAcknowledgeAlert)
				r.Get("/users/{id}/risk", h.HandleRiskProfile)
				r.Post("/users/{id}/unlock", h.HandleUnlockUser)
				r.Get("/suspicious-activity", h.HandleSuspiciousActivity)
				r.Post("/retention/purge", h.HandlePurge)
			})
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
