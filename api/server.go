/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/auth/*       Login, registration, recovery (mostly public)
  /api/meters/*     Meters, links, readings, per-meter statistics
  /api/readings/*   Reading corrections and deletions
  /api/tariffs      Active schedule (PUT is admin, enforced in service)
  /api/dashboard    Per-user overview
  /api/admin/*      Global statistics and user administration
  /metrics          Prometheus scrape endpoint
  /healthz          Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Auth routes; login, register and recover are the only
		// endpoints reachable without a session.
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/register", h.Register)
			r.Post("/recover", h.Recover)

			r.Group(func(r chi.Router) {
				r.Use(h.RequireSession)
				r.Post("/logout", h.Logout)
				r.Get("/me", h.Me)
				r.Put("/password", h.ChangePassword)
			})
		})

		// Everything below requires a live session.
		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)

			// Meter routes
			r.Route("/meters", func(r chi.Router) {
				r.Get("/", h.ListMeters)
				r.Post("/", h.CreateMeter)
				r.Get("/{id}", h.GetMeter)
				r.Put("/{id}", h.UpdateMeter)
				r.Delete("/{id}", h.DeleteMeter)

				r.Get("/{id}/links", h.ListLinks)
				r.Post("/{id}/links", h.CreateLink)
				r.Delete("/{id}/links/{userID}", h.DeleteLink)

				r.Get("/{id}/readings", h.ListReadings)
				r.Post("/{id}/readings", h.CreateReading)
				r.Post("/{id}/readings/preview", h.PreviewReading)

				r.Get("/{id}/summary", h.GetSummary)
				r.Get("/{id}/chart", h.GetChart)
				r.Get("/{id}/comparison", h.GetComparison)
			})

			// Reading routes
			r.Route("/readings", func(r chi.Router) {
				r.Put("/{id}", h.UpdateReading)
				r.Delete("/{id}", h.DeleteReading)
			})

			// Tariff routes
			r.Route("/tariffs", func(r chi.Router) {
				r.Get("/", h.ListTariffs)
				r.Put("/", h.ReplaceTariffs)
			})

			// Dashboard
			r.Get("/dashboard", h.GetDashboard)

			// Admin routes
			r.Route("/admin", func(r chi.Router) {
				r.Get("/stats", h.GetStats)
				r.Get("/users", h.ListUsers)
				r.Post("/users/{id}/deactivate", h.DeactivateUser)
			})
		})
	})

	// Operational endpoints
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
