package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/taskops/policy-core/app"
	"github.com/taskops/policy-core/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.PropagateRequestID)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Decision endpoint, the hot path for task runners
		r.Post("/decision", deps.DecisionHandler.HandleDecide)

		// Execution telemetry ingest
		r.Post("/telemetry/executions", deps.TelemetryHandler.HandleExecutionReport)

		// Registry reads
		r.Route("/registry", func(r chi.Router) {
			r.Get("/rules", deps.RegistryHandler.HandleListRules)
			r.Get("/rules/get", deps.RegistryHandler.HandleGetRule)
			r.Get("/current", deps.RegistryHandler.HandleCurrent)
			r.Get("/revisions", deps.RegistryHandler.HandleListRevisions)
			r.Get("/candidates", deps.RegistryHandler.HandleCandidates)

			// Registry mutations require a service token
			r.Group(func(r chi.Router) {
				r.Use(deps.ServiceTokenMiddleware.RequireServiceToken)
				r.Post("/rules", deps.RegistryHandler.HandleUpsertRule)
				r.Post("/rules/delete", deps.RegistryHandler.HandleDeleteRule)
				r.Post("/publish", deps.RegistryHandler.HandlePublish)
				r.Post("/rollback", deps.RegistryHandler.HandleRollback)
			})
		})

		// Audit ledger reads
		r.Route("/audit", func(r chi.Router) {
			r.Get("/events", deps.AuditHandler.HandleListEvents)
			r.Get("/verify", deps.AuditHandler.HandleVerify)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
