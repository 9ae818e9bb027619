// Package api exposes import status, commit, rules and job endpoints over
// HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-importer/internal/api/handlers"
	"github.com/dvloznov/finance-importer/internal/api/middleware"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/pipeline"
	"github.com/dvloznov/finance-importer/internal/store"
)

// Deps are the components served by the router.
type Deps struct {
	Store     store.Store
	Lifecycle *pipeline.Lifecycle
	Jobs      jobs.JobStore
	Enqueuer  handlers.Enqueuer
	// AllowedOrigins lists CORS origins; empty allows any.
	AllowedOrigins []string
}

// NewRouter builds the HTTP handler with middleware applied.
func NewRouter(d Deps, log zerolog.Logger) http.Handler {
	imports := handlers.NewImportsHandler(d.Lifecycle, d.Store, d.Enqueuer)
	transactions := handlers.NewTransactionsHandler(d.Store)
	categories := handlers.NewCategoriesHandler(d.Store)
	jobsHandler := handlers.NewJobsHandler(d.Jobs, d.Enqueuer)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(d.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/imports", imports.CreateImport)
		r.Get("/imports/{id}", imports.GetImport)
		r.Post("/imports/{id}/commit", imports.CommitImport)

		r.Get("/transactions", transactions.ListTransactions)

		r.Get("/categories", categories.ListCategories)
		r.Post("/rules", categories.CreateRule)

		r.Get("/jobs", jobsHandler.ListJobs)
		r.Get("/jobs/{id}", jobsHandler.GetJob)
		r.Post("/maintenance/patterns", jobsHandler.TriggerMaintenance)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	return r
}
