// routes.go — маршруты Cold Storage.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/cold-storage/internal/api/middleware"
)

// Routes регистрирует health, metrics и /api/v1 на роутере.
// auth nil — /api/v1 без аутентификации (только для локальной разработки).
func Routes(r chi.Router, api *APIHandler, maintenance *MaintenanceHandler, health *HealthHandler, auth func(http.Handler) http.Handler) {
	r.Get("/health/live", health.HealthLive)
	r.Get("/health/ready", health.HealthReady)
	r.Get("/metrics", health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}

		r.Route("/records", func(r chi.Router) {
			r.With(scope(auth, middleware.ScopeRecordsWrite)).Post("/", api.CreateRecord)
			r.With(scope(auth, middleware.ScopeRecordsRead, middleware.ScopeRecordsWrite)).Get("/", api.ListRecords)
			r.With(scope(auth, middleware.ScopeRecordsRead, middleware.ScopeRecordsWrite)).Get("/{id}", api.GetRecord)
			r.With(scope(auth, middleware.ScopeRecordsRead, middleware.ScopeRecordsWrite)).Get("/{id}/content/{field}", api.GetContent)
			r.With(scope(auth, middleware.ScopeRecordsWrite)).Post("/{id}/cold-storage", api.MoveToCold)
			r.With(scope(auth, middleware.ScopeRecordsWrite)).Post("/{id}/retrieval", api.RequestRetrieval)
		})

		r.Route("/maintenance", func(r chi.Router) {
			r.Use(scope(auth, middleware.ScopeColdStorageAdmin))
			r.Post("/reconcile", maintenance.Reconcile)
			r.Post("/cold-sweep", maintenance.ColdSweep)
		})
	})
}

// scope проверяет scopes только когда включена аутентификация.
func scope(auth func(http.Handler) http.Handler, scopes ...string) func(http.Handler) http.Handler {
	if auth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RequireScope(scopes...)
}
