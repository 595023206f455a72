// internal/api/server.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "entrascope/pkg/middleware"
)

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(mw.RequestID())
	r.Use(mw.Recover(a.log))
	r.Use(chimw.RealIP, chimw.Logger)
	r.Use(mw.Tracing(a.cfg))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(vr chi.Router) {
		vr.Post("/tenants", a.createTenant)
		vr.Get("/tenants/{id}", a.getTenant)
		vr.Post("/tenants/{id}/provision", a.provisionTenant)
		vr.Get("/tenants/{id}/permissions", a.getPermissions)
		vr.Put("/tenants/{id}/permissions", a.putPermissions)
		vr.Get("/consent/callback", a.consentCallback)
		vr.Post("/assessments", a.createAssessment)
		vr.Get("/assessments/{id}", a.getAssessment)
		vr.Get("/categories", a.getCategories)
	})

	return r
}
