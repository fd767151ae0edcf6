package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/auth"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/delegations"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/observability"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/httpx"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/returns"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	MedicinesHandler   *medicines.Handler
	DelegationsHandler *delegations.Handler
	SalesHandler       *sales.Handler
	ReturnsHandler     *returns.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults. Everything except
// /healthz, /metrics and /auth/login sits behind bearer authentication.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(params.AuthHandler.Authenticate)
		if params.MedicinesHandler != nil {
			r.Route("/medicines", params.MedicinesHandler.MountRoutes)
		}
		if params.DelegationsHandler != nil {
			r.Route("/delegations", params.DelegationsHandler.MountRoutes)
		}
		if params.SalesHandler != nil {
			r.Route("/sales", params.SalesHandler.MountRoutes)
		}
		if params.ReturnsHandler != nil {
			r.Route("/returns", params.ReturnsHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
