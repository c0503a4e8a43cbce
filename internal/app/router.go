package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-rbac/meridian/internal/assignment"
	"github.com/meridian-rbac/meridian/internal/directory"
	"github.com/meridian-rbac/meridian/internal/observability"
	"github.com/meridian-rbac/meridian/internal/policy"
	"github.com/meridian-rbac/meridian/internal/profile"
	"github.com/meridian-rbac/meridian/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Metrics           *observability.Metrics
	AssignmentHandler *assignment.Handler
	ProfileHandler    *profile.Handler
	DirectoryHandler  *directory.Handler
	PolicyHandler     *policy.Handler
	JobHandler        *jobs.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AssignmentHandler != nil {
		r.Route("/assignments", params.AssignmentHandler.MountRoutes)
	}
	if params.ProfileHandler != nil {
		r.Route("/profiles", params.ProfileHandler.MountRoutes)
	}
	if params.DirectoryHandler != nil {
		r.Route("/directory", params.DirectoryHandler.MountRoutes)
	}
	if params.PolicyHandler != nil {
		r.Route("/policies", params.PolicyHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
