package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	dashboardhttp "github.com/chai-vision/chai-vision/internal/dashboard/http"
	"github.com/chai-vision/chai-vision/internal/ingest"
	"github.com/chai-vision/chai-vision/internal/observability"
	"github.com/chai-vision/chai-vision/internal/platform/httpx"
	"github.com/chai-vision/chai-vision/internal/rbac"
	"github.com/chai-vision/chai-vision/internal/shared"
	"github.com/chai-vision/chai-vision/internal/targets"
	"github.com/chai-vision/chai-vision/jobs"
	"github.com/chai-vision/chai-vision/web"
)

// ReadinessCheck reports whether a backing dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	RBACMiddleware rbac.Middleware

	KPIHandler     *dashboardhttp.Handler
	UploadHandler  *ingest.Handler
	TargetsHandler *targets.Handler
	AccessHandler  *rbac.AccessHandler
	JobHandler     *jobs.Handler

	// Readiness maps dependency names to the checks run by /readyz.
	Readiness map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with Chai Vision defaults.
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
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(params.Logger, params.Readiness))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	guard := params.RBACMiddleware
	r.Route("/api", func(api chi.Router) {
		if params.AccessHandler != nil {
			api.Route("/access", params.AccessHandler.MountRoutes)
		}
		if params.KPIHandler != nil {
			api.With(guard.RequireAny(shared.PermDashboardView)).Route("/kpis", params.KPIHandler.MountRoutes)
		}
		if params.TargetsHandler != nil {
			api.With(guard.RequireAny(shared.PermDashboardView, shared.PermTargetsManage)).Route("/targets", params.TargetsHandler.MountRoutes)
		}
		if params.UploadHandler != nil {
			api.With(guard.RequireAny(shared.PermSalesUpload)).Route("/uploads", params.UploadHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
		return r
	}
	fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
	r.Handle("/static/*", staticCacheHandler(fileServer))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, staticFS, "index.html")
	})

	return r
}

func readinessHandler(logger *slog.Logger, checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(checks))
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				if logger != nil {
					logger.Warn("readiness check failed", slog.String("dependency", name), slog.Any("error", err))
				}
				out[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			out[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
