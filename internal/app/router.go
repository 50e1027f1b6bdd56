package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/innledger/innledger/internal/audit"
	"github.com/innledger/innledger/internal/auth"
	"github.com/innledger/innledger/internal/authz"
	"github.com/innledger/innledger/internal/fnb"
	"github.com/innledger/innledger/internal/observability"
	"github.com/innledger/innledger/internal/properties"
	"github.com/innledger/innledger/internal/shared"
	"github.com/innledger/innledger/internal/users"
	"github.com/innledger/innledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AuthHandler       *auth.Handler
	AuthzHandler      *authz.Handler
	UsersHandler      *users.Handler
	PropertiesHandler *properties.Handler
	FnbHandler        *fnb.Handler
	AuditHandler      *audit.Handler
	JobHandler        *jobs.Handler

	Authorize authz.Middleware
	Metrics   *observability.Metrics
}

// NewRouter constructs the chi.Router with Innledger defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	if params.AuthzHandler != nil {
		r.Route("/authz", func(r chi.Router) {
			r.Use(params.Authorize.RequireAny(authz.PermAccessManage, authz.PermPoliciesView))
			params.AuthzHandler.MountRoutes(r)
		})
	}
	if params.UsersHandler != nil {
		r.Route("/users", func(r chi.Router) {
			params.UsersHandler.MountRoutes(r, params.Authorize)
		})
	}
	if params.PropertiesHandler != nil {
		r.Route("/properties", func(r chi.Router) {
			params.PropertiesHandler.MountRoutes(r, params.Authorize)
		})
	}
	if params.FnbHandler != nil {
		r.Route("/properties/{propertyID}/fnb", func(r chi.Router) {
			params.FnbHandler.MountRoutes(r, params.Authorize)
		})
	}
	if params.AuditHandler != nil {
		r.Route("/audit", func(r chi.Router) {
			r.Use(params.Authorize.RequireAny(authz.PermAuditView))
			params.AuditHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
