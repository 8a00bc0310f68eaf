package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/garmentflow/garmentflow/internal/audit/http"
	"github.com/garmentflow/garmentflow/internal/auth"
	"github.com/garmentflow/garmentflow/internal/catalog"
	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/observability"
	"github.com/garmentflow/garmentflow/internal/orders"
	"github.com/garmentflow/garmentflow/internal/production"
	"github.com/garmentflow/garmentflow/internal/rbac"
	"github.com/garmentflow/garmentflow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Verifier          *auth.Verifier
	RBACMiddleware    rbac.Middleware
	OrdersHandler     *orders.Handler
	ProductionHandler *production.Handler
	LedgerHandler     *ledger.Handler
	CatalogHandler    *catalog.Handler
	AuditHandler      *audithttp.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with garmentflow defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(params.Verifier, params.Logger))

		if params.OrdersHandler != nil {
			r.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.ProductionHandler != nil {
			params.ProductionHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			r.Route("/vendor-balances", params.LedgerHandler.MountRoutes)
		}
		if params.CatalogHandler != nil {
			r.Route("/vendors", params.CatalogHandler.MountRoutes)
		}
		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireAdmin())
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
