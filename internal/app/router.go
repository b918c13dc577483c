package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/larder-scm/larder-scm/internal/auth"
	"github.com/larder-scm/larder-scm/internal/catalog"
	"github.com/larder-scm/larder-scm/internal/consumption"
	"github.com/larder-scm/larder-scm/internal/itemrequests"
	"github.com/larder-scm/larder-scm/internal/requests"
	"github.com/larder-scm/larder-scm/internal/shared"
	"github.com/larder-scm/larder-scm/internal/stock"
	"github.com/larder-scm/larder-scm/internal/supplierorders"
	"github.com/larder-scm/larder-scm/internal/users"
	"github.com/larder-scm/larder-scm/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	AuthService *auth.Service

	AuthHandler          *auth.Handler
	CatalogHandler       *catalog.Handler
	StockHandler         *stock.Handler
	RequestsHandler      *requests.Handler
	SupplierOrderHandler *supplierorders.Handler
	ItemRequestHandler   *itemrequests.Handler
	ConsumptionHandler   *consumption.Handler
	UsersHandler         *users.Handler
	JobHandler           *jobs.Handler
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(auth.Middleware(params.AuthService, params.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Supplier portal. Reached through a tokenized link, no login.
	params.SupplierOrderHandler.MountPortalRoutes(r)

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireActor)

		params.CatalogHandler.MountRoutes(r)
		params.StockHandler.MountRoutes(r)
		params.RequestsHandler.MountRoutes(r)
		params.SupplierOrderHandler.MountRoutes(r)
		params.ItemRequestHandler.MountRoutes(r)
		params.ConsumptionHandler.MountRoutes(r)
		params.UsersHandler.MountRoutes(r)

		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
