package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielreynoso/stockroom-backend/api/controllers"
	"github.com/danielreynoso/stockroom-backend/api/middleware"
	"github.com/danielreynoso/stockroom-backend/internal/authz"
	"github.com/danielreynoso/stockroom-backend/internal/idempotency"
	"github.com/danielreynoso/stockroom-backend/internal/movements"
	"github.com/danielreynoso/stockroom-backend/internal/stock"
	"github.com/danielreynoso/stockroom-backend/internal/transfers"
	"github.com/danielreynoso/stockroom-backend/pkg/config"
	dbpkg "github.com/danielreynoso/stockroom-backend/pkg/db"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
	pkgredis "github.com/danielreynoso/stockroom-backend/pkg/redis"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       dbpkg.Pinger
	Redis    pkgredis.Pinger
	Registry *prometheus.Registry

	Stock       stock.Service
	Transfers   transfers.Service
	Movements   movements.Service
	Idempotency *idempotency.Store
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.DB, deps.Redis, logg))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		idem := middleware.Idempotency(deps.Idempotency, logg)
		require := func(action authz.Action) func(http.Handler) http.Handler {
			return middleware.RequireAction(action, logg)
		}

		r.Route("/stock", func(r chi.Router) {
			r.With(require(authz.ActionStockAdjust), idem).
				Post("/adjust", controllers.StockAdjust(deps.Stock, logg))
			r.With(require(authz.ActionStockReserve), idem).
				Post("/reserve", controllers.StockReserve(deps.Stock, logg))
			r.With(require(authz.ActionStockReserve), idem).
				Post("/release", controllers.StockRelease(deps.Stock, logg))
			r.With(require(authz.ActionStockRead)).
				Get("/availability", controllers.StockAvailability(deps.Stock, logg))
			r.With(require(authz.ActionStockRead)).
				Get("/levels", controllers.StockLevels(deps.Stock, logg))
			r.With(require(authz.ActionStockRead)).
				Get("/movements", controllers.MovementList(deps.Movements, logg))
		})

		r.Route("/transfers", func(r chi.Router) {
			r.With(require(authz.ActionTransferCreate), idem).
				Post("/", controllers.TransferCreate(deps.Transfers, logg))
			r.With(require(authz.ActionTransferRead)).
				Get("/", controllers.TransferList(deps.Transfers, logg))
			r.With(require(authz.ActionTransferRead)).
				Get("/{transferID}", controllers.TransferGet(deps.Transfers, logg))
			r.With(require(authz.ActionTransferApprove), idem).
				Post("/{transferID}/approve", controllers.TransferApprove(deps.Transfers, logg))
			r.With(require(authz.ActionTransferPick), idem).
				Post("/{transferID}/pick", controllers.TransferPick(deps.Transfers, logg))
			r.With(require(authz.ActionTransferDispatch), idem).
				Post("/{transferID}/dispatch", controllers.TransferDispatch(deps.Transfers, logg))
			r.With(require(authz.ActionTransferReceive), idem).
				Post("/{transferID}/receive", controllers.TransferReceive(deps.Transfers, logg))
			r.With(require(authz.ActionTransferCancel), idem).
				Post("/{transferID}/cancel", controllers.TransferCancel(deps.Transfers, logg))
		})

		r.With(require(authz.ActionIdempotencyAdmin)).
			Delete("/idempotency-keys/{key}", controllers.IdempotencyForget(deps.Idempotency, logg))
	})

	return r
}
