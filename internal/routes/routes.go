package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumapay/luma_ledger/internal/config"
	"github.com/lumapay/luma_ledger/internal/engine"
	"github.com/lumapay/luma_ledger/internal/fx"
	"github.com/lumapay/luma_ledger/internal/idempotency"
	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/metrics"
	"github.com/lumapay/luma_ledger/internal/middleware"
	"github.com/lumapay/luma_ledger/internal/reconcile"
	"github.com/lumapay/luma_ledger/internal/saga"
)

// Deps aggregates the constructed services required to wire routes. The
// server package owns construction and lifecycle; this package only exposes
// them over HTTP.
type Deps struct {
	Cfg        config.Config
	DB         *pgxpool.Pool
	Cache      *redis.Client
	Logger     *slog.Logger
	Store      ledger.Store
	Engine     *engine.Engine
	Halt       *reconcile.Halt
	Reconciler *reconcile.Job
	Saga       *saga.Coordinator
	FX         *fx.Service
	Metrics    *metrics.InProcess
	Idem       *idempotency.Cache
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	RegisterHealthRoutes(app, d)

	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(d.Metrics.Snapshot())
	})

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.FromCtx(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAccountRoutes(api, d)
	RegisterTransactionRoutes(api, d)
	RegisterReconciliationRoutes(api, d)
	RegisterTransferRoutes(api, d)

	return nil
}
