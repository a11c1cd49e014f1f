package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumapay/luma_ledger/internal/config"
	"github.com/lumapay/luma_ledger/internal/engine"
	"github.com/lumapay/luma_ledger/internal/fraud"
	"github.com/lumapay/luma_ledger/internal/fx"
	"github.com/lumapay/luma_ledger/internal/idempotency"
	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/limits"
	"github.com/lumapay/luma_ledger/internal/metrics"
	"github.com/lumapay/luma_ledger/internal/reconcile"
	"github.com/lumapay/luma_ledger/internal/routes"
	"github.com/lumapay/luma_ledger/internal/saga"
)

// holdCurrency denominates the saga hold account. Coordinated transfers in
// other currencies go through the cross-border endpoint instead.
const holdCurrency = "USD"

// Server wraps the Fiber application, the domain services and the background
// reconciliation loop.
type Server struct {
	app        *fiber.App
	cfg        config.Config
	db         *pgxpool.Pool
	cache      *redis.Client
	reconciler *reconcile.Job
	cancel     context.CancelFunc
}

// New constructs the full service graph and delegates route wiring to
// routes.Setup. Without a database pool the ledger runs in memory; without a
// Redis client the idempotency mirror is disabled. Both fallbacks are for
// development only.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	var store ledger.Store
	if db != nil {
		store = ledger.NewPostgresStore(db)
	} else {
		store = ledger.NewMemoryStore()
	}

	recorder := metrics.NewInProcess()
	halt := reconcile.NewHalt()
	limitSvc := limits.New(cfg.DailyCountLimit, cfg.DailyAmountLimit, logger)
	eng := engine.New(store, limitSvc, halt, recorder, logger)
	reconciler := reconcile.NewJob(store, halt, recorder, logger)

	pipeline := fraud.NewPipeline(cfg.FraudBudget,
		fraud.NewSanctionListRule(),
		fraud.NewVelocityRule(20, time.Minute),
	)

	wallet, err := saga.NewLedgerWalletClient(context.Background(), eng, store, holdCurrency)
	if err != nil {
		return nil, err
	}
	coordinator := saga.NewCoordinator(wallet, fraud.NewVerifier(pipeline), saga.NewEngineLedgerClient(eng, store), logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	deps := routes.Deps{
		Cfg:        cfg,
		DB:         db,
		Cache:      cache,
		Logger:     logger,
		Store:      store,
		Engine:     eng,
		Halt:       halt,
		Reconciler: reconciler,
		Saga:       coordinator,
		FX:         fx.NewService(eng, store, fx.DefaultRates(), logger),
		Metrics:    recorder,
		Idem:       idempotency.NewCache(cache, cfg.IdempotencyTTL, logger),
	}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, db: db, cache: cache, reconciler: reconciler}, nil
}

// Listen starts the periodic reconciliation sweep and the HTTP server.
func (s *Server) Listen() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.reconciler.Start(ctx, s.cfg.ReconcileInterval)
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the reconciliation loop and gracefully drains the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.app.ShutdownWithContext(ctx)
}
