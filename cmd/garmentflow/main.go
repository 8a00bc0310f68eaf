package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/garmentflow/garmentflow/cmd/garmentflow/cli"
	"github.com/garmentflow/garmentflow/internal/app"
	"github.com/garmentflow/garmentflow/internal/audit"
	audithttp "github.com/garmentflow/garmentflow/internal/audit/http"
	"github.com/garmentflow/garmentflow/internal/auth"
	"github.com/garmentflow/garmentflow/internal/catalog"
	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/observability"
	"github.com/garmentflow/garmentflow/internal/orders"
	"github.com/garmentflow/garmentflow/internal/platform/cache"
	"github.com/garmentflow/garmentflow/internal/platform/db"
	"github.com/garmentflow/garmentflow/internal/production"
	"github.com/garmentflow/garmentflow/internal/rbac"
	"github.com/garmentflow/garmentflow/internal/shared"
	"github.com/garmentflow/garmentflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logger.Error("init verifier", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	rbacMiddleware := rbac.Middleware{Logger: logger}

	var auditSink shared.AuditSink = shared.NewAuditLogger(pool)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	if cfg.AuditAsync {
		asynqClient := jobs.NewClient(redisOpts)
		defer func() {
			if err := asynqClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		auditSink = jobs.NewAuditEnqueuer(asynqClient)
	}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	ordersService := orders.NewService(orders.NewRepository(pool), auditSink, logger)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), logger,
		ledger.WithCache(cache.NewVersioned(redisClient, "vendor-balances", cfg.BalanceCacheTTL)),
		ledger.WithIdempotency(shared.NewIdempotencyStore(pool)),
		ledger.WithAudit(auditSink),
		ledger.WithMetrics(metrics),
	)

	productionService := production.NewService(production.NewRepository(pool), logger,
		production.WithLocker(cache.NewLocker(redisClient, cfg.OrderLockTTL)),
		production.WithBalanceCache(ledgerService),
		production.WithAudit(auditSink),
		production.WithMetrics(metrics),
	)

	auditService := audit.NewService(audit.NewRepository(pool))

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Verifier:          verifier,
		RBACMiddleware:    rbacMiddleware,
		OrdersHandler:     orders.NewHandler(logger, ordersService),
		ProductionHandler: production.NewHandler(logger, productionService),
		LedgerHandler:     ledger.NewHandler(logger, ledgerService, rbacMiddleware.RequireAdmin()),
		CatalogHandler:    catalog.NewHandler(logger, catalog.NewPGRegistry(pool), auditSink),
		AuditHandler:      audithttp.NewHandler(logger, auditService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.Bool("audit_async", cfg.AuditAsync))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runCommand(cfg *app.Config, args []string) error {
	switch args[0] {
	case "token":
		return cli.IssueToken(args[1:], cfg.JWTSecret, cfg.JWTIssuer, os.Stdout)
	case "jobs":
		return runJobs(args[1:], cfg.RedisAddr)
	default:
		return fmt.Errorf("unknown command %q (want token or jobs)", args[0])
	}
}

func runJobs(args []string, redisAddr string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: garmentflow jobs trigger <task> | jobs inspect <queue>")
	}
	jc := cli.NewJobsCLI(redisAddr)
	defer jc.Close()
	switch args[0] {
	case "trigger":
		info, err := jc.Trigger(context.Background(), args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "inspect":
		stats, err := jc.InspectQueue(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return fmt.Errorf("unknown jobs command %q", args[0])
	}
	return nil
}
