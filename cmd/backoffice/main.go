package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fleetmaint/backoffice/internal/app"
	"github.com/fleetmaint/backoffice/internal/audit"
	"github.com/fleetmaint/backoffice/internal/evidence"
	"github.com/fleetmaint/backoffice/internal/finance"
	"github.com/fleetmaint/backoffice/internal/inventory"
	"github.com/fleetmaint/backoffice/internal/notify"
	"github.com/fleetmaint/backoffice/internal/numbering"
	"github.com/fleetmaint/backoffice/internal/observability"
	"github.com/fleetmaint/backoffice/internal/overview"
	"github.com/fleetmaint/backoffice/internal/platform/cache"
	"github.com/fleetmaint/backoffice/internal/platform/db"
	"github.com/fleetmaint/backoffice/internal/procurement"
	"github.com/fleetmaint/backoffice/internal/shared"
	"github.com/fleetmaint/backoffice/internal/usedparts"
	"github.com/fleetmaint/backoffice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "backoffice")

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	txManager := db.NewTxManager(dbpool)
	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(txManager)
	idempotencyStore := shared.NewIdempotencyStore(txManager)

	inventoryRepo := inventory.NewRepository(txManager)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, metrics)

	usedPartsRepo := usedparts.NewRepository(txManager)
	usedPartsService := usedparts.NewService(usedPartsRepo, inventoryService, auditLogger, usedparts.ServiceConfig{
		DefaultBulkItemID: cfg.UsedPartsBulkItemID,
	})

	procurementRepo := procurement.NewRepository(txManager)
	var numbers numbering.Allocator = numbering.NewPostgresAllocator(txManager, procurementRepo.SeedSequence)
	if cfg.NumberingBackend == app.NumberingRedis {
		numbers = numbering.NewRedisAllocator(redisClient, procurementRepo.SeedSequence)
	}

	var notifier procurement.Notifier = notify.NewLogDispatcher(logger)
	if cfg.NotifyQueueEnabled {
		queueClient := asynq.NewClient(cfg.AsynqRedis())
		defer func() {
			if err := queueClient.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		notifier = notify.NewQueueDispatcher(queueClient, logger)
	}

	procurementService := procurement.NewService(procurement.ServiceDeps{
		Repo:        procurementRepo,
		Inventory:   inventoryService,
		Numbers:     numbers,
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Notifier:    notifier,
		Metrics:     metrics,
		Logger:      logger,
	}, procurement.ServiceConfig{
		DefaultTax: finance.TaxConfig{
			VATEnabled: true,
			VATRate:    cfg.TaxVATRate,
			WHTRate:    cfg.TaxWHTRate,
		},
	})

	var uploader procurement.Uploader
	evidenceStore, err := evidence.New(evidence.Config{
		Endpoint:  cfg.EvidenceEndpoint,
		AccessKey: cfg.EvidenceAccessKey,
		SecretKey: cfg.EvidenceSecretKey,
		Bucket:    cfg.EvidenceBucket,
		UseSSL:    cfg.EvidenceUseSSL,
		PublicURL: cfg.EvidencePublicURL,
	})
	if err != nil {
		logger.Warn("evidence store disabled", slog.Any("error", err))
	} else {
		if err := evidenceStore.EnsureBucket(ctx); err != nil {
			logger.Warn("evidence bucket", slog.Any("error", err))
		}
		uploader = evidenceStore
	}

	overviewService := overview.NewService(inventoryService, procurementService, usedPartsService, overview.NewCache(redisClient, 30*time.Second))
	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() { _ = inspector.Close() }()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		UsedPartsHandler:   usedparts.NewHandler(logger, usedPartsService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, uploader),
		OverviewHandler:    overview.NewHandler(logger, overviewService),
		AuditHandler:       audit.NewHandler(logger, audit.NewService(audit.NewRepository(txManager))),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("backoffice listening", slog.String("addr", cfg.AppAddr), slog.String("numbering", cfg.NumberingBackend))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
