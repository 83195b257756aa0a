package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetmaint/backoffice/internal/app"
	"github.com/fleetmaint/backoffice/internal/inventory"
	jobmetrics "github.com/fleetmaint/backoffice/internal/jobs"
	"github.com/fleetmaint/backoffice/internal/notify"
	"github.com/fleetmaint/backoffice/internal/numbering"
	"github.com/fleetmaint/backoffice/internal/platform/db"
	"github.com/fleetmaint/backoffice/internal/procurement"
	"github.com/fleetmaint/backoffice/internal/shared"
	"github.com/fleetmaint/backoffice/jobs"
)

type logSender struct {
	logger *slog.Logger
}

func (s logSender) Send(ctx context.Context, text string) error {
	s.logger.Info("telegram disabled, message dropped", slog.String("text", text))
	return nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	txManager := db.NewTxManager(pool)
	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)

	inventoryService := inventory.NewService(inventory.NewRepository(txManager), nil, nil)
	procurementRepo := procurement.NewRepository(txManager)
	procurementService := procurement.NewService(procurement.ServiceDeps{
		Repo:      procurementRepo,
		Inventory: inventoryService,
		Numbers:   numbering.NewPostgresAllocator(txManager, procurementRepo.SeedSequence),
		Logger:    logger,
	}, procurement.ServiceConfig{})

	var sender notify.Sender = logSender{logger: logger}
	if cfg.TelegramEnabled() {
		telegram, err := notify.NewTelegramSender(notify.TelegramConfig{
			APIURL:   cfg.TelegramAPIURL,
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
			Timeout:  cfg.TelegramTimeout,
		})
		if err != nil {
			logger.Error("init telegram sender", slog.Any("error", err))
			os.Exit(1)
		}
		sender = telegram
	}

	integrityJob := jobs.NewLedgerIntegrityJob(inventoryService, logger, metrics)
	orphanJob := jobs.NewOrphanScanJob(procurementService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(txManager), cfg.IdempotencyRetention, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskTelegram, Handler: notify.TaskHandler(sender, logger)},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskOrphanScan, Handler: orphanJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: jobs.NewLedgerIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 * * * *", Task: jobs.NewOrphanScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
