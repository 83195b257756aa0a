package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fleetmaint/backoffice/internal/jobs"
)

// DefaultIdempotencyRetention keeps keys long enough to absorb client retries.
const DefaultIdempotencyRetention = 72 * time.Hour

// KeyPurger deletes idempotency keys older than a retention window.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges stale idempotency keys.
type IdempotencyCleanupJob struct {
	purger    KeyPurger
	retention time.Duration
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job. A non-positive retention uses the default.
func NewIdempotencyCleanupJob(purger KeyPurger, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &IdempotencyCleanupJob{purger: purger, retention: retention, logger: logger, metrics: metrics}
}

// Handle runs one purge.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.purger == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	tracker := j.metrics.Track("idempotency_cleanup")
	defer func() { err = tracker.End(err) }()

	purged, err := j.purger.Cleanup(ctx, j.retention)
	if err != nil {
		j.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	j.logger.Info("idempotency keys purged", slog.Int64("count", purged), slog.Duration("retention", j.retention))
	return nil
}
