package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fleetmaint/backoffice/internal/jobs"
	"github.com/fleetmaint/backoffice/internal/procurement"
)

// OrphanLister finds PRs whose order link no longer resolves.
type OrphanLister interface {
	ListOrphanedPRs(ctx context.Context) ([]procurement.OrphanedPR, error)
}

// OrphanScanJob surfaces orphaned PR links for manual repair.
type OrphanScanJob struct {
	lister  OrphanLister
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewOrphanScanJob constructs the job. logger and metrics may be nil.
func NewOrphanScanJob(lister OrphanLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrphanScanJob {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &OrphanScanJob{lister: lister, logger: logger, metrics: metrics}
}

// Handle runs one scan.
func (j *OrphanScanJob) Handle(ctx context.Context, _ *asynq.Task) (err error) {
	if j == nil || j.lister == nil {
		return errors.New("orphan scan: handler not configured")
	}
	tracker := j.metrics.Track("orphan_scan")
	defer func() { err = tracker.End(err) }()

	orphans, err := j.lister.ListOrphanedPRs(ctx)
	if err != nil {
		j.logger.Error("orphan scan failed", slog.Any("error", err))
		return err
	}
	j.metrics.SetOrphanedPRs(len(orphans))
	for _, o := range orphans {
		j.logger.Warn("orphaned purchase requisition",
			slog.String("pr", o.PR.Number),
			slog.String("po", o.PR.RelatedPONumber),
			slog.String("reason", string(o.Reason)))
	}
	return nil
}
