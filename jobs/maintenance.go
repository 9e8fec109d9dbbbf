package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/expenseflow/expenseflow/internal/jobs"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// TaskIdempotencyCleanup prunes consumed idempotency keys.
const TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"

// IdempotencyRetention is how long consumed keys are kept. Retries of the
// same submit arrive well within this window.
const IdempotencyRetention = 24 * time.Hour

// NewIdempotencyCleanupTask builds the cron task for key pruning.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// Maintenance bundles the periodic housekeeping handlers.
type Maintenance struct {
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
}

// NewMaintenance constructs the maintenance handlers.
func NewMaintenance(idempotency *shared.IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *Maintenance {
	return &Maintenance{idempotency: idempotency, logger: logger, metrics: metrics}
}

// HandleIdempotencyCleanupTask processes maintenance:idempotency_cleanup.
func (m *Maintenance) HandleIdempotencyCleanupTask(ctx context.Context, _ *asynq.Task) error {
	tracker := m.metrics.Track("idempotency_cleanup")
	err := m.idempotency.Cleanup(ctx, IdempotencyRetention)
	if err == nil {
		m.logger.Info("idempotency keys pruned")
	}
	return tracker.End(err)
}
