// Package jobs runs background work over Asynq: staging print data for
// remission guides and periodic maintenance.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmadist/farmadist/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPrintStage stages printable data for one remission guide.
	TaskPrintStage = "print:stage"
	// TaskCleanupKeys prunes aged idempotency keys.
	TaskCleanupKeys = "maintenance:cleanup_keys"
)

// keyRetention bounds how long processed staging keys are kept.
const keyRetention = 30 * 24 * time.Hour

// PrintStagePayload identifies the documents whose print data must be staged.
type PrintStagePayload struct {
	ExchangeNumber  string `json:"exchange_number"`
	RemissionNumber string `json:"remission_number"`
}

// NewPrintStageTask constructs the staging task. The task ID is derived from
// the remission number so re-enqueueing the same guide collapses into one
// execution.
func NewPrintStageTask(payload PrintStagePayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.TaskID(TaskPrintStage + ":" + payload.RemissionNumber),
		asynq.MaxRetry(5),
		asynq.Retention(keyRetention),
	}
	return asynq.NewTask(TaskPrintStage, data), opts, nil
}

// PrintStageProcessor persists the print staging rows a remission guide needs
// before the print service can render it.
type PrintStageProcessor struct {
	pool   *pgxpool.Pool
	keys   *shared.IdempotencyStore
	logger *slog.Logger
}

// NewPrintStageProcessor constructs the processor.
func NewPrintStageProcessor(pool *pgxpool.Pool, keys *shared.IdempotencyStore, logger *slog.Logger) *PrintStageProcessor {
	return &PrintStageProcessor{pool: pool, keys: keys, logger: logger}
}

// Handle processes TaskPrintStage tasks. A remission number already staged is
// acknowledged without re-staging.
func (p *PrintStageProcessor) Handle(ctx context.Context, t *asynq.Task) error {
	var payload PrintStagePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RemissionNumber == "" || payload.ExchangeNumber == "" {
		return asynq.SkipRetry
	}

	key := TaskPrintStage + ":" + payload.RemissionNumber
	if err := p.keys.CheckAndInsert(ctx, key, "jobs"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			p.logger.Info("print data already staged",
				slog.String("remission", payload.RemissionNumber))
			return nil
		}
		return err
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO print_staging (remission_number, exchange_number, status, staged_at)
		VALUES ($1, $2, 'STAGED', NOW())
	`, payload.RemissionNumber, payload.ExchangeNumber)
	if err != nil {
		// Release the key so the retry can run the insert again.
		if delErr := p.keys.Delete(ctx, key); delErr != nil {
			p.logger.Warn("release staging key",
				slog.String("remission", payload.RemissionNumber),
				slog.Any("error", delErr))
		}
		return err
	}

	p.logger.Info("print data staged",
		slog.String("remission", payload.RemissionNumber),
		slog.String("exchange", payload.ExchangeNumber))
	return nil
}

// NewCleanupKeysTask constructs the maintenance task pruning aged keys.
func NewCleanupKeysTask() *asynq.Task {
	return asynq.NewTask(TaskCleanupKeys, nil)
}

// CleanupKeysHandler returns a handler pruning idempotency keys older than
// the retention window.
func CleanupKeysHandler(keys *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := keys.Cleanup(ctx, keyRetention); err != nil {
			return err
		}
		logger.Info("idempotency keys pruned")
		return nil
	}
}
