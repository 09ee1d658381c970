// Package jobs wires background processing: the nightly validation sweep
// over periods under review.
package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeValidationSweep re-runs validation over every period in REVIEW.
	TaskTypeValidationSweep = "validation:sweep"
)

// NewValidationSweepTask constructs the sweep task. The sweep carries no
// payload, it always covers every period under review.
func NewValidationSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeValidationSweep, nil)
}

// Sweeper re-validates all periods in REVIEW.
type Sweeper interface {
	ResweepReviewPeriods(ctx context.Context) error
}

// NewValidationSweepHandler returns the asynq handler for the sweep.
func NewValidationSweepHandler(sweeper Sweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		logger.Info("validation sweep started")
		if err := sweeper.ResweepReviewPeriods(ctx); err != nil {
			logger.Error("validation sweep failed", slog.String("error", err.Error()))
			return err
		}
		logger.Info("validation sweep complete")
		return nil
	}
}
