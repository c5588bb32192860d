package processing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"market-risk-alerts/internal/tasks"
)

// SubmissionStatus is returned for every accepted batch.
const SubmissionStatus = "Processing started"

// Submission acknowledges a batch request.
type Submission struct {
	TaskHandle string `json:"task_id"`
	Status     string `json:"status"`
}

// Submitter is the entry point used by request handlers: it validates a
// batch and defers the fan-out itself to a worker.
type Submitter struct {
	enqueuer tasks.Enqueuer
	logger   zerolog.Logger
}

// NewSubmitter constructs a submitter.
func NewSubmitter(enqueuer tasks.Enqueuer, logger zerolog.Logger) *Submitter {
	return &Submitter{
		enqueuer: enqueuer,
		logger:   logger.With().Str("component", "submitter").Logger(),
	}
}

// SubmitBatch rejects empty or blank input with a ValidationError. The
// returned handle doubles as the group id of the dispatched members.
func (s *Submitter) SubmitBatch(ctx context.Context, alertIDs []string) (Submission, error) {
	if err := validateAlertIDs(alertIDs); err != nil {
		return Submission{}, err
	}
	task, err := tasks.NewTask(KindDispatchBatch, dispatchBatchPayload{AlertIDs: alertIDs})
	if err != nil {
		return Submission{}, err
	}
	if err := s.enqueuer.Enqueue(ctx, task); err != nil {
		return Submission{}, fmt.Errorf("submit batch: %w", err)
	}
	s.logger.Info().Str("task_id", task.ID).Int("total_alerts", len(alertIDs)).Msg("batch submitted")
	return Submission{TaskHandle: task.ID, Status: SubmissionStatus}, nil
}
