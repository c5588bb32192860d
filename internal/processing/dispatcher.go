package processing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"market-risk-alerts/internal/tasks"
)

// DispatchResult identifies a submitted group.
type DispatchResult struct {
	TotalAlerts int    `json:"total_alerts"`
	GroupID     string `json:"group_id"`
}

// BatchDispatcher fans alert ids out into independent process tasks sharing
// one group handle.
type BatchDispatcher struct {
	enqueuer tasks.Enqueuer
	tracker  tasks.GroupTracker
	logger   zerolog.Logger
}

// NewBatchDispatcher constructs the dispatcher. tracker may be nil, in which
// case groups are not tracked.
func NewBatchDispatcher(enqueuer tasks.Enqueuer, tracker tasks.GroupTracker, logger zerolog.Logger) *BatchDispatcher {
	return &BatchDispatcher{
		enqueuer: enqueuer,
		tracker:  tracker,
		logger:   logger.With().Str("component", "batch_dispatcher").Logger(),
	}
}

// DispatchBatch enqueues one process task per id and returns without waiting
// for any of them. Duplicate ids are dispatched as separate members.
func (d *BatchDispatcher) DispatchBatch(ctx context.Context, alertIDs []string) (DispatchResult, error) {
	if err := validateAlertIDs(alertIDs); err != nil {
		return DispatchResult{}, err
	}
	return d.dispatch(ctx, tasks.NewID(), alertIDs)
}

// dispatchChunk bounds one Enqueue call; the group's enqueued watermark
// advances after each chunk.
const dispatchChunk = 500

func (d *BatchDispatcher) dispatch(ctx context.Context, groupID string, alertIDs []string) (DispatchResult, error) {
	batch := make([]tasks.Task, 0, len(alertIDs))
	for i, id := range alertIDs {
		task, err := tasks.NewTask(KindProcessAlert, processAlertPayload{AlertID: id})
		if err != nil {
			return DispatchResult{}, err
		}
		task.ID = memberID(groupID, i)
		task.GroupID = groupID
		batch = append(batch, task)
	}

	if d.tracker == nil {
		if err := d.enqueuer.Enqueue(ctx, batch...); err != nil {
			return DispatchResult{}, fmt.Errorf("enqueue batch %s: %w", groupID, err)
		}
		d.logger.Info().Str("group_id", groupID).Int("total_alerts", len(batch)).Msg("batch dispatched")
		return DispatchResult{TotalAlerts: len(batch), GroupID: groupID}, nil
	}

	// register before enqueue so no member can record against an unknown group
	if err := d.tracker.Register(ctx, groupID, len(batch)); err != nil {
		return DispatchResult{}, fmt.Errorf("register group: %w", err)
	}
	status, err := d.tracker.Status(ctx, groupID)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("load group: %w", err)
	}
	if status.Enqueued > 0 {
		d.logger.Info().Str("group_id", groupID).Int("enqueued", status.Enqueued).Msg("resuming partially dispatched batch")
	}

	for start := status.Enqueued; start < len(batch); start += dispatchChunk {
		end := min(start+dispatchChunk, len(batch))
		if err := d.enqueuer.Enqueue(ctx, batch[start:end]...); err != nil {
			return DispatchResult{}, fmt.Errorf("enqueue batch %s at %d: %w", groupID, start, err)
		}
		if err := d.tracker.MarkEnqueued(ctx, groupID, end); err != nil {
			return DispatchResult{}, fmt.Errorf("mark batch %s enqueued: %w", groupID, err)
		}
	}

	d.logger.Info().Str("group_id", groupID).Int("total_alerts", len(batch)).Msg("batch dispatched")
	return DispatchResult{TotalAlerts: len(batch), GroupID: groupID}, nil
}

func memberID(groupID string, index int) string {
	return fmt.Sprintf("%s-%d", groupID, index)
}

// Handle runs a dispatch submitted through the Submitter. The submitting
// task's id becomes the group handle, so a retried dispatch reuses it.
func (d *BatchDispatcher) Handle(ctx context.Context, task tasks.Task) (tasks.Outcome, error) {
	var payload dispatchBatchPayload
	if err := task.Decode(&payload); err != nil {
		return "", err
	}
	if err := validateAlertIDs(payload.AlertIDs); err != nil {
		return "", tasks.Permanent(err)
	}
	if _, err := d.dispatch(ctx, task.ID, payload.AlertIDs); err != nil {
		return "", err
	}
	return tasks.OutcomeSuccess, nil
}
