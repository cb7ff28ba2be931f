package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskTypeRecord is the task type for persisting one audit event.
const TaskTypeRecord = "audit:record"

// NewRecordTask wraps an event in an Asynq task.
func NewRecordTask(event Event) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal record task: %w", err)
	}
	return asynq.NewTask(TaskTypeRecord, payload), nil
}

// QueueRecorder enqueues events for a background worker instead of writing
// them inline. Fits the sink's best-effort contract: the mutation path only
// pays for an enqueue.
type QueueRecorder struct {
	client *asynq.Client
	queue  string
}

// NewQueueRecorder returns a recorder that enqueues onto the given queue.
func NewQueueRecorder(client *asynq.Client, queue string) *QueueRecorder {
	return &QueueRecorder{client: client, queue: queue}
}

// Record enqueues the event.
func (r *QueueRecorder) Record(ctx context.Context, event Event) error {
	task, err := NewRecordTask(event)
	if err != nil {
		return err
	}
	_, err = r.client.EnqueueContext(ctx, task, asynq.Queue(r.queue))
	return err
}

// NewRecordTaskHandler adapts a persistent recorder into an Asynq handler.
func NewRecordTaskHandler(recorder Recorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var event Event
		if err := json.Unmarshal(task.Payload(), &event); err != nil {
			if logger != nil {
				logger.Error("audit task payload", slog.Any("error", err))
			}
			// Malformed payloads never succeed on retry.
			return fmt.Errorf("audit: unmarshal record task: %v: %w", err, asynq.SkipRetry)
		}
		return recorder.Record(ctx, event)
	}
}
