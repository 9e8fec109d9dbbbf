package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Task types consumed by the background worker.
const (
	TaskNotifyEvent = "notify:event"
	TaskReceiptOCR  = "receipt:ocr"
)

// QueueDefault is the queue used for all notification traffic.
const QueueDefault = "default"

// AsynqEmitter enqueues events onto the worker queue. Enqueue failures are
// logged and dropped; the committed state transition stands regardless.
type AsynqEmitter struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqEmitter constructs an AsynqEmitter.
func NewAsynqEmitter(client *asynq.Client, logger *slog.Logger) *AsynqEmitter {
	return &AsynqEmitter{client: client, logger: logger}
}

// Emit implements Emitter.
func (e *AsynqEmitter) Emit(ctx context.Context, evt Event) {
	if e == nil || e.client == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.Error("marshal event", slog.String("type", evt.Type), slog.Any("error", err))
		return
	}
	taskType := TaskNotifyEvent
	if evt.Type == EventReceiptUploaded {
		taskType = TaskReceiptOCR
	}
	task := asynq.NewTask(taskType, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(5))
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		e.logger.Error("enqueue event", slog.String("type", evt.Type), slog.Any("error", err))
	}
}
