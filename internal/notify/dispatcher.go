package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// TaskTelegram delivers one event to the Telegram chat.
	TaskTelegram = "notify:telegram"
	// QueueNotifications isolates notification delivery from other jobs.
	QueueNotifications = "notifications"
)

// NewTelegramTask wraps evt in an asynq task.
func NewTelegramTask(evt Event) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTelegram, body, asynq.Queue(QueueNotifications), asynq.MaxRetry(5)), nil
}

// Enqueuer is the subset of asynq.Client used for dispatch.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher enqueues events for the worker to deliver.
type QueueDispatcher struct {
	client Enqueuer
	logger *slog.Logger
}

// NewQueueDispatcher constructs a QueueDispatcher.
func NewQueueDispatcher(client Enqueuer, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{client: client, logger: logger}
}

// Notify enqueues evt.
func (d *QueueDispatcher) Notify(ctx context.Context, evt Event) error {
	task, err := NewTelegramTask(evt)
	if err != nil {
		return fmt.Errorf("notify: build task: %w", err)
	}
	info, err := d.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", evt.Type, err)
	}
	d.logger.Debug("notification enqueued", slog.String("type", string(evt.Type)), slog.String("document", evt.DocumentNumber), slog.String("task_id", info.ID))
	return nil
}

// LogDispatcher writes events to the log instead of delivering them.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher constructs a LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Notify logs evt.
func (d *LogDispatcher) Notify(ctx context.Context, evt Event) error {
	d.logger.Info("notification",
		slog.String("type", string(evt.Type)),
		slog.String("document", evt.DocumentNumber),
		slog.String("amount", evt.Amount.StringFixed(2)),
		slog.String("actor", evt.Actor))
	return nil
}

// TaskHandler returns the asynq handler that renders and sends queued events.
func TaskHandler(sender Sender, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var evt Event
		if err := json.Unmarshal(t.Payload(), &evt); err != nil {
			logger.Warn("notify: malformed payload", slog.Any("error", err))
			return asynq.SkipRetry
		}
		if err := sender.Send(ctx, Render(evt)); err != nil {
			logger.Warn("notify: send failed", slog.String("type", string(evt.Type)), slog.String("document", evt.DocumentNumber), slog.Any("error", err))
			return err
		}
		return nil
	}
}
