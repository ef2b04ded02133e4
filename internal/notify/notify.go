package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

// Event is one progress notification for a task.
type Event struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Progress builds a task_progress event stamped with the current time.
func Progress(taskID string, status constants.TaskStatus, message string, data map[string]any) Event {
	return Event{
		Type:      constants.EventTypeTaskProgress,
		TaskID:    taskID,
		Status:    string(status),
		Message:   message,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Notifier delivers progress events. Callers treat delivery as best-effort.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the log. Used when no Redis is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.log.Info("task progress",
		"task_id", ev.TaskID,
		"status", ev.Status,
		"message", ev.Message,
		"data", ev.Data,
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
