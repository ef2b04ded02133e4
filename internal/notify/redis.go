package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	progressChannelPrefix = "tasks:progress:"
	statusKeyPrefix       = "task:status:"
	statusTTL             = 24 * time.Hour
)

// ProgressChannel is the Pub/Sub channel carrying a task's events.
func ProgressChannel(taskID string) string { return progressChannelPrefix + taskID }

// StatusKey is the cache key holding a task's last known status.
func StatusKey(taskID string) string { return statusKeyPrefix + taskID }

// RedisNotifier publishes events as JSON and caches the latest status per task.
type RedisNotifier struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, log: logger}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.client.Publish(ctx, ProgressChannel(ev.TaskID), data).Err(); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	if ev.Status != "" {
		if err := n.client.Set(ctx, StatusKey(ev.TaskID), ev.Status, statusTTL).Err(); err != nil {
			return fmt.Errorf("cache status: %w", err)
		}
	}
	n.log.Debug("progress published", "task_id", ev.TaskID, "status", ev.Status)
	return nil
}

// CachedStatus returns the last published status, or "" when none is cached.
func (n *RedisNotifier) CachedStatus(ctx context.Context, taskID string) (string, error) {
	s, err := n.client.Get(ctx, StatusKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return s, err
}

// Subscribe returns a channel of decoded events for one task. It closes when ctx ends.
func (n *RedisNotifier) Subscribe(ctx context.Context, taskID string) (<-chan Event, error) {
	sub := n.client.Subscribe(ctx, ProgressChannel(taskID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					n.log.Warn("dropping malformed progress event", "task_id", taskID, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
