package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// runTimeout is the asynq lease given to a task run. asynq applies a 30 minute
// timeout when none is set; task runs are not time-bounded, so this is set far
// beyond any real run and the handler also detaches from the deadline.
const runTimeout = 30 * 24 * time.Hour

// AsynqQueue enqueues jobs into Redis. The asynq task id is the task id, so a
// task can never be queued twice and Revoke needs no extra lookup.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	log       *slog.Logger
}

func NewAsynqQueue(redisOpt asynq.RedisClientOpt, queue string, logger *slog.Logger) *AsynqQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if queue == "" {
		queue = "default"
	}
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queue,
		log:       logger,
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	t := asynq.NewTask(TypeRunTask, payload)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.TaskID(job.TaskID.String()),
		asynq.Queue(q.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(runTimeout),
	)
	if err != nil {
		q.log.Error("enqueue failed", "task_id", job.TaskID, "queue", q.queue, "error", err)
		return "", fmt.Errorf("enqueue task %s: %w", job.TaskID, err)
	}
	q.log.Info("queued task for processing", "task_id", job.TaskID, "queue", info.Queue, "job_id", info.ID)
	return info.ID, nil
}

// Revoke deletes the job while it is still pending. A job a worker already
// picked up cannot be deleted; its handler context is cancelled instead.
func (q *AsynqQueue) Revoke(_ context.Context, handle string) error {
	err := q.inspector.DeleteTask(q.queue, handle)
	switch {
	case err == nil:
		q.log.Info("revoked queued job", "job_id", handle)
		return nil
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		q.log.Debug("job not found for revoke", "job_id", handle)
		return nil
	}
	if cerr := q.inspector.CancelProcessing(handle); cerr != nil {
		q.log.Warn("revoke failed", "job_id", handle, "delete_error", err, "cancel_error", cerr)
		return fmt.Errorf("revoke job %s: %w", handle, cerr)
	}
	q.log.Info("sent cancel to running job", "job_id", handle)
	return nil
}

func (q *AsynqQueue) Shutdown(context.Context) {
	if err := q.client.Close(); err != nil {
		q.log.Warn("asynq client close", "error", err)
	}
	if err := q.inspector.Close(); err != nil {
		q.log.Warn("asynq inspector close", "error", err)
	}
}
