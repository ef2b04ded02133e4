package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/internal/pipeline"
)

// TypeRunTask is the asynq task type for one transduction task.
const TypeRunTask = "transduction:run"

var ErrQueueClosed = errors.New("queue is shutting down")

// Job is the smallest useful unit: one task to run through the pipeline.
type Job struct {
	TaskID      uuid.UUID `json:"task_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// Queue hands tasks to workers. Enqueue returns the handle later passed to Revoke.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (string, error)
	// Revoke removes a pending job or interrupts a running one. Unknown handles are not an error.
	Revoke(ctx context.Context, handle string) error
	Shutdown(ctx context.Context)
}

// TaskRunner is what a worker invokes for each job.
type TaskRunner interface {
	Run(ctx context.Context, taskID uuid.UUID) pipeline.Outcome
}
