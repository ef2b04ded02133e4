package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/internal/entity"
	"github.com/joseph-ayodele/docs-transducer/internal/repository"
)

// JobCanceller stops a remote OCR job.
type JobCanceller interface {
	Cancel(ctx context.Context, jobID string) error
}

// Registry records remote OCR job handles on their task so a later cancellation
// can reach them. All operations are best-effort.
type Registry struct {
	mu     sync.Mutex
	tasks  repository.TaskRepository
	logger *slog.Logger
}

func NewRegistry(tasks repository.TaskRepository, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tasks: tasks, logger: logger}
}

// Register appends a handle to the task's job_handles. Concurrent page calls
// register through the same mutex so appends never overwrite each other.
func (r *Registry) Register(ctx context.Context, taskID, fileID uuid.UUID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := entity.JobHandle{ExternalJobID: jobID, FileID: fileID}
	if err := r.tasks.AppendJobHandle(context.WithoutCancel(ctx), taskID, h); err != nil {
		r.logger.Warn("job handle registration failed", "task_id", taskID, "file_id", fileID, "job_id", jobID, "error", err)
		return
	}
	r.logger.Debug("job handle registered", "task_id", taskID, "file_id", fileID, "job_id", jobID)
}

// CancelAll sends a cancel for every handle and returns how many were accepted.
func (r *Registry) CancelAll(ctx context.Context, handles []entity.JobHandle, c JobCanceller) int {
	if c == nil {
		return 0
	}
	n := 0
	for _, h := range handles {
		if err := c.Cancel(ctx, h.ExternalJobID); err != nil {
			r.logger.Warn("remote job cancel failed", "job_id", h.ExternalJobID, "file_id", h.FileID, "error", err)
			continue
		}
		n++
	}
	return n
}
