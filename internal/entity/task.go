package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

// Task represents one user-submitted processing request.
type Task struct {
	ID              uuid.UUID            `json:"id"`
	OwnerID         string               `json:"owner_id"`
	Status          constants.TaskStatus `json:"status"`
	Parameters      TaskParameters       `json:"parameters"`
	Result          []FileResult         `json:"result"`
	CancelRequested bool                 `json:"cancel_requested"`
	Error           *string              `json:"error,omitempty"`
	QueueJobID      *string              `json:"queue_job_id,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// TaskParameters is the parameter bag stored with a task.
type TaskParameters struct {
	FileIDs       []uuid.UUID        `json:"file_ids"`
	Translate     bool               `json:"translate"`
	Transliterate bool               `json:"transliterate"`
	OCRModel      constants.OCRModel `json:"ocr_model"`
	// JobHandles is append-only; it lets cancellation reach in-flight remote OCR jobs.
	JobHandles []JobHandle `json:"job_handles,omitempty"`
}

// JobHandle ties an external OCR job to the file it was issued for.
type JobHandle struct {
	ExternalJobID string    `json:"external_job_id"`
	FileID        uuid.UUID `json:"file_id"`
}

// CancelState is the slice of a task read at every cancellation checkpoint.
type CancelState struct {
	Status          constants.TaskStatus
	CancelRequested bool
}

// Cancelled reports whether work on the task must stop.
func (c CancelState) Cancelled() bool {
	return c.CancelRequested || c.Status == constants.TaskStatusCancelled
}
