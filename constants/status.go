package constants

// TaskStatus is the canonical status for rows in tasks.
type TaskStatus string

// Stable values (store these exact strings in DB).
const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusQueued     TaskStatus = "QUEUED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusSucceeded  TaskStatus = "SUCCEEDED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// TerminalTaskStatuses are never left once reached.
var TerminalTaskStatuses = []TaskStatus{TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled}

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

func (s TaskStatus) String() string { return string(s) }

// StageStatus is the outcome of one provider call (OCR, translation, transliteration).
type StageStatus string

const (
	StageSkipped   StageStatus = "skipped"   // missing credentials or stage not requested
	StageAttempted StageStatus = "attempted" // request issued, no outcome yet
	StageCompleted StageStatus = "completed" // non-empty output
	StageFailed    StageStatus = "failed"    // error or empty output
)

// ReasonCancelled is recorded when a cancellation check aborts a provider call.
const ReasonCancelled = "cancelled"

// ReasonAllPagesFailed is recorded when no page of a document produced text.
const ReasonAllPagesFailed = "All pages failed"
