package constants

// EventTypeTaskProgress is the type carried by every progress notification.
const EventTypeTaskProgress = "task_progress"

// Stage names used in cancellation checkpoints, logs and notifications.
const (
	StageOCR             = "ocr"
	StageTranslation     = "translation"
	StageTransliteration = "transliteration"
	StageRender          = "render"
)
