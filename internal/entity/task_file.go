package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

// Metadata keys written by the orchestrator, once each.
const (
	MetaProvider        = "provider"
	MetaOCR             = "ocr"
	MetaTranslation     = "translation"
	MetaTransliteration = "transliteration"
	MetaDocxPath        = "docx_path"
)

// TaskFile represents one uploaded source file, bound to at most one task.
type TaskFile struct {
	ID         uuid.UUID                  `json:"id"`
	TaskID     *uuid.UUID                 `json:"task_id,omitempty"`
	FileName   string                     `json:"file_name"`
	StoredName string                     `json:"stored_name"`
	Path       string                     `json:"path"`
	FileType   constants.FileType         `json:"file_type"`
	SizeBytes  int64                      `json:"size_bytes"`
	Metadata   map[string]json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
}
