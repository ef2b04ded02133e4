package entity

import (
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

// StageOutcome is the common part of every stage result.
type StageOutcome struct {
	Status constants.StageStatus `json:"status"`
	Reason *string               `json:"reason,omitempty"`
	Model  *string               `json:"model,omitempty"`
}

// OCROutcome is the persisted OCR sub-result of a file.
type OCROutcome struct {
	StageOutcome
	Text *string `json:"ocr_text,omitempty"`
}

// TextOutcome is the persisted translation or transliteration sub-result of a file.
type TextOutcome struct {
	StageOutcome
	Text *string `json:"output_text,omitempty"`
}

// Completed reports a completed stage with non-empty output.
func (o TextOutcome) Completed() bool {
	return o.Status == constants.StageCompleted && o.Text != nil && *o.Text != ""
}

// FileResult is one entry of a task's ordered result payload.
type FileResult struct {
	FileID          uuid.UUID          `json:"file_id"`
	FileName        string             `json:"file_name"`
	FilePath        string             `json:"file_path"`
	FileType        constants.FileType `json:"file_type"`
	Provider        constants.OCRModel `json:"provider"`
	OCR             OCROutcome         `json:"ocr"`
	Translation     TextOutcome        `json:"translation"`
	Transliteration TextOutcome        `json:"transliteration"`
	DocxPath        *string            `json:"docx_path"`
	Success         bool               `json:"success"`
}

// StatusOnly builds a placeholder outcome such as {"status":"skipped"}.
func StatusOnly(s constants.StageStatus) TextOutcome {
	return TextOutcome{StageOutcome: StageOutcome{Status: s}}
}

// StrPtr returns nil for the empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StrOrEmpty dereferences p, treating nil as "".
func StrOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
