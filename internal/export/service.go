package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docs-transducer/internal/entity"
	"github.com/joseph-ayodele/docs-transducer/internal/repository"
)

// Service produces XLSX bytes summarising a task's per-file outcomes.
type Service struct {
	tasks  repository.TaskRepository
	logger *slog.Logger
}

func NewService(tasks repository.TaskRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tasks: tasks, logger: logger}
}

const (
	resultsSheet = "Results"
	taskSheet    = "Task"
	cellTextMax  = 32000 // excel rejects cells over 32767 characters
)

// ExportTaskXLSX returns a workbook with one row per file result and a task summary sheet.
func (s *Service) ExportTaskXLSX(ctx context.Context, taskID uuid.UUID) ([]byte, error) {
	start := time.Now()
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(taskSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(resultsSheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"File Name",
		"File Type",
		"Provider",
		"OCR Status",
		"OCR Text",
		"Translation Status",
		"Translation",
		"Transliteration Status",
		"Transliteration",
		"DOCX Path",
		"Success",
		"Reason",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(resultsSheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(resultsSheet, 1, 1, style)
	}

	for i, r := range task.Result {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(resultsSheet, cell, v)
		}
		write(1, r.FileName)
		write(2, string(r.FileType))
		write(3, string(r.Provider))
		write(4, string(r.OCR.Status))
		write(5, truncate(entity.StrOrEmpty(r.OCR.Text), cellTextMax))
		write(6, string(r.Translation.Status))
		write(7, truncate(entity.StrOrEmpty(r.Translation.Text), cellTextMax))
		write(8, string(r.Transliteration.Status))
		write(9, truncate(entity.StrOrEmpty(r.Transliteration.Text), cellTextMax))
		write(10, entity.StrOrEmpty(r.DocxPath))
		write(11, r.Success)
		write(12, firstReason(r))
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 28)
	_ = f.SetColWidth(resultsSheet, "B", "D", 14)
	_ = f.SetColWidth(resultsSheet, "E", "E", 60)
	_ = f.SetColWidth(resultsSheet, "F", "F", 18)
	_ = f.SetColWidth(resultsSheet, "G", "G", 60)
	_ = f.SetColWidth(resultsSheet, "H", "H", 22)
	_ = f.SetColWidth(resultsSheet, "I", "I", 60)
	_ = f.SetColWidth(resultsSheet, "J", "J", 48)
	_ = f.SetColWidth(resultsSheet, "L", "L", 48)

	summary := [][2]any{
		{"Task ID", task.ID.String()},
		{"Owner", task.OwnerID},
		{"Status", string(task.Status)},
		{"OCR Model", string(task.Parameters.OCRModel)},
		{"Translate", task.Parameters.Translate},
		{"Transliterate", task.Parameters.Transliterate},
		{"Created At", task.CreatedAt.UTC().Format(time.RFC3339)},
		{"Started At", formatTime(task.StartedAt)},
		{"Completed At", formatTime(task.CompletedAt)},
		{"Error", entity.StrOrEmpty(task.Error)},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(taskSheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(taskSheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(taskSheet, "A", "A", 16)
	_ = f.SetColWidth(taskSheet, "B", "B", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"task_id", taskID.String(),
		"rows", len(task.Result),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func firstReason(r entity.FileResult) string {
	for _, p := range []*string{r.OCR.Reason, r.Translation.Reason, r.Transliteration.Reason} {
		if p != nil && *p != "" {
			return *p
		}
	}
	return ""
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
