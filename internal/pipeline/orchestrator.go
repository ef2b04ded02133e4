package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/entity"
	"github.com/joseph-ayodele/docs-transducer/internal/llm"
	"github.com/joseph-ayodele/docs-transducer/internal/notify"
	"github.com/joseph-ayodele/docs-transducer/internal/ocr"
	"github.com/joseph-ayodele/docs-transducer/internal/render"
	"github.com/joseph-ayodele/docs-transducer/internal/repository"
)

// Outcome is what a worker sees after Run. Run never returns an error; failures
// are reported through Status and Reason and are already persisted.
type Outcome struct {
	TaskID    uuid.UUID
	Status    constants.TaskStatus
	Files     int
	Succeeded int
	Reason    string
}

// PanicError wraps a value recovered from a panic during a task.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Orchestrator drives one task through OCR, translation, transliteration and rendering.
type Orchestrator struct {
	Tasks       repository.TaskRepository
	Files       repository.TaskFileRepository
	Providers   ocr.Providers
	OCR         *OCRStage
	Transformer llm.Transformer
	Renderer    render.Renderer
	Notifier    notify.Notifier
	Registry    *Registry
	Logger      *slog.Logger
}

func NewOrchestrator(
	tasks repository.TaskRepository,
	files repository.TaskFileRepository,
	providers ocr.Providers,
	ocrStage *OCRStage,
	transformer llm.Transformer,
	renderer render.Renderer,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Orchestrator{
		Tasks:       tasks,
		Files:       files,
		Providers:   providers,
		OCR:         ocrStage,
		Transformer: transformer,
		Renderer:    renderer,
		Notifier:    notifier,
		Registry:    NewRegistry(tasks, logger),
		Logger:      logger,
	}
}

// errStop signals that a cancellation checkpoint fired.
var errStop = errors.New("task cancelled")

// Run executes the task. Storage writes use a context detached from ctx so that
// the terminal state lands even when the worker is shutting down.
func (o *Orchestrator) Run(ctx context.Context, taskID uuid.UUID) (out Outcome) {
	pctx := context.WithoutCancel(ctx)
	ctx = common.WithTaskID(ctx, taskID.String())
	log := o.Logger.With("task_id", taskID)
	out = Outcome{TaskID: taskID}

	task, err := o.Tasks.GetByID(pctx, taskID)
	if err != nil {
		log.Error("failed to load task", "error", err)
		out.Reason = common.ErrorReason(err)
		return out
	}
	out.Files = len(task.Parameters.FileIDs)

	// pre-start fast path
	if task.Status.IsTerminal() && task.Status != constants.TaskStatusCancelled {
		log.Info("task already finished; nothing to do", "status", task.Status)
		out.Status = task.Status
		return out
	}
	if task.CancelRequested || task.Status == constants.TaskStatusCancelled {
		log.Info("task cancelled before start")
		return o.finishCancelled(pctx, task, nil, out, "Task cancelled before processing started")
	}

	started, err := o.Tasks.MarkProcessing(pctx, taskID, time.Now().UTC())
	if err != nil {
		return o.fail(pctx, task, nil, err, out)
	}
	if !started {
		// a concurrent cancellation won the race
		return o.settleFromStorage(pctx, task, out)
	}
	o.emit(pctx, taskID, constants.TaskStatusProcessing, "Task processing started", map[string]any{"files": out.Files})
	log.Info("task processing started", "files", out.Files, "ocr_model", task.Parameters.OCRModel,
		"translate", task.Parameters.Translate, "transliterate", task.Parameters.Transliterate)

	results := make([]entity.FileResult, 0, out.Files)
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = &PanicError{Value: r}
			}
			log.Error("task panicked", "panic", r)
			out = o.fail(pctx, task, results, err, out)
		}
	}()

	for i, fileID := range task.Parameters.FileIDs {
		fr, err := o.processFile(ctx, task, fileID)
		if fr != nil {
			results = append(results, *fr)
			if fr.Success {
				out.Succeeded++
			}
		}
		if errors.Is(err, errStop) {
			return o.finishCancelled(pctx, task, results, out, fmt.Sprintf("Task cancelled while processing file %d of %d", i+1, out.Files))
		}
		if err != nil {
			return o.fail(pctx, task, results, err, out)
		}
		if err := o.Tasks.SaveResult(pctx, taskID, results); err != nil {
			return o.fail(pctx, task, results, err, out)
		}
		o.emit(pctx, taskID, constants.TaskStatusProcessing,
			fmt.Sprintf("Processed file %d of %d", i+1, out.Files),
			map[string]any{"file_id": fileID.String(), "success": fr.Success, "index": i})
	}

	status := constants.TaskStatusSucceeded
	var reason *string
	if out.Succeeded != len(results) {
		status = constants.TaskStatusFailed
		reason = entity.StrPtr(fmt.Sprintf("%d of %d files failed", len(results)-out.Succeeded, len(results)))
	}
	ok, err := o.Tasks.Finish(pctx, taskID, status, results, reason, time.Now().UTC())
	if err != nil {
		return o.fail(pctx, task, results, err, out)
	}
	if !ok {
		return o.settleFromStorage(pctx, task, out)
	}
	out.Status = status
	out.Reason = entity.StrOrEmpty(reason)
	o.emit(pctx, taskID, status, fmt.Sprintf("Task finished: %d of %d files succeeded", out.Succeeded, len(results)),
		map[string]any{"succeeded": out.Succeeded, "files": len(results)})
	log.Info("task finished", "status", status, "succeeded", out.Succeeded, "files", len(results))
	return out
}

// processFile runs every stage for one file. It returns errStop when a
// checkpoint observes cancellation, and any other error only for storage failures.
func (o *Orchestrator) processFile(ctx context.Context, task *entity.Task, fileID uuid.UUID) (*entity.FileResult, error) {
	pctx := context.WithoutCancel(ctx)
	params := task.Parameters
	log := o.Logger.With("task_id", task.ID, "file_id", fileID)

	file, err := o.Files.GetByID(pctx, fileID)
	if errors.Is(err, common.ErrNotFound) {
		log.Warn("task file missing")
		return &entity.FileResult{
			FileID:          fileID,
			Provider:        params.OCRModel,
			OCR:             entity.OCROutcome{StageOutcome: entity.StageOutcome{Status: constants.StageFailed, Reason: entity.StrPtr("file not found")}},
			Translation:     placeholder(params.Translate),
			Transliteration: placeholder(params.Transliterate),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	fr := &entity.FileResult{
		FileID:   file.ID,
		FileName: file.FileName,
		FilePath: file.Path,
		FileType: file.FileType,
		Provider: params.OCRModel,
	}

	// OCR
	if o.checkpoint(ctx, task.ID, constants.StageOCR) {
		return nil, errStop
	}
	if _, err := o.Files.SetMetadata(pctx, file.ID, entity.MetaProvider, params.OCRModel); err != nil {
		return fr, err
	}
	var ocrRes ocr.Result
	provider, err := o.Providers.Get(params.OCRModel)
	if err != nil {
		ocrRes = ocr.Failed("", err.Error())
	} else {
		o.emit(pctx, task.ID, constants.TaskStatusProcessing, fmt.Sprintf("OCR %s for %s", constants.StageAttempted, file.FileName),
			map[string]any{"file_id": file.ID.String(), "stage": constants.StageOCR, "stage_status": constants.StageAttempted})
		ocrRes = o.OCR.Run(ctx, file, provider, ocr.CallOptions{
			CancelCheck: func(ctx context.Context) bool { return o.cancelRequested(ctx, task.ID) },
			OnJobSubmitted: func(jobID string) {
				o.Registry.Register(pctx, task.ID, file.ID, jobID)
			},
		})
	}
	fr.OCR = entity.OCROutcome{
		StageOutcome: entity.StageOutcome{Status: ocrRes.Status, Reason: ocrRes.Reason, Model: ocrRes.Model},
		Text:         ocrRes.Text,
	}
	if _, err := o.Files.SetMetadata(pctx, file.ID, entity.MetaOCR, fr.OCR); err != nil {
		return fr, err
	}
	log.Info("ocr stage done", "status", ocrRes.Status, "reason", entity.StrOrEmpty(ocrRes.Reason))
	o.emit(pctx, task.ID, constants.TaskStatusProcessing, fmt.Sprintf("OCR %s for %s", ocrRes.Status, file.FileName),
		map[string]any{"file_id": file.ID.String(), "stage": constants.StageOCR, "stage_status": ocrRes.Status})

	if entity.StrOrEmpty(ocrRes.Reason) == constants.ReasonCancelled {
		return nil, errStop
	}
	if ocrRes.Status != constants.StageCompleted {
		fr.Translation = placeholder(params.Translate)
		fr.Transliteration = placeholder(params.Transliterate)
		return fr, nil
	}
	source := *ocrRes.Text

	// translation
	fr.Translation = placeholder(false)
	if params.Translate {
		if o.checkpoint(ctx, task.ID, constants.StageTranslation) {
			return nil, errStop
		}
		fr.Translation = o.transform(ctx, source, llm.ModeTranslate)
		if _, err := o.Files.SetMetadata(pctx, file.ID, entity.MetaTranslation, fr.Translation); err != nil {
			return fr, err
		}
		log.Info("translation stage done", "status", fr.Translation.Status)
	}

	// transliteration
	fr.Transliteration = placeholder(false)
	if params.Transliterate {
		if o.checkpoint(ctx, task.ID, constants.StageTransliteration) {
			return nil, errStop
		}
		fr.Transliteration = o.transform(ctx, source, llm.ModeTransliterate)
		if _, err := o.Files.SetMetadata(pctx, file.ID, entity.MetaTransliteration, fr.Transliteration); err != nil {
			return fr, err
		}
		log.Info("transliteration stage done", "status", fr.Transliteration.Status)
	}

	// rendering only when there is something beyond the OCR text
	if fr.Translation.Completed() || fr.Transliteration.Completed() {
		if o.checkpoint(ctx, task.ID, constants.StageRender) {
			return nil, errStop
		}
		path, err := o.Renderer.Render(ctx, render.Input{
			Original:       source,
			Translated:     entity.StrOrEmpty(fr.Translation.Text),
			Transliterated: entity.StrOrEmpty(fr.Transliteration.Text),
			BaseName:       task.ID.String() + "_" + file.ID.String(),
			Title:          file.FileName,
		})
		if err != nil {
			log.Error("render failed", "error", err)
		} else {
			fr.DocxPath = &path
			if _, err := o.Files.SetMetadata(pctx, file.ID, entity.MetaDocxPath, path); err != nil {
				return fr, err
			}
		}
	}

	fr.Success = fr.OCR.Status == constants.StageCompleted &&
		(!params.Translate || fr.Translation.Status == constants.StageCompleted)
	return fr, nil
}

func (o *Orchestrator) transform(ctx context.Context, source string, mode llm.Mode) entity.TextOutcome {
	res := o.Transformer.Transform(ctx, source, mode)
	return entity.TextOutcome{
		StageOutcome: entity.StageOutcome{Status: res.Status, Reason: res.Reason, Model: res.Model},
		Text:         res.Text,
	}
}

// placeholder is the outcome of a stage that did not run: failed when it was
// requested but OCR produced nothing, skipped when it was not requested.
func placeholder(requested bool) entity.TextOutcome {
	if requested {
		return entity.StatusOnly(constants.StageFailed)
	}
	return entity.StatusOnly(constants.StageSkipped)
}

// checkpoint re-reads the task and reports whether work must stop before stage.
func (o *Orchestrator) checkpoint(ctx context.Context, taskID uuid.UUID, stage string) bool {
	if o.cancelRequested(ctx, taskID) {
		o.Logger.Info("cancellation observed", "task_id", taskID, "stage", stage)
		return true
	}
	return false
}

// cancelRequested reads the live flag and status from storage. A read failure
// is logged and treated as not cancelled.
func (o *Orchestrator) cancelRequested(ctx context.Context, taskID uuid.UUID) bool {
	st, err := o.Tasks.GetCancelState(context.WithoutCancel(ctx), taskID)
	if err != nil {
		o.Logger.Warn("cancel state read failed", "task_id", taskID, "error", err)
		return false
	}
	return st.Cancelled()
}

func (o *Orchestrator) finishCancelled(ctx context.Context, task *entity.Task, results []entity.FileResult, out Outcome, message string) Outcome {
	if results != nil {
		if err := o.Tasks.SaveResult(ctx, task.ID, results); err != nil {
			o.Logger.Warn("failed to save partial results on cancel", "task_id", task.ID, "error", err)
		}
	}
	now := time.Now().UTC()
	marked, err := o.Tasks.MarkCancelled(ctx, task.ID, now)
	if err != nil {
		o.Logger.Error("failed to mark task cancelled", "task_id", task.ID, "error", err)
		out.Status = constants.TaskStatusCancelled
		out.Reason = common.ErrorReason(err)
		return out
	}
	if !marked {
		// already CANCELLED by the cancel request itself
		if err := o.Tasks.BackfillCompletedAt(ctx, task.ID, now); err != nil {
			o.Logger.Warn("completed_at backfill failed", "task_id", task.ID, "error", err)
		}
	}
	out.Status = constants.TaskStatusCancelled
	out.Reason = constants.ReasonCancelled
	o.emit(ctx, task.ID, constants.TaskStatusCancelled, message, nil)
	o.Logger.Info("task cancelled", "task_id", task.ID, "files_done", len(results))
	return out
}

// fail forces FAILED with a structured reason and persists partial results.
func (o *Orchestrator) fail(ctx context.Context, task *entity.Task, results []entity.FileResult, cause error, out Outcome) Outcome {
	reason := common.ErrorReason(cause)
	o.Logger.Error("task failed", "task_id", task.ID, "error", cause)
	ok, err := o.Tasks.Finish(ctx, task.ID, constants.TaskStatusFailed, results, &reason, time.Now().UTC())
	if err != nil {
		o.Logger.Error("failed to persist task failure", "task_id", task.ID, "error", err)
	} else if !ok {
		return o.settleFromStorage(ctx, task, out)
	}
	out.Status = constants.TaskStatusFailed
	out.Reason = reason
	o.emit(ctx, task.ID, constants.TaskStatusFailed, "Task failed", map[string]any{"error": reason})
	return out
}

// settleFromStorage reports whatever terminal state another writer already set.
func (o *Orchestrator) settleFromStorage(ctx context.Context, task *entity.Task, out Outcome) Outcome {
	st, err := o.Tasks.GetCancelState(ctx, task.ID)
	if err != nil {
		o.Logger.Error("failed to re-read task", "task_id", task.ID, "error", err)
		out.Reason = common.ErrorReason(err)
		return out
	}
	out.Status = st.Status
	if st.Status == constants.TaskStatusCancelled {
		out.Reason = constants.ReasonCancelled
		if err := o.Tasks.BackfillCompletedAt(ctx, task.ID, time.Now().UTC()); err != nil {
			o.Logger.Warn("completed_at backfill failed", "task_id", task.ID, "error", err)
		}
	}
	o.Logger.Info("task state settled by another writer", "task_id", task.ID, "status", st.Status)
	return out
}

// emit sends a progress event. Delivery is best-effort.
func (o *Orchestrator) emit(ctx context.Context, taskID uuid.UUID, status constants.TaskStatus, message string, data map[string]any) {
	if err := o.Notifier.Notify(ctx, notify.Progress(taskID.String(), status, message, data)); err != nil {
		o.Logger.Warn("progress notification failed", "task_id", taskID, "error", err)
	}
}
