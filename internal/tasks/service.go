package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/async"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/entity"
	"github.com/joseph-ayodele/docs-transducer/internal/export"
	"github.com/joseph-ayodele/docs-transducer/internal/notify"
	"github.com/joseph-ayodele/docs-transducer/internal/pipeline"
	"github.com/joseph-ayodele/docs-transducer/internal/repository"
)

// Service handles the task API: uploads, submission, queries and cancellation.
type Service struct {
	storage   common.StorageConfig
	tasks     repository.TaskRepository
	files     repository.TaskFileRepository
	queue     async.Queue
	registry  *pipeline.Registry
	canceller pipeline.JobCanceller
	notifier  notify.Notifier
	exporter  *export.Service
	logger    *slog.Logger
}

// Deps groups the collaborators of a Service.
type Deps struct {
	Tasks    repository.TaskRepository
	Files    repository.TaskFileRepository
	Queue    async.Queue
	Registry *pipeline.Registry
	// Canceller reaches remote OCR jobs; nil when no remote provider is configured.
	Canceller pipeline.JobCanceller
	Notifier  notify.Notifier
	Exporter  *export.Service
}

func NewService(storage common.StorageConfig, d Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Registry == nil {
		d.Registry = pipeline.NewRegistry(d.Tasks, logger)
	}
	if d.Exporter == nil {
		d.Exporter = export.NewService(d.Tasks, logger)
	}
	return &Service{
		storage:   storage,
		tasks:     d.Tasks,
		files:     d.Files,
		queue:     d.Queue,
		registry:  d.Registry,
		canceller: d.Canceller,
		notifier:  d.Notifier,
		exporter:  d.Exporter,
		logger:    logger,
	}
}

// UploadRequest is one file stream to store for a later task.
type UploadRequest struct {
	FileName string
	Body     io.Reader
}

// Upload validates and stores a source file. The stored TaskFile is not bound to any task yet.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*entity.TaskFile, error) {
	name := filepath.Base(strings.TrimSpace(req.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, status.Error(codes.InvalidArgument, "file name is required")
	}
	ext := filepath.Ext(name)
	if constants.MapExtToFileType(ext) == "" {
		s.logger.Warn("upload rejected: unsupported extension", "file_name", name, "ext", ext)
		return nil, status.Errorf(codes.InvalidArgument, "unsupported file type %q", ext)
	}
	if err := os.MkdirAll(s.storage.UploadDir, 0o755); err != nil {
		s.logger.Error("upload dir unavailable", "dir", s.storage.UploadDir, "error", err)
		return nil, status.Error(codes.Internal, "upload storage unavailable")
	}

	tmp, err := os.CreateTemp(s.storage.UploadDir, ".upload-*")
	if err != nil {
		s.logger.Error("create temp upload failed", "error", err)
		return nil, status.Error(codes.Internal, "upload storage unavailable")
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmpName)
		}
	}()

	// Read at most one byte past the limit so oversize uploads are detected without buffering them.
	size, err := io.Copy(tmp, io.LimitReader(req.Body, s.storage.UploadMaxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.logger.Error("upload write failed", "file_name", name, "error", err)
		return nil, status.Errorf(codes.Internal, "store upload: %v", err)
	}

	v := common.NewValidator().
		Field("size_bytes", size, common.ByteRange(s.storage.UploadMinBytes, s.storage.UploadMaxBytes))
	if err := common.ValidateAndReturnError(v); err != nil {
		s.logger.Warn("upload rejected: size out of range", "file_name", name, "size_bytes", size,
			"min", s.storage.UploadMinBytes, "max", s.storage.UploadMaxBytes)
		return nil, err
	}

	head, err := readHead(tmpName, 512)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read upload: %v", err)
	}
	fileType, ok := detectFileType(ext, head)
	if !ok {
		s.logger.Warn("upload rejected: content does not match extension", "file_name", name, "ext", ext)
		return nil, status.Errorf(codes.InvalidArgument, "file content does not match extension %q", ext)
	}

	id := uuid.New()
	stored := id.String() + "." + constants.NormalizeExt(ext)
	dest, err := filepath.Abs(filepath.Join(s.storage.UploadDir, stored))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "resolve upload path: %v", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		s.logger.Error("upload rename failed", "from", tmpName, "to", dest, "error", err)
		return nil, status.Errorf(codes.Internal, "store upload: %v", err)
	}
	keep = true

	f, err := s.files.Create(ctx, &entity.TaskFile{
		ID:         id,
		FileName:   name,
		StoredName: stored,
		Path:       dest,
		FileType:   fileType,
		SizeBytes:  size,
	})
	if err != nil {
		_ = os.Remove(dest)
		return nil, status.Errorf(codes.Internal, "record upload: %v", err)
	}
	s.logger.Info("file uploaded", "file_id", f.ID, "file_name", name, "file_type", fileType, "size_bytes", size)
	return f, nil
}

func readHead(path string, n int) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	buf := make([]byte, n)
	m, err := io.ReadFull(fh, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:m], nil
}

// SubmitRequest carries the raw JSON parameters of a new task.
type SubmitRequest struct {
	OwnerID    string
	Parameters json.RawMessage
	TraceID    string
}

type submitParams struct {
	FileIDs       []string `json:"file_ids"`
	Translate     bool     `json:"translate"`
	Transliterate bool     `json:"transliterate"`
	OCRModel      string   `json:"ocr_model"`
}

// Submit creates a task over previously uploaded files and queues it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*entity.Task, error) {
	if err := validateParameters(req.Parameters); err != nil {
		s.logger.Warn("task submission rejected", "owner_id", req.OwnerID, "error", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var p submitParams
	if err := json.Unmarshal(req.Parameters, &p); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode parameters: %v", err)
	}
	model, err := constants.ParseOCRModel(p.OCRModel)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ids := make([]uuid.UUID, 0, len(p.FileIDs))
	for _, raw := range p.FileIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, common.InvalidArgumentErrorf("file_id %q must be a UUID", raw)
		}
		f, err := s.files.GetByID(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil, status.Errorf(codes.InvalidArgument, "file %s not found", id)
		}
		if err != nil {
			return nil, status.Errorf(codes.Internal, "load file %s: %v", id, err)
		}
		if f.TaskID != nil {
			return nil, status.Errorf(codes.FailedPrecondition, "file %s already belongs to task %s", id, *f.TaskID)
		}
		ids = append(ids, id)
	}

	task, err := s.tasks.CreateWithFiles(ctx, &entity.Task{
		OwnerID: req.OwnerID,
		Parameters: entity.TaskParameters{
			FileIDs:       ids,
			Translate:     p.Translate,
			Transliterate: p.Transliterate,
			OCRModel:      model,
		},
	})
	if errors.Is(err, common.ErrInvalidState) {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "create task: %v", err)
	}

	handle, err := s.queue.Enqueue(ctx, async.Job{TaskID: task.ID, SubmittedAt: time.Now().UTC(), TraceID: req.TraceID})
	if err != nil {
		s.logger.Error("enqueue failed for task", "task_id", task.ID, "error", err)
		reason := common.ErrorReason(err)
		if _, ferr := s.tasks.Finish(context.WithoutCancel(ctx), task.ID, constants.TaskStatusFailed, nil, &reason, time.Now().UTC()); ferr != nil {
			s.logger.Error("failed to mark unqueued task failed", "task_id", task.ID, "error", ferr)
		}
		return nil, status.Errorf(codes.Internal, "enqueue failed: %v", err)
	}
	// A worker may already have moved the task on; MarkQueued then does nothing.
	if _, err := s.tasks.MarkQueued(ctx, task.ID, handle); err != nil {
		s.logger.Warn("mark queued failed", "task_id", task.ID, "error", err)
	}
	s.emit(ctx, task.ID, constants.TaskStatusQueued, "task queued", nil)

	return s.get(ctx, task.ID)
}

// Get returns the persisted task.
func (s *Service) Get(ctx context.Context, rawID string) (*entity.Task, error) {
	id, err := parseTaskID(rawID)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*entity.Task, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFoundErrorf("task %s not found", id)
	}
	if err != nil {
		return nil, common.InternalErrorf("load task: %v", err)
	}
	return t, nil
}

// Cancel stops a task: it sets the flag the orchestrator polls, revokes the
// queued job, cancels registered remote OCR jobs and moves the task to
// CANCELLED. Terminal tasks cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, rawID string) (*entity.Task, error) {
	id, err := parseTaskID(rawID)
	if err != nil {
		return nil, err
	}
	task, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		s.logger.Info("cancel rejected: task already terminal", "task_id", id, "status", task.Status)
		return nil, common.FailedPreconditionErrorf("task %s is already %s", id, task.Status)
	}

	wctx := context.WithoutCancel(ctx)
	if err := s.tasks.RequestCancel(wctx, id); err != nil {
		return nil, status.Errorf(codes.Internal, "request cancel: %v", err)
	}
	s.logger.Info("task cancellation requested", "task_id", id, "status", task.Status)

	// Re-read so handles registered since the first read are included.
	if fresh, err := s.tasks.GetByID(wctx, id); err == nil {
		task = fresh
	}

	handle := id.String()
	if task.QueueJobID != nil && *task.QueueJobID != "" {
		handle = *task.QueueJobID
	}
	if s.queue != nil {
		if err := s.queue.Revoke(wctx, handle); err != nil {
			s.logger.Warn("queue revoke failed", "task_id", id, "job_id", handle, "error", err)
		}
	}
	if n := s.registry.CancelAll(wctx, task.Parameters.JobHandles, s.canceller); n > 0 {
		s.logger.Info("remote OCR jobs cancelled", "task_id", id, "count", n, "registered", len(task.Parameters.JobHandles))
	}

	ok, err := s.tasks.MarkCancelled(wctx, id, time.Now().UTC())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "mark cancelled: %v", err)
	}
	if ok {
		s.emit(wctx, id, constants.TaskStatusCancelled, "task cancelled", nil)
	} else {
		s.logger.Info("task reached a terminal state before cancel landed", "task_id", id)
	}
	return s.get(wctx, id)
}

// ExportXLSX renders the task's results as a workbook.
func (s *Service) ExportXLSX(ctx context.Context, rawID string) ([]byte, error) {
	id, err := parseTaskID(rawID)
	if err != nil {
		return nil, err
	}
	b, err := s.exporter.ExportTaskXLSX(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "export: %v", err)
	}
	return b, nil
}

func (s *Service) emit(ctx context.Context, id uuid.UUID, st constants.TaskStatus, msg string, data map[string]any) {
	if err := s.notifier.Notify(context.WithoutCancel(ctx), notify.Progress(id.String(), st, msg, data)); err != nil {
		s.logger.Warn("progress notification failed", "task_id", id, "status", st, "error", err)
	}
}

func parseTaskID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	v := common.NewValidator().Field("task_id", raw, common.Required, common.UUID)
	if err := common.ValidateAndReturnError(v); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(raw), nil
}
