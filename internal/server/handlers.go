package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/entity"
	"github.com/joseph-ayodele/docs-transducer/internal/tasks"
)

// TaskService is the part of tasks.Service the HTTP API needs.
type TaskService interface {
	Upload(ctx context.Context, req tasks.UploadRequest) (*entity.TaskFile, error)
	Submit(ctx context.Context, req tasks.SubmitRequest) (*entity.Task, error)
	Get(ctx context.Context, id string) (*entity.Task, error)
	Cancel(ctx context.Context, id string) (*entity.Task, error)
	ExportXLSX(ctx context.Context, id string) ([]byte, error)
}

// Pinger reports storage health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

const (
	userHeader    = "X-User-ID"
	anonymousUser = "anonymous"
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	// extra room for multipart framing on top of the upload limit
	multipartSlack = 1 << 20
)

type TaskHandler struct {
	service        TaskService
	db             Pinger
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewTaskHandler(service TaskService, db Pinger, maxUploadBytes int64, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		service:        service,
		db:             db,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// Routes returns the API wrapped in trace, logging and recovery middleware.
func (h *TaskHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/files", h.Upload)
	mux.HandleFunc("POST /v1/tasks", h.Submit)
	mux.HandleFunc("GET /v1/tasks/{id}", h.Get)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", h.Cancel)
	mux.HandleFunc("GET /v1/tasks/{id}/export", h.Export)
	mux.HandleFunc("GET /healthz", h.Health)

	var handler http.Handler = mux
	handler = Recovery(h.logger)(handler)
	handler = Logging(h.logger)(handler)
	handler = TraceID(handler)
	return handler
}

func (h *TaskHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := GetTraceID(r.Context())
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartSlack)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.handleError(w, "File too large", err, traceID, http.StatusRequestEntityTooLarge)
			return
		}
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "Failed to get file", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	f, err := h.service.Upload(r.Context(), tasks.UploadRequest{FileName: header.Filename, Body: file})
	if err != nil {
		h.handleServiceError(w, "Upload rejected", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusCreated, f)
}

func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	traceID := GetTraceID(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.handleError(w, "Failed to read body", err, traceID, http.StatusBadRequest)
		return
	}
	owner := r.Header.Get(userHeader)
	if owner == "" {
		owner = anonymousUser
	}
	ctx := common.WithUserID(r.Context(), owner)

	task, err := h.service.Submit(ctx, tasks.SubmitRequest{OwnerID: owner, Parameters: body, TraceID: traceID})
	if err != nil {
		h.handleServiceError(w, "Task submission rejected", err, traceID)
		return
	}
	h.logger.Info("task submitted", "trace_id", traceID, "task_id", task.ID, "owner_id", owner)
	h.respondJSON(w, http.StatusAccepted, task)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	traceID := GetTraceID(r.Context())
	task, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, "Failed to get task", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	traceID := GetTraceID(r.Context())
	task, err := h.service.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, "Failed to cancel task", err, traceID)
		return
	}
	h.respondJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Export(w http.ResponseWriter, r *http.Request) {
	traceID := GetTraceID(r.Context())
	id := r.PathValue("id")
	b, err := h.service.ExportXLSX(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, "Failed to export task", err, traceID)
		return
	}
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "task-"+id+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.handleError(w, "Database unavailable", err, GetTraceID(r.Context()), http.StatusServiceUnavailable)
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// httpStatus maps a gRPC status code from the service layer onto HTTP.
func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *TaskHandler) handleServiceError(w http.ResponseWriter, message string, err error, traceID string) {
	st, ok := status.FromError(err)
	if !ok {
		h.handleError(w, message, err, traceID, http.StatusInternalServerError)
		return
	}
	code := httpStatus(st.Code())
	if code < http.StatusInternalServerError {
		message = st.Message()
	}
	h.handleError(w, message, err, traceID, code)
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(context.Background(), level, message, "trace_id", traceID, "status", status, "error", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
