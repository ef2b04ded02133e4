package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/joseph-ayodele/docs-transducer/internal/common"
)

type WorkerConfig struct {
	Concurrency int
	Queue       string
}

// Worker consumes TypeRunTask jobs from Redis and runs them through the orchestrator.
type Worker struct {
	server *asynq.Server
	runner TaskRunner
	log    *slog.Logger
}

func NewWorker(redisOpt asynq.RedisClientOpt, cfg WorkerConfig, runner TaskRunner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	con := cfg.Concurrency
	if con <= 0 {
		con = 2
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      map[string]int{queue: 1},
		Logger:      slogAdapter{logger},
	})
	return &Worker{server: server, runner: runner, log: logger}
}

// Mux returns the handler set the worker serves.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRunTask, w.handleRunTask)
	return mux
}

// Start runs the server in the background; use Shutdown to stop it.
func (w *Worker) Start() error {
	return w.server.Start(w.Mux())
}

func (w *Worker) Shutdown() { w.server.Shutdown() }

func (w *Worker) handleRunTask(ctx context.Context, t *asynq.Task) error {
	var job Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		w.log.Error("invalid job payload", "error", err)
		return fmt.Errorf("decode job: %v: %w", err, asynq.SkipRetry)
	}
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}
	ctx = common.WithTaskID(ctx, job.TaskID.String())

	runCtx, stop := withoutDeadline(ctx)
	defer stop()
	out := w.runner.Run(runCtx, job.TaskID)
	w.log.Info("task run finished", "task_id", job.TaskID, "status", out.Status,
		"files", out.Files, "succeeded", out.Succeeded, "reason", out.Reason)
	// The outcome is already persisted; a retry would only repeat a terminal task.
	return nil
}

// withoutDeadline keeps the values of parent and follows its explicit
// cancellation (CancelProcessing, server shutdown) but not its deadline.
func withoutDeadline(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	unregister := context.AfterFunc(parent, func() {
		if errors.Is(parent.Err(), context.Canceled) {
			cancel()
		}
	})
	return ctx, func() {
		unregister()
		cancel()
	}
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...), "component", "asynq") }
func (a slogAdapter) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}
