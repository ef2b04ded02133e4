package async

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ProcessorQueue runs jobs in-process on a fixed worker pool. It is used for
// local runs where no Redis is available.
type ProcessorQueue struct {
	runner  TaskRunner
	logger  *slog.Logger
	workers int

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// sendMu guards closed and ch against close during a blocking send.
	sendMu sync.RWMutex
	closed bool

	mu      sync.Mutex
	pending map[uuid.UUID]bool
	running map[uuid.UUID]context.CancelFunc
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func NewProcessorQueue(runner TaskRunner, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		runner:  runner,
		logger:  logger,
		workers: 2,
		ch:      make(chan Job, 256),
		pending: make(map[uuid.UUID]bool),
		running: make(map[uuid.UUID]context.CancelFunc),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for job := range q.ch {
					q.process(workerID, job)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) process(workerID int, job Job) {
	// No deadline: a run ends on its own or through Revoke.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.mu.Lock()
	if !q.pending[job.TaskID] {
		q.mu.Unlock()
		q.logger.Info("skipping revoked job", "worker_id", workerID, "task_id", job.TaskID)
		return
	}
	delete(q.pending, job.TaskID)
	q.running[job.TaskID] = cancel
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.running, job.TaskID)
		q.mu.Unlock()
	}()

	out := q.runner.Run(ctx, job.TaskID)
	q.logger.Info("task run finished", "worker_id", workerID, "task_id", job.TaskID,
		"status", out.Status, "files", out.Files, "succeeded", out.Succeeded)
}

func (q *ProcessorQueue) Enqueue(_ context.Context, job Job) (string, error) {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "task_id", job.TaskID)
		return "", ErrQueueClosed
	}
	q.mu.Lock()
	q.pending[job.TaskID] = true
	q.mu.Unlock()
	select {
	case q.ch <- job:
		q.logger.Info("queued task for processing", "task_id", job.TaskID)
	default:
		q.logger.Warn("queue full, applying backpressure", "task_id", job.TaskID)
		q.ch <- job
	}
	return job.TaskID.String(), nil
}

// Revoke drops a pending job and cancels the context of a running one.
func (q *ProcessorQueue) Revoke(_ context.Context, handle string) error {
	id, err := uuid.Parse(handle)
	if err != nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[id] {
		delete(q.pending, id)
		q.logger.Info("revoked queued job", "task_id", id)
		return nil
	}
	if cancel, ok := q.running[id]; ok {
		cancel()
		q.logger.Info("sent cancel to running job", "task_id", id)
	}
	return nil
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.sendMu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
