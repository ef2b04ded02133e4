package async

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/pipeline"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeRunner struct {
	mu      sync.Mutex
	ran     []uuid.UUID
	block   chan struct{}
	started chan uuid.UUID
	ctxErr  error
	// deadlines records whether each run's context carried a deadline.
	deadlines []bool
}

func (f *fakeRunner) Run(ctx context.Context, taskID uuid.UUID) pipeline.Outcome {
	_, hasDeadline := ctx.Deadline()
	f.mu.Lock()
	f.deadlines = append(f.deadlines, hasDeadline)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- taskID
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			f.mu.Lock()
			f.ctxErr = ctx.Err()
			f.mu.Unlock()
		}
	}
	f.mu.Lock()
	f.ran = append(f.ran, taskID)
	f.mu.Unlock()
	return pipeline.Outcome{TaskID: taskID, Status: constants.TaskStatusSucceeded}
}

func (f *fakeRunner) snapshot() ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.ran...), f.ctxErr
}

func pollUntil(t *testing.T, timeout time.Duration, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestProcessorQueue_RunsJobs(t *testing.T) {
	r := &fakeRunner{}
	q := NewProcessorQueue(r, discard(), WithWorkers(2))
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		handle, err := q.Enqueue(context.Background(), Job{TaskID: id})
		if err != nil || handle != id.String() {
			t.Fatalf("Enqueue = %q, %v", handle, err)
		}
	}
	q.Shutdown(context.Background())

	ran, _ := r.snapshot()
	if len(ran) != len(ids) {
		t.Fatalf("ran %d jobs, want %d", len(ran), len(ids))
	}
	if _, err := q.Enqueue(context.Background(), Job{TaskID: uuid.New()}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Enqueue after shutdown = %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.deadlines {
		if d {
			t.Fatalf("run %d had a deadline on its context", i)
		}
	}
}

func TestProcessorQueue_RevokePendingAndRunning(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{}), started: make(chan uuid.UUID, 2)}
	q := NewProcessorQueue(r, discard(), WithWorkers(1))
	running, pending := uuid.New(), uuid.New()

	if _, err := q.Enqueue(context.Background(), Job{TaskID: running}); err != nil {
		t.Fatal(err)
	}
	<-r.started
	if _, err := q.Enqueue(context.Background(), Job{TaskID: pending}); err != nil {
		t.Fatal(err)
	}

	if err := q.Revoke(context.Background(), pending.String()); err != nil {
		t.Fatal(err)
	}
	if err := q.Revoke(context.Background(), running.String()); err != nil {
		t.Fatal(err)
	}
	if err := q.Revoke(context.Background(), "not-a-uuid"); err != nil {
		t.Fatalf("unknown handle = %v", err)
	}
	q.Shutdown(context.Background())

	ran, ctxErr := r.snapshot()
	if len(ran) != 1 || ran[0] != running {
		t.Fatalf("ran = %v, want only the running job", ran)
	}
	if !errors.Is(ctxErr, context.Canceled) {
		t.Fatalf("running job ctx err = %v, want Canceled", ctxErr)
	}
}

func TestAsynqQueue_EnqueueAndRevoke(t *testing.T) {
	s := miniredis.RunT(t)
	redisOpt := asynq.RedisClientOpt{Addr: s.Addr()}
	q := NewAsynqQueue(redisOpt, "documents", discard())
	defer q.Shutdown(context.Background())
	ctx := context.Background()
	id := uuid.New()

	handle, err := q.Enqueue(ctx, Job{TaskID: id, SubmittedAt: time.Now()})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if handle != id.String() {
		t.Fatalf("handle = %q, want task id", handle)
	}
	if _, err := q.Enqueue(ctx, Job{TaskID: id}); !errors.Is(err, asynq.ErrTaskIDConflict) {
		t.Fatalf("duplicate Enqueue = %v, want ErrTaskIDConflict", err)
	}

	insp := asynq.NewInspector(redisOpt)
	defer insp.Close()
	info, err := insp.GetTaskInfo("documents", handle)
	if err != nil {
		t.Fatalf("GetTaskInfo: %v", err)
	}
	if info.Timeout != runTimeout || !info.Deadline.IsZero() {
		t.Fatalf("timeout = %v deadline = %v, want %v and no deadline", info.Timeout, info.Deadline, runTimeout)
	}
	if info.MaxRetry != 0 {
		t.Fatalf("max retry = %d", info.MaxRetry)
	}

	if err := q.Revoke(ctx, handle); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := insp.GetTaskInfo("documents", handle); !errors.Is(err, asynq.ErrTaskNotFound) {
		t.Fatalf("task still present after revoke: %v", err)
	}
	if err := q.Revoke(ctx, handle); err != nil {
		t.Fatalf("second Revoke = %v, want nil", err)
	}
}

func TestWorker_RunsEnqueuedTask(t *testing.T) {
	s := miniredis.RunT(t)
	redisOpt := asynq.RedisClientOpt{Addr: s.Addr()}
	r := &fakeRunner{}
	w := NewWorker(redisOpt, WorkerConfig{Concurrency: 1, Queue: "documents"}, r, discard())
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Shutdown()

	q := NewAsynqQueue(redisOpt, "documents", discard())
	defer q.Shutdown(context.Background())
	id := uuid.New()
	if _, err := q.Enqueue(context.Background(), Job{TaskID: id, TraceID: "trace-1"}); err != nil {
		t.Fatal(err)
	}

	pollUntil(t, 5*time.Second, func() bool {
		ran, _ := r.snapshot()
		return len(ran) == 1 && ran[0] == id
	})
}

func TestWorker_HandlerDropsDeadlineButKeepsCancel(t *testing.T) {
	s := miniredis.RunT(t)
	r := &fakeRunner{block: make(chan struct{}), started: make(chan uuid.UUID, 1)}
	w := NewWorker(asynq.RedisClientOpt{Addr: s.Addr()}, WorkerConfig{Queue: "documents"}, r, discard())

	payload, _ := json.Marshal(Job{TaskID: uuid.New()})
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	done := make(chan error, 1)
	go func() { done <- w.handleRunTask(ctx, asynq.NewTask(TypeRunTask, payload)) }()

	<-r.started
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handleRunTask = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return after cancellation")
	}

	_, ctxErr := r.snapshot()
	if !errors.Is(ctxErr, context.Canceled) {
		t.Fatalf("runner ctx err = %v, want Canceled", ctxErr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.deadlines) != 1 || r.deadlines[0] {
		t.Fatalf("deadlines = %v, want one run without a deadline", r.deadlines)
	}
}

func TestWithoutDeadline_IgnoresExpiry(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	ctx, stop := withoutDeadline(parent)
	defer stop()

	<-parent.Done()
	time.Sleep(20 * time.Millisecond)
	if err := ctx.Err(); err != nil {
		t.Fatalf("ctx ended with parent deadline: %v", err)
	}
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("ctx carries a deadline")
	}
}
