package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/common"
	"github.com/joseph-ayodele/docs-transducer/internal/entity"
)

// TaskRepository persists tasks. Every status write is conditional on the task
// not being terminal, so SUCCEEDED/FAILED/CANCELLED are never overwritten.
type TaskRepository interface {
	CreateWithFiles(ctx context.Context, task *entity.Task) (*entity.Task, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Task, error)
	GetCancelState(ctx context.Context, id uuid.UUID) (entity.CancelState, error)
	MarkQueued(ctx context.Context, id uuid.UUID, queueJobID string) (bool, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	SaveResult(ctx context.Context, id uuid.UUID, results []entity.FileResult) error
	Finish(ctx context.Context, id uuid.UUID, status constants.TaskStatus, results []entity.FileResult, reason *string, completedAt time.Time) (bool, error)
	BackfillCompletedAt(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	RequestCancel(ctx context.Context, id uuid.UUID) error
	MarkCancelled(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error)
	AppendJobHandle(ctx context.Context, id uuid.UUID, handle entity.JobHandle) error
}

type taskRepo struct {
	db  *DB
	log *slog.Logger
}

func NewTaskRepository(db *DB, log *slog.Logger) TaskRepository {
	if log == nil {
		log = slog.Default()
	}
	return &taskRepo{db: db, log: log}
}

var taskColumns = []string{
	"id", "owner_id", "status", "parameters", "result", "cancel_requested",
	"error", "queue_job_id", "created_at", "started_at", "completed_at", "updated_at",
}

func terminalArgs() []any {
	out := make([]any, 0, len(constants.TerminalTaskStatuses))
	for _, s := range constants.TerminalTaskStatuses {
		out = append(out, string(s))
	}
	return out
}

// CreateWithFiles inserts the task in CREATED and binds every file in
// task.Parameters.FileIDs to it, in one transaction. A file that is missing or
// already bound to another task aborts the whole insert.
func (r *taskRepo) CreateWithFiles(ctx context.Context, task *entity.Task) (*entity.Task, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now().UTC()
	task.Status = constants.TaskStatusCreated
	task.CreatedAt = now
	task.UpdatedAt = now

	params, err := json.Marshal(task.Parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	results, err := json.Marshal(emptyIfNil(task.Result))
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	b := r.db.builder()
	err = r.db.inTx(ctx, func(tx *sql.Tx) error {
		q, args := b.Insert(tasksTable).
			Columns("id", "owner_id", "status", "parameters", "result", "cancel_requested", "created_at", "updated_at").
			Values(task.ID, task.OwnerID, string(task.Status), string(params), string(results), false, now, now).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if len(task.Parameters.FileIDs) == 0 {
			return nil
		}
		ids := make([]any, 0, len(task.Parameters.FileIDs))
		for _, id := range task.Parameters.FileIDs {
			ids = append(ids, id)
		}
		q, args = b.Update(taskFilesTable).
			Set("task_id", task.ID).
			Where(entsql.And(entsql.In("id", ids...), entsql.IsNull("task_id"))).
			Query()
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("bind files: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("bind files: %w", err)
		}
		if int(n) != len(task.Parameters.FileIDs) {
			return common.NewAppError("FILES_UNAVAILABLE",
				fmt.Sprintf("bound %d of %d files; the rest are missing or belong to another task", n, len(task.Parameters.FileIDs)),
				common.ErrInvalidState)
		}
		return nil
	})
	if err != nil {
		r.log.Error("task create failed", "task_id", task.ID, "error", err)
		return nil, err
	}
	r.log.Info("task created", "task_id", task.ID, "owner_id", task.OwnerID, "files", len(task.Parameters.FileIDs))
	return task, nil
}

func (r *taskRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Task, error) {
	b := r.db.builder()
	q, args := b.Select(taskColumns...).
		From(b.Table(tasksTable)).
		Where(entsql.EQ("id", id)).
		Query()
	t, err := scanTask(r.db.drv.DB().QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, notFound(err, "get task")
	}
	return t, nil
}

func (r *taskRepo) GetCancelState(ctx context.Context, id uuid.UUID) (entity.CancelState, error) {
	b := r.db.builder()
	q, args := b.Select("status", "cancel_requested").
		From(b.Table(tasksTable)).
		Where(entsql.EQ("id", id)).
		Query()
	var (
		status string
		flag   bool
	)
	if err := r.db.drv.DB().QueryRowContext(ctx, q, args...).Scan(&status, &flag); err != nil {
		return entity.CancelState{}, notFound(err, "get cancel state")
	}
	return entity.CancelState{Status: constants.TaskStatus(status), CancelRequested: flag}, nil
}

func (r *taskRepo) MarkQueued(ctx context.Context, id uuid.UUID, queueJobID string) (bool, error) {
	b := r.db.builder()
	q, args := b.Update(tasksTable).
		Set("status", string(constants.TaskStatusQueued)).
		Set("queue_job_id", queueJobID).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("status", string(constants.TaskStatusCreated)))).
		Query()
	return r.execConditional(ctx, "mark queued", id, q, args)
}

func (r *taskRepo) MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	b := r.db.builder()
	q, args := b.Update(tasksTable).
		Set("status", string(constants.TaskStatusProcessing)).
		Set("started_at", startedAt.UTC()).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.NotIn("status", terminalArgs()...))).
		Query()
	return r.execConditional(ctx, "mark processing", id, q, args)
}

func (r *taskRepo) SaveResult(ctx context.Context, id uuid.UUID, results []entity.FileResult) error {
	raw, err := json.Marshal(emptyIfNil(results))
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	b := r.db.builder()
	q, args := b.Update(tasksTable).
		Set("result", string(raw)).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.NotIn("status", terminalArgs()...))).
		Query()
	_, err = r.execConditional(ctx, "save result", id, q, args)
	return err
}

func (r *taskRepo) Finish(ctx context.Context, id uuid.UUID, status constants.TaskStatus, results []entity.FileResult, reason *string, completedAt time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("finish task with non-terminal status %q: %w", status, common.ErrInvalidInput)
	}
	raw, err := json.Marshal(emptyIfNil(results))
	if err != nil {
		return false, fmt.Errorf("encode result: %w", err)
	}
	b := r.db.builder()
	u := b.Update(tasksTable).
		Set("status", string(status)).
		Set("result", string(raw)).
		Set("completed_at", completedAt.UTC()).
		Set("updated_at", time.Now().UTC())
	if reason != nil {
		u = u.Set("error", *reason)
	}
	q, args := u.Where(entsql.And(entsql.EQ("id", id), entsql.NotIn("status", terminalArgs()...))).Query()
	ok, err := r.execConditional(ctx, "finish", id, q, args)
	if err == nil && ok {
		r.log.Info("task finished", "task_id", id, "status", status)
	}
	return ok, err
}

func (r *taskRepo) BackfillCompletedAt(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	b := r.db.builder()
	q, args := b.Update(tasksTable).
		Set("completed_at", completedAt.UTC()).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.IsNull("completed_at"))).
		Query()
	_, err := r.execConditional(ctx, "backfill completed_at", id, q, args)
	return err
}

func (r *taskRepo) RequestCancel(ctx context.Context, id uuid.UUID) error {
	b := r.db.builder()
	q, args := b.Update(tasksTable).
		Set("cancel_requested", true).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id)).
		Query()
	ok, err := r.execConditional(ctx, "request cancel", id, q, args)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("request cancel: %w", common.ErrNotFound)
	}
	return nil
}

func (r *taskRepo) MarkCancelled(ctx context.Context, id uuid.UUID, completedAt time.Time) (bool, error) {
	b := r.db.builder()
	q, args := b.Update(tasksTable).
		Set("status", string(constants.TaskStatusCancelled)).
		Set("completed_at", completedAt.UTC()).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(entsql.EQ("id", id), entsql.NotIn("status", terminalArgs()...))).
		Query()
	return r.execConditional(ctx, "mark cancelled", id, q, args)
}

// AppendJobHandle appends to parameters.job_handles inside a transaction.
func (r *taskRepo) AppendJobHandle(ctx context.Context, id uuid.UUID, handle entity.JobHandle) error {
	b := r.db.builder()
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		q, args := b.Select("parameters").
			From(b.Table(tasksTable)).
			Where(entsql.EQ("id", id)).
			Query()
		var raw []byte
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&raw); err != nil {
			return notFound(err, "load parameters")
		}
		var params entity.TaskParameters
		if err := json.Unmarshal(raw, &params); err != nil {
			return fmt.Errorf("decode parameters: %w", err)
		}
		params.JobHandles = append(params.JobHandles, handle)
		out, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode parameters: %w", err)
		}
		q, args = b.Update(tasksTable).
			Set("parameters", string(out)).
			Set("updated_at", time.Now().UTC()).
			Where(entsql.EQ("id", id)).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store parameters: %w", err)
		}
		return nil
	})
}

func (r *taskRepo) execConditional(ctx context.Context, op string, id uuid.UUID, q string, args []any) (bool, error) {
	res, err := r.db.drv.DB().ExecContext(ctx, q, args...)
	if err != nil {
		r.log.Error("task update failed", "op", op, "task_id", id, "error", err)
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		r.log.Debug("task update skipped", "op", op, "task_id", id)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*entity.Task, error) {
	var (
		t                      entity.Task
		status                 string
		params, result         []byte
		errMsg, queueJobID     sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &status, &params, &result, &t.CancelRequested,
		&errMsg, &queueJobID, &t.CreatedAt, &startedAt, &completedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = constants.TaskStatus(status)
	if err := json.Unmarshal(params, &t.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &t.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if errMsg.Valid {
		t.Error = &errMsg.String
	}
	if queueJobID.Valid {
		t.QueueJobID = &queueJobID.String
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		t.CompletedAt = &v
	}
	return &t, nil
}

func emptyIfNil(results []entity.FileResult) []entity.FileResult {
	if results == nil {
		return []entity.FileResult{}
	}
	return results
}
