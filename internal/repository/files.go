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
	"github.com/joseph-ayodele/docs-transducer/internal/entity"
)

type TaskFileRepository interface {
	Create(ctx context.Context, f *entity.TaskFile) (*entity.TaskFile, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.TaskFile, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*entity.TaskFile, error)
	// SetMetadata writes key once. It reports false when the key was already set.
	SetMetadata(ctx context.Context, id uuid.UUID, key string, value any) (bool, error)
}

type taskFileRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewTaskFileRepository(db *DB, logger *slog.Logger) TaskFileRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &taskFileRepo{
		db:     db,
		logger: logger,
	}
}

var taskFileColumns = []string{
	"id", "task_id", "file_name", "stored_name", "path", "file_type", "size_bytes", "metadata", "created_at",
}

func (r *taskFileRepo) Create(ctx context.Context, f *entity.TaskFile) (*entity.TaskFile, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Metadata == nil {
		f.Metadata = map[string]json.RawMessage{}
	}
	meta, err := json.Marshal(f.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	q, args := r.db.builder().Insert(taskFilesTable).
		Columns("id", "file_name", "stored_name", "path", "file_type", "size_bytes", "metadata", "created_at").
		Values(f.ID, f.FileName, f.StoredName, f.Path, string(f.FileType), f.SizeBytes, string(meta), f.CreatedAt).
		Query()
	if _, err := r.db.drv.DB().ExecContext(ctx, q, args...); err != nil {
		r.logger.Error("failed to create task file", "file_name", f.FileName, "path", f.Path, "error", err)
		return nil, err
	}
	return f, nil
}

func (r *taskFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.TaskFile, error) {
	b := r.db.builder()
	q, args := b.Select(taskFileColumns...).
		From(b.Table(taskFilesTable)).
		Where(entsql.EQ("id", id)).
		Query()
	f, err := scanTaskFile(r.db.drv.DB().QueryRowContext(ctx, q, args...))
	if err != nil {
		return nil, notFound(err, "get task file")
	}
	return f, nil
}

func (r *taskFileRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*entity.TaskFile, error) {
	b := r.db.builder()
	q, args := b.Select(taskFileColumns...).
		From(b.Table(taskFilesTable)).
		Where(entsql.EQ("task_id", taskID)).
		OrderBy("created_at", "id").
		Query()
	rows, err := r.db.drv.DB().QueryContext(ctx, q, args...)
	if err != nil {
		r.logger.Error("failed to list task files", "task_id", taskID, "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []*entity.TaskFile
	for rows.Next() {
		f, err := scanTaskFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *taskFileRepo) SetMetadata(ctx context.Context, id uuid.UUID, key string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode metadata %q: %w", key, err)
	}
	written := false
	b := r.db.builder()
	err = r.db.inTx(ctx, func(tx *sql.Tx) error {
		q, args := b.Select("metadata").
			From(b.Table(taskFilesTable)).
			Where(entsql.EQ("id", id)).
			Query()
		var current []byte
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&current); err != nil {
			return notFound(err, "load metadata")
		}
		meta := map[string]json.RawMessage{}
		if len(current) > 0 {
			if err := json.Unmarshal(current, &meta); err != nil {
				return fmt.Errorf("decode metadata: %w", err)
			}
		}
		if _, ok := meta[key]; ok {
			return nil
		}
		meta[key] = raw
		out, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		q, args = b.Update(taskFilesTable).
			Set("metadata", string(out)).
			Where(entsql.EQ("id", id)).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		r.logger.Error("failed to set task file metadata", "file_id", id, "key", key, "error", err)
		return false, err
	}
	if !written {
		r.logger.Debug("task file metadata already set", "file_id", id, "key", key)
	}
	return written, nil
}

func scanTaskFile(row rowScanner) (*entity.TaskFile, error) {
	var (
		f        entity.TaskFile
		taskID   uuid.NullUUID
		fileType string
		meta     []byte
	)
	if err := row.Scan(&f.ID, &taskID, &f.FileName, &f.StoredName, &f.Path, &fileType, &f.SizeBytes, &meta, &f.CreatedAt); err != nil {
		return nil, err
	}
	if taskID.Valid {
		id := taskID.UUID
		f.TaskID = &id
	}
	f.FileType = constants.FileType(fileType)
	f.Metadata = map[string]json.RawMessage{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &f.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &f, nil
}
