package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tasksTable     = "tasks"
	taskFilesTable = "task_files"
)

var (
	// TasksColumns holds the columns for the "tasks" table.
	TasksColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "owner_id", Type: field.TypeString, Size: 128},
		{Name: "status", Type: field.TypeString, Size: 32},
		{Name: "parameters", Type: field.TypeJSON},
		{Name: "result", Type: field.TypeJSON, Nullable: true},
		{Name: "cancel_requested", Type: field.TypeBool, Default: false},
		{Name: "error", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "queue_job_id", Type: field.TypeString, Nullable: true, Size: 128},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "started_at", Type: field.TypeTime, Nullable: true},
		{Name: "completed_at", Type: field.TypeTime, Nullable: true},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// TasksTable holds the schema information for the "tasks" table.
	TasksTable = &schema.Table{
		Name:       tasksTable,
		Columns:    TasksColumns,
		PrimaryKey: []*schema.Column{TasksColumns[0]},
		Indexes: []*schema.Index{
			{Name: "task_owner_id_status_created_at", Columns: []*schema.Column{TasksColumns[1], TasksColumns[2], TasksColumns[8]}},
		},
	}
	// TaskFilesColumns holds the columns for the "task_files" table.
	TaskFilesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "file_name", Type: field.TypeString, Size: 512},
		{Name: "stored_name", Type: field.TypeString, Size: 256},
		{Name: "path", Type: field.TypeString, Size: 2048},
		{Name: "file_type", Type: field.TypeString, Size: 16},
		{Name: "size_bytes", Type: field.TypeInt64},
		{Name: "metadata", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "task_id", Type: field.TypeUUID, Nullable: true},
	}
	// TaskFilesTable holds the schema information for the "task_files" table.
	TaskFilesTable = &schema.Table{
		Name:       taskFilesTable,
		Columns:    TaskFilesColumns,
		PrimaryKey: []*schema.Column{TaskFilesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "task_files_tasks_files",
				Columns:    []*schema.Column{TaskFilesColumns[8]},
				RefColumns: []*schema.Column{TasksColumns[0]},
				OnDelete:   schema.SetNull,
			},
		},
		Indexes: []*schema.Index{
			{Name: "taskfile_task_id", Columns: []*schema.Column{TaskFilesColumns[8]}},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		TasksTable,
		TaskFilesTable,
	}
)

func init() {
	TaskFilesTable.ForeignKeys[0].RefTable = TasksTable
}

// Migrate creates or upgrades the tables used by this service.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(d.drv)
	if err != nil {
		return fmt.Errorf("ent/migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		d.log.Error("schema migration failed", "error", err)
		return fmt.Errorf("ent/migrate: create: %w", err)
	}
	d.log.Info("schema migration applied", "tables", len(Tables))
	return nil
}
