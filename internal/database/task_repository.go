package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// TaskRepository handles counselor task storage.
type TaskRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sqlx.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, task *Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = TaskStatusOpen
	}

	query := `
		INSERT INTO tasks (
			id, title, description, assignee_id, client_id, status,
			due_at, overdue_notified, created_at, updated_at
		) VALUES (
			:id, :title, :description, :assignee_id, :client_id, :status,
			:due_at, :overdue_notified, :created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		r.logger.Error("Failed to create task", "task_id", task.ID, "error", err)
		return fmt.Errorf("failed to create task: %w", err)
	}

	r.logger.Info("Task created", "task_id", task.ID, "assignee_id", task.AssigneeID, "due_at", task.DueAt)
	return nil
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := r.db.GetContext(ctx, &task, `SELECT * FROM tasks WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task by ID: %w", err)
	}
	return &task, nil
}

// Complete marks a task completed.
func (r *TaskRepository) Complete(ctx context.Context, id string) error {
	query := `
		UPDATE tasks SET
			status = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = $3`

	result, err := r.db.ExecContext(ctx, query, id, TaskStatusCompleted, TaskStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("open task %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListOverdue retrieves open tasks past their due date that have not yet been
// announced on the bus.
func (r *TaskRepository) ListOverdue(ctx context.Context, now time.Time) ([]*Task, error) {
	query := `
		SELECT * FROM tasks
		WHERE status = $1 AND due_at < $2 AND overdue_notified = false
		ORDER BY due_at ASC`

	var tasks []*Task
	if err := r.db.SelectContext(ctx, &tasks, query, TaskStatusOpen, now); err != nil {
		return nil, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	return tasks, nil
}

// MarkOverdueNotified records that a task.overdue event was published for a
// task, so each task is announced at most once.
func (r *TaskRepository) MarkOverdueNotified(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET overdue_notified = true, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark task overdue-notified: %w", err)
	}
	return nil
}
