package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ExecutionRepository is the append-only execution log. Records are never
// updated after insertion; they exist for audit and debugging.
type ExecutionRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *sqlx.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Append persists one execution record.
func (r *ExecutionRepository) Append(ctx context.Context, execution *WorkflowExecution) error {
	query := `
		INSERT INTO workflow_executions (
			id, rule_id, triggered_by, context, actions, success, error, executed_at
		) VALUES (
			:id, :rule_id, :triggered_by, :context, :actions, :success, :error, :executed_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, execution); err != nil {
		r.logger.Error("Failed to append execution record",
			"execution_id", execution.ID,
			"rule_id", execution.RuleID,
			"error", err)
		return fmt.Errorf("failed to append execution record: %w", err)
	}

	return nil
}

// ListByRule retrieves the most recent executions for a rule.
func (r *ExecutionRepository) ListByRule(ctx context.Context, ruleID string, limit int) ([]*WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT * FROM workflow_executions
		WHERE rule_id = $1
		ORDER BY executed_at DESC
		LIMIT $2`

	var executions []*WorkflowExecution
	if err := r.db.SelectContext(ctx, &executions, query, ruleID, limit); err != nil {
		return nil, fmt.Errorf("failed to list executions by rule: %w", err)
	}

	return executions, nil
}

// ListRecent retrieves the most recent executions across all rules.
func (r *ExecutionRepository) ListRecent(ctx context.Context, limit int) ([]*WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT * FROM workflow_executions
		ORDER BY executed_at DESC
		LIMIT $1`

	var executions []*WorkflowExecution
	if err := r.db.SelectContext(ctx, &executions, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent executions: %w", err)
	}

	return executions, nil
}

// DeleteOlderThan removes execution records past the retention horizon.
func (r *ExecutionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM workflow_executions WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old executions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		r.logger.Info("Pruned execution records", "deleted", rows, "cutoff", cutoff)
	}
	return rows, nil
}
