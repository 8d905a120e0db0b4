package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// AssignmentRepository handles assessment assignment storage.
type AssignmentRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *sqlx.DB, logger *slog.Logger) *AssignmentRepository {
	return &AssignmentRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a new assessment assignment.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *AssessmentAssignment) error {
	assignment.CreatedAt = time.Now().UTC()
	if assignment.Status == "" {
		assignment.Status = "assigned"
	}

	query := `
		INSERT INTO assessment_assignments (
			id, client_id, assessment_id, assessment_type, due_at, status, created_at
		) VALUES (
			:id, :client_id, :assessment_id, :assessment_type, :due_at, :status, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		r.logger.Error("Failed to create assessment assignment",
			"assignment_id", assignment.ID,
			"client_id", assignment.ClientID,
			"error", err)
		return fmt.Errorf("failed to create assessment assignment: %w", err)
	}

	r.logger.Info("Assessment assigned",
		"assignment_id", assignment.ID,
		"client_id", assignment.ClientID,
		"assessment_type", assignment.AssessmentType,
		"due_at", assignment.DueAt)
	return nil
}

// ListByClient retrieves assignments for a client, newest first.
func (r *AssignmentRepository) ListByClient(ctx context.Context, clientID string) ([]*AssessmentAssignment, error) {
	query := `
		SELECT * FROM assessment_assignments
		WHERE client_id = $1
		ORDER BY created_at DESC`

	var assignments []*AssessmentAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, clientID); err != nil {
		return nil, fmt.Errorf("failed to list assignments by client: %w", err)
	}
	return assignments, nil
}
