package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// CounselorRepository is the contact directory backing counselor
// notifications.
type CounselorRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewCounselorRepository creates a new counselor repository
func NewCounselorRepository(db *sqlx.DB, logger *slog.Logger) *CounselorRepository {
	return &CounselorRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// GetByID retrieves a counselor by ID
func (r *CounselorRepository) GetByID(ctx context.Context, id string) (*Counselor, error) {
	var counselor Counselor
	if err := r.db.GetContext(ctx, &counselor, `SELECT * FROM counselors WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("counselor %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get counselor by ID: %w", err)
	}
	return &counselor, nil
}
