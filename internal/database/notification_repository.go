package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// NotificationRepository persists outbound delivery attempts.
type NotificationRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sqlx.DB, logger *slog.Logger) *NotificationRepository {
	return &NotificationRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create inserts a pending notification record.
func (r *NotificationRepository) Create(ctx context.Context, notification *Notification) error {
	notification.CreatedAt = time.Now().UTC()
	if notification.Status == "" {
		notification.Status = NotificationStatusPending
	}

	query := `
		INSERT INTO notifications (
			id, channel, recipient, subject, body, status, error, sent_at, created_at
		) VALUES (
			:id, :channel, :recipient, :subject, :body, :status, :error, :sent_at, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		r.logger.Error("Failed to create notification record",
			"notification_id", notification.ID,
			"error", err)
		return fmt.Errorf("failed to create notification record: %w", err)
	}
	return nil
}

// MarkSent records a successful delivery.
func (r *NotificationRepository) MarkSent(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = $2, sent_at = NOW() WHERE id = $1`,
		id, NotificationStatusSent); err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery with its error.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id, deliveryErr string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET status = $2, error = $3 WHERE id = $1`,
		id, NotificationStatusFailed, deliveryErr); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}
