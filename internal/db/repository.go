package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// Repository is the durable mirror behind the in-memory engine. One row
// per notification keyed by id with a secondary index on
// (recipient_id, created_at); one row per recipient's settings. The
// engine hydrates a recipient's set from here on first access and mirrors
// every mutation back.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// SaveNotification inserts a newly classified notification.
func (r *Repository) SaveNotification(ctx context.Context, n *notify.Notification) error {
	actions, err := json.Marshal(n.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	query := `
		INSERT INTO notifications (
			id, recipient_id, title, message, type, priority, category,
			sender_id, sender_name, sender_role,
			project_id, task_id, file_id, comment_id, room_id,
			is_read, is_archived, is_pinned,
			created_at, read_at, archived_at, pinned_at, expires_at, actions
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18,
			$19, $20, $21, $22, $23, $24
		)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		n.ID, n.RecipientID, n.Title, n.Message, n.Type, n.Priority, n.Category,
		n.SenderID, n.SenderName, n.SenderRole,
		n.ProjectID, n.TaskID, n.FileID, n.CommentID, n.RoomID,
		n.IsRead, n.IsArchived, n.IsPinned,
		n.CreatedAt, n.ReadAt, n.ArchivedAt, n.PinnedAt, n.ExpiresAt, actions,
	)
	if err != nil {
		r.logger.Error("failed to insert notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// UpdateFlags mirrors a lifecycle transition: the three flags and their
// paired timestamps, nothing else (everything else is immutable).
func (r *Repository) UpdateFlags(ctx context.Context, n *notify.Notification) error {
	query := `
		UPDATE notifications
		SET is_read = $1, is_archived = $2, is_pinned = $3,
		    read_at = $4, archived_at = $5, pinned_at = $6
		WHERE id = $7
	`

	result, err := r.db.Pool().Exec(ctx, query,
		n.IsRead, n.IsArchived, n.IsPinned,
		n.ReadAt, n.ArchivedAt, n.PinnedAt, n.ID,
	)
	if err != nil {
		return fmt.Errorf("update notification flags: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

// DeleteNotification removes a notification permanently.
func (r *Repository) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notify.ErrNotFound
	}
	return nil
}

// LoadRecipient returns a recipient's full stored set, newest first.
func (r *Repository) LoadRecipient(ctx context.Context, recipientID string) ([]*notify.Notification, error) {
	query := `
		SELECT
			id, recipient_id, title, message, type, priority, category,
			sender_id, sender_name, sender_role,
			project_id, task_id, file_id, comment_id, room_id,
			is_read, is_archived, is_pinned,
			created_at, read_at, archived_at, pinned_at, expires_at, actions
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*notify.Notification
	for rows.Next() {
		var n notify.Notification
		var actions []byte
		err := rows.Scan(
			&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.Type, &n.Priority, &n.Category,
			&n.SenderID, &n.SenderName, &n.SenderRole,
			&n.ProjectID, &n.TaskID, &n.FileID, &n.CommentID, &n.RoomID,
			&n.IsRead, &n.IsArchived, &n.IsPinned,
			&n.CreatedAt, &n.ReadAt, &n.ArchivedAt, &n.PinnedAt, &n.ExpiresAt, &actions,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &n.Actions); err != nil {
				return nil, fmt.Errorf("unmarshal actions: %w", err)
			}
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// LoadSettings returns the stored settings for a recipient, or nil when
// none exist yet (the preference store then constructs defaults).
func (r *Repository) LoadSettings(ctx context.Context, recipientID string) (*notify.Settings, error) {
	var raw []byte
	err := r.db.Pool().QueryRow(ctx,
		`SELECT settings FROM notification_settings WHERE recipient_id = $1`,
		recipientID,
	).Scan(&raw)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}

	var s notify.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return &s, nil
}

// SaveSettings upserts a recipient's settings document.
func (r *Repository) SaveSettings(ctx context.Context, recipientID string, s *notify.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	query := `
		INSERT INTO notification_settings (recipient_id, settings, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (recipient_id)
		DO UPDATE SET settings = EXCLUDED.settings, updated_at = NOW()
	`

	if _, err := r.db.Pool().Exec(ctx, query, recipientID, raw); err != nil {
		r.logger.Error("failed to save settings",
			zap.Error(err),
			zap.String("recipient_id", recipientID),
		)
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}
