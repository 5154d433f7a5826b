// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"research_workflow_engine/internal/domain/notification"
)

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

const notificationColumns = `id, type, status, title, message, recipient_category, recipient_ref, recipient_email,
       recipient_name, scheduled_for, sent_at, retry_count, last_error, metadata, guard_status_record_id,
       created_at, updated_at`

func scanNotification(row interface{ Scan(...any) error }) (*notification.Notification, error) {
	n := notification.Notification{}
	var recipientRef, lastError, guardID sql.NullString
	var sentAt sql.NullTime
	var metadata []byte
	err := row.Scan(&n.ID, &n.Type, &n.Status, &n.Title, &n.Message, &n.RecipientCategory, &recipientRef,
		&n.RecipientEmail, &n.RecipientName, &n.ScheduledFor, &sentAt, &n.RetryCount, &lastError, &metadata,
		&guardID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.RecipientRef = stringPtr(recipientRef)
	n.SentAt = timePtr(sentAt)
	n.LastError = stringPtr(lastError)
	n.GuardStatusRecordID = stringPtr(guardID)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("error decoding notification metadata: %w", err)
		}
		if len(n.Metadata) == 0 {
			n.Metadata = nil
		}
	}
	return &n, nil
}

func (r *PostgresNotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	metadata := []byte("{}")
	if len(n.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(n.Metadata); err != nil {
			return fmt.Errorf("error encoding notification metadata: %w", err)
		}
	}
	query := `INSERT INTO notifications (` + notificationColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := r.db.ExecContext(ctx, query, n.ID, n.Type, n.Status, n.Title, n.Message, n.RecipientCategory,
		nullString(n.RecipientRef), n.RecipientEmail, n.RecipientName, n.ScheduledFor, n.SentAt, n.RetryCount,
		nullString(n.LastError), metadata, nullString(n.GuardStatusRecordID), n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating notification: %w", err)
	}
	return nil
}

func (r *PostgresNotificationRepository) GetByID(ctx context.Context, id string) (*notification.Notification, error) {
	if !isUUID(id) {
		return nil, notification.ErrNotFound
	}
	n, err := scanNotification(r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("error getting notification by ID: %w", err)
	}
	return n, nil
}

func (r *PostgresNotificationRepository) ListByStatus(ctx context.Context, st notification.Status) ([]*notification.Notification, error) {
	return r.List(ctx, notification.Filter{Status: st})
}

func (r *PostgresNotificationRepository) List(ctx context.Context, filter notification.Filter) ([]*notification.Notification, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RecipientCategory != "" {
		args = append(args, filter.RecipientCategory)
		where = append(where, fmt.Sprintf("recipient_category = $%d", len(args)))
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_for, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning notification: %w", err)
		}
		out = append(out, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, nil
}

func (r *PostgresNotificationRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	return r.conditionalUpdate(ctx, id, `UPDATE notifications SET status = 'SENT', sent_at = $2, updated_at = $2
              WHERE id = $1 AND status = 'PENDING'`, id, sentAt)
}

func (r *PostgresNotificationRepository) MarkCancelled(ctx context.Context, id string, reason *string, at time.Time) error {
	return r.conditionalUpdate(ctx, id, `UPDATE notifications
              SET status = 'CANCELLED', last_error = COALESCE($2, last_error), updated_at = $3
              WHERE id = $1 AND status = 'PENDING'`, id, nullString(reason), at)
}

func (r *PostgresNotificationRepository) MarkFailed(ctx context.Context, id string, lastError string, at time.Time) error {
	return r.conditionalUpdate(ctx, id, `UPDATE notifications SET status = 'FAILED', last_error = $2, updated_at = $3
              WHERE id = $1 AND status = 'PENDING'`, id, lastError, at)
}

func (r *PostgresNotificationRepository) RecordRetry(ctx context.Context, id string, expectedRetryCount int, nextAt time.Time, lastError string, at time.Time) error {
	return r.conditionalUpdate(ctx, id, `UPDATE notifications
              SET retry_count = retry_count + 1, scheduled_for = $3, last_error = $4, updated_at = $5
              WHERE id = $1 AND status = 'PENDING' AND retry_count = $2`, id, expectedRetryCount, nextAt, lastError, at)
}

// conditionalUpdate runs a guarded UPDATE and tells a missing row apart from
// one that no longer matches the guard.
func (r *PostgresNotificationRepository) conditionalUpdate(ctx context.Context, id, query string, args ...any) error {
	if !isUUID(id) {
		return notification.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error updating notification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("error checking notification existence: %w", err)
	}
	if !exists {
		return notification.ErrNotFound
	}
	return notification.ErrNotPending
}
