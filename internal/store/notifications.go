package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ListNotifications returns the viewer's notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID int64) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT n.id, n.message, n.created_at, un.is_read
        FROM user_notifications un
        JOIN notifications n ON n.id = un.notification_id
        WHERE un.user_id = ?
        ORDER BY n.created_at DESC, n.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Message, &n.CreatedAt, &n.IsRead); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID int64, notificationID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE user_notifications SET is_read = TRUE WHERE user_id = ? AND notification_id = ?",
		userID, notificationID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE user_notifications SET is_read = TRUE WHERE user_id = ? AND is_read = FALSE", userID)
	if err != nil {
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return nil
}

// DeleteUserNotification removes the viewer's join row; the broadcast message survives.
func (s *SQLiteStore) DeleteUserNotification(ctx context.Context, userID int64, notificationID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM user_notifications WHERE user_id = ? AND notification_id = ?", userID, notificationID)
	if err != nil {
		return fmt.Errorf("failed to clear notification: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteAllUserNotifications(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM user_notifications WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear all notifications: %w", err)
	}
	return nil
}

// BroadcastNotification creates one notification and an unread join row for
// every current user in a single transaction.
func (s *SQLiteStore) BroadcastNotification(ctx context.Context, message, senderEmail string) (*Broadcast, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin broadcast transaction: %w", err)
	}
	defer tx.Rollback()

	n := Notification{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO notifications (id, message, sender_email, created_at) VALUES (?, ?, ?, ?)",
		n.ID, n.Message, normalizeEmail(senderEmail), n.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT id FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	var recipients []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recipients: %w", err)
	}

	for _, id := range recipients {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_notifications (user_id, notification_id, is_read) VALUES (?, ?, FALSE)",
			id, n.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to fan out notification to user %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit broadcast: %w", err)
	}
	return &Broadcast{Notification: n, Recipients: recipients}, nil
}
