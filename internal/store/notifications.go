package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"gorm.io/gorm"
)

// NotificationRepository provides access to notification storage. Unread
// counts are never stored; CountUnread recomputes them on every call so
// push-delivered counters can never drift from the rows.
type NotificationRepository struct {
	db *gorm.DB
}

// Create persists a new notification. Rows start unread.
func (r *NotificationRepository) Create(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = protocol.NewID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = protocol.Timestamp()
	}
	n.Read = false
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// FindByID retrieves a notification by its id.
func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find notification: %w", err)
	}
	return &n, nil
}

// MarkRead flips read to true and returns the row. Idempotent: marking an
// already-read notification succeeds and leaves it read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) (*Notification, error) {
	n, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}
	if err := r.db.WithContext(ctx).Model(&Notification{}).Where("id = ?", id).Update("read", true).Error; err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n.Read = true
	return n, nil
}

// MarkAllRead flips every unread notification of a user to read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error; err != nil {
		return fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	return nil
}

// CountUnread recomputes the authoritative unread count from the rows.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// List retrieves a user's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var notifications []*Notification
	if err := q.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// Delete removes a notification and returns the deleted row so the caller
// can push a count adjustment to its owner.
func (r *NotificationRepository) Delete(ctx context.Context, id string) (*Notification, error) {
	n, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result := r.db.WithContext(ctx).Delete(&Notification{}, "id = ?", id)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to delete notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return n, nil
}
