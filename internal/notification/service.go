// Package notification implements notification fanout and cross-session
// read-state reconciliation. Every push carries an unread count freshly
// recomputed from the store, so however pushes interleave across a user's
// sessions, the last one to land is authoritative and all tabs converge.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sreejagatab/jagatab-realtime/internal/backoff"
	"github.com/sreejagatab/jagatab-realtime/internal/store"
	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
)

type Service struct {
	notifications *store.NotificationRepository
	registry      state.Registry
	retry         backoff.Policy
	logger        *slog.Logger
}

func NewService(notifications *store.NotificationRepository, registry state.Registry, retry backoff.Policy, logger *slog.Logger) *Service {
	return &Service{
		notifications: notifications,
		registry:      registry,
		retry:         retry,
		logger:        logger.With(slog.String("component", "notification_service")),
	}
}

// Notify persists an unread notification for the target user, then pushes it
// with the recomputed unread count to every live session of that user. The
// push never happens for data that did not durably save.
func (s *Service) Notify(ctx context.Context, userID, notifType string, payload any) (*store.Notification, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: unencodable payload: %v", protocol.ErrValidation, err)
	}

	n := &store.Notification{
		UserID:  userID,
		Type:    notifType,
		Payload: raw,
	}
	if err := s.retry.Do(ctx, func() error {
		return s.notifications.Create(ctx, n)
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}

	count := s.unreadCount(ctx, userID)
	s.pushToUser(userID, protocol.EventNewNotification, protocol.NewNotificationPayload{
		Notification: n,
		UnreadCount:  count,
	})
	return n, nil
}

// MarkRead is idempotent. Regardless of the prior read state it pushes
// notification-updated to every session of the notification's owner, so all
// open tabs converge without polling. requester guards ownership; pass an
// empty string for trusted callers.
func (s *Service) MarkRead(ctx context.Context, notificationID, requester string) error {
	existing, err := s.notifications.FindByID(ctx, notificationID)
	if err != nil {
		if errorsIsNotFound(err) {
			return fmt.Errorf("%w: notification %s", protocol.ErrNotFound, notificationID)
		}
		return fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}
	if requester != "" && existing.UserID != requester {
		return fmt.Errorf("%w: notification belongs to another user", protocol.ErrForbidden)
	}

	var n *store.Notification
	if err := s.retry.Do(ctx, func() error {
		var err error
		n, err = s.notifications.MarkRead(ctx, notificationID)
		return err
	}); err != nil {
		if errorsIsNotFound(err) {
			return fmt.Errorf("%w: notification %s", protocol.ErrNotFound, notificationID)
		}
		return fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}

	count := s.unreadCount(ctx, n.UserID)
	s.pushToUser(n.UserID, protocol.EventNotificationUpdated, protocol.NotificationUpdatedPayload{
		ID:          n.ID,
		Read:        true,
		UnreadCount: count,
	})
	return nil
}

// MarkAllRead bulk-updates and pushes the new unread count (zero) once per
// live session.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	if err := s.retry.Do(ctx, func() error {
		return s.notifications.MarkAllRead(ctx, userID)
	}); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}

	s.pushToUser(userID, protocol.EventNotificationsAllRead, protocol.AllReadPayload{UnreadCount: 0})
	return nil
}

// Delete removes the row for its owner and pushes a count adjustment.
// requester guards ownership; pass an empty string for trusted callers.
func (s *Service) Delete(ctx context.Context, notificationID, requester string) error {
	n, err := s.notifications.FindByID(ctx, notificationID)
	if err != nil {
		if errorsIsNotFound(err) {
			return fmt.Errorf("%w: notification %s", protocol.ErrNotFound, notificationID)
		}
		return fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}
	if requester != "" && n.UserID != requester {
		return fmt.Errorf("%w: notification belongs to another user", protocol.ErrForbidden)
	}

	if err := s.retry.Do(ctx, func() error {
		_, err := s.notifications.Delete(ctx, notificationID)
		return err
	}); err != nil {
		if errorsIsNotFound(err) {
			return fmt.Errorf("%w: notification %s", protocol.ErrNotFound, notificationID)
		}
		return fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}

	count := s.unreadCount(ctx, n.UserID)
	s.pushToUser(n.UserID, protocol.EventNotificationDeleted, protocol.NotificationDeletedPayload{
		ID:          n.ID,
		UnreadCount: count,
	})
	return nil
}

// Hydrate serves the REST fallback: the user's notifications plus the
// authoritative unread count, used on initial load and reconnect.
func (s *Service) Hydrate(ctx context.Context, userID string, limit int) (*protocol.HydrationResponse, error) {
	notifications, err := s.notifications.List(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}
	count, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}
	return &protocol.HydrationResponse{
		Notifications: notifications,
		UnreadCount:   count,
	}, nil
}

// NotifyAdmins pushes an ephemeral admin-notification to every live session
// holding the admin role. Not persisted: operational alerts, not inbox rows.
func (s *Service) NotifyAdmins(notifType, message string, data json.RawMessage) {
	env, err := protocol.NewServerMessage(protocol.EventAdminNotification, protocol.AdminNotificationPayload{
		Type:    notifType,
		Message: message,
		Data:    data,
	})
	if err != nil {
		s.logger.Error("failed to encode admin notification", slog.Any("error", err))
		return
	}
	frame, err := env.Encode()
	if err != nil {
		s.logger.Error("failed to encode admin notification envelope", slog.Any("error", err))
		return
	}
	for _, sess := range s.registry.AllSessions() {
		if sess.Role != state.RoleAdmin {
			continue
		}
		sess.Transport.Send(frame)
	}
}

// unreadCount recomputes the authoritative count after a write. A failed
// recount is logged and reported as zero; the client's next hydration
// corrects it.
func (s *Service) unreadCount(ctx context.Context, userID string) int64 {
	count, err := s.notifications.CountUnread(ctx, userID)
	if err != nil {
		s.logger.Warn("unread recount failed", "userID", userID, slog.Any("error", err))
		return 0
	}
	return count
}

// pushToUser delivers one event to every live session of a user. A failure
// for one session is non-fatal; that session re-hydrates on next load.
func (s *Service) pushToUser(userID, event string, payload any) {
	sessions := s.registry.UserSessions(userID)
	if len(sessions) == 0 {
		return
	}
	env, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		s.logger.Error("failed to encode push payload", "event", event, slog.Any("error", err))
		return
	}
	frame, err := env.Encode()
	if err != nil {
		s.logger.Error("failed to encode push envelope", "event", event, slog.Any("error", err))
		return
	}
	for _, sess := range sessions {
		sess.Transport.Send(frame)
	}
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
