// Package comment implements the comment broadcast service: validate,
// persist, then fan out. Persistence strictly precedes broadcast, so no
// subscriber can ever observe a comment that is not durably stored.
package comment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sreejagatab/jagatab-realtime/internal/backoff"
	"github.com/sreejagatab/jagatab-realtime/internal/hub"
	"github.com/sreejagatab/jagatab-realtime/internal/store"
	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
)

// Notifier is the slice of the notification service used to alert a parent
// comment's author about a reply.
type Notifier interface {
	Notify(ctx context.Context, userID, notifType string, payload any) (*store.Notification, error)
}

type Broadcaster interface {
	Broadcast(roomID string, msg hub.Outbound)
}

type Service struct {
	comments    *store.CommentRepository
	broadcaster Broadcaster
	notifier    Notifier
	retry       backoff.Policy
	maxLength   int
	logger      *slog.Logger
}

func NewService(comments *store.CommentRepository, b Broadcaster, retry backoff.Policy, maxLength int, logger *slog.Logger) *Service {
	if maxLength <= 0 {
		maxLength = 4000
	}
	return &Service{
		comments:    comments,
		broadcaster: b,
		retry:       retry,
		maxLength:   maxLength,
		logger:      logger.With(slog.String("component", "comment_service")),
	}
}

// SetNotifier wires the reply-notification hook. Optional; breaking the
// construction cycle between the comment and notification services.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

type SubmitInput struct {
	PostID   string
	Content  string
	ParentID string
}

// Submit runs the full pipeline for one comment: validation, durable write
// with bounded retry, then broadcast to the post's room. The persisted
// comment is returned to the submitting session as its ack. Validation and
// persistence failures surface to the sender only; nothing is broadcast.
func (s *Service) Submit(ctx context.Context, sess *state.Session, in SubmitInput) (*store.Comment, error) {
	content := strings.TrimSpace(in.Content)
	switch {
	case in.PostID == "":
		return nil, fmt.Errorf("%w: postId is required", protocol.ErrValidation)
	case content == "":
		return nil, fmt.Errorf("%w: comment content is empty", protocol.ErrValidation)
	case len(content) > s.maxLength:
		return nil, fmt.Errorf("%w: comment exceeds %d characters", protocol.ErrValidation, s.maxLength)
	}

	c := &store.Comment{
		PostID: in.PostID,
		// The author is always the authenticated session's user; clients
		// cannot submit on behalf of anyone else.
		AuthorID:   sess.UserID,
		AuthorName: sess.UserName,
		Content:    content,
		ParentID:   in.ParentID,
	}

	if err := s.retry.Do(ctx, func() error {
		return s.comments.Create(ctx, c)
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrPersistence, err)
	}

	// Durable write succeeded; from here on failures are per-session and
	// healed by hydration, never rolled back.
	s.broadcaster.Broadcast(in.PostID, hub.Outbound{
		Event: protocol.EventCommentAdded,
		Payload: protocol.CommentAddedPayload{
			Comment: c,
			PostID:  in.PostID,
		},
	})

	s.notifyReply(ctx, sess, c)
	return c, nil
}

// notifyReply alerts the parent comment's author about the reply. Errors are
// logged and swallowed: the comment is already durable and broadcast.
func (s *Service) notifyReply(ctx context.Context, sess *state.Session, c *store.Comment) {
	if s.notifier == nil || c.ParentID == "" {
		return
	}
	parent, err := s.comments.FindByID(ctx, c.ParentID)
	if err != nil {
		s.logger.Warn("reply notification skipped: parent lookup failed",
			"commentID", c.ID, "parentID", c.ParentID, slog.Any("error", err))
		return
	}
	if parent.AuthorID == sess.UserID {
		return // replying to yourself is not notification-worthy
	}
	if _, err := s.notifier.Notify(ctx, parent.AuthorID, "comment-reply", map[string]string{
		"commentId": c.ID,
		"postId":    c.PostID,
		"authorId":  c.AuthorID,
		"author":    c.AuthorName,
	}); err != nil {
		s.logger.Warn("reply notification failed", "commentID", c.ID, slog.Any("error", err))
	}
}
