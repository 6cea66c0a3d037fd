// Package router dispatches inbound socket envelopes to the room, presence,
// comment and notification services. Every failure is reported to the origin
// session only; nothing in here can take the gateway down.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sreejagatab/jagatab-realtime/internal/comment"
	"github.com/sreejagatab/jagatab-realtime/internal/notification"
	"github.com/sreejagatab/jagatab-realtime/internal/presence"
	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
	"github.com/tidwall/gjson"
)

// RoomReleaser lets the router tell the hub a room may have emptied after a
// leave, so its worker can be reclaimed.
type RoomReleaser interface {
	ReleaseRoom(roomID string)
}

type EventRouter struct {
	logger        *slog.Logger
	registry      state.Registry
	presence      *presence.Tracker
	comments      *comment.Service
	notifications *notification.Service
	releaser      RoomReleaser
	limiter       *rateLimiter
}

func NewEventRouter(
	logger *slog.Logger,
	registry state.Registry,
	presenceTracker *presence.Tracker,
	comments *comment.Service,
	notifications *notification.Service,
	releaser RoomReleaser,
	limits RateLimits,
) *EventRouter {
	return &EventRouter{
		logger:        logger.With(slog.String("component", "event_router")),
		registry:      registry,
		presence:      presenceTracker,
		comments:      comments,
		notifications: notifications,
		releaser:      releaser,
		limiter:       newRateLimiter(limits),
	}
}

// HandleMessage is the transport's message callback. ctx is connection-scoped.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg protocol.ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("failed to unmarshal client message", "connID", connID, slog.Any("error", err))
		return
	}

	sess, ok := r.registry.FindSession(connID)
	if !ok {
		r.logger.Error("message from unregistered session", "connID", connID, "event", clientMsg.Event)
		return
	}

	if err := r.dispatch(ctx, sess, &clientMsg); err != nil {
		r.sendError(sess, err)
	}
}

func (r *EventRouter) dispatch(ctx context.Context, sess *state.Session, msg *protocol.ClientMessage) error {
	payload := string(msg.Payload)

	switch msg.Event {
	case protocol.EventJoinRoom:
		roomID := gjson.Get(payload, "roomId").String()
		if roomID == "" {
			return errors.New("join-room requires roomId")
		}
		return r.registry.Join(sess.ID, roomID)

	case protocol.EventLeaveRoom:
		roomID := gjson.Get(payload, "roomId").String()
		if roomID == "" {
			return errors.New("leave-room requires roomId")
		}
		// leaving also clears any typing signal the session left behind
		r.presence.StopTyping(roomID, sess)
		if err := r.registry.Leave(sess.ID, roomID); err != nil {
			return err
		}
		r.releaser.ReleaseRoom(roomID)
		return nil

	case protocol.EventTypingStart:
		if !r.limiter.allowTyping(sess.ID) {
			return protocol.ErrRateLimited
		}
		roomID := gjson.Get(payload, "roomId").String()
		if roomID == "" {
			return errors.New("typing-start requires roomId")
		}
		r.presence.StartTyping(roomID, sess)
		return nil

	case protocol.EventTypingStop:
		roomID := gjson.Get(payload, "roomId").String()
		if roomID == "" {
			return errors.New("typing-stop requires roomId")
		}
		r.presence.StopTyping(roomID, sess)
		return nil

	case protocol.EventNewComment:
		if !r.limiter.allowComment(sess.ID) {
			return protocol.ErrRateLimited
		}
		in := comment.SubmitInput{
			PostID:   gjson.Get(payload, "postId").String(),
			Content:  gjson.Get(payload, "content").String(),
			ParentID: gjson.Get(payload, "parentId").String(),
		}
		_, err := r.comments.Submit(ctx, sess, in)
		return err

	case protocol.EventMarkNotificationRead:
		id := gjson.Get(payload, "notificationId").String()
		if id == "" {
			return errors.New("mark-notification-read requires notificationId")
		}
		return r.notifications.MarkRead(ctx, id, sess.UserID)

	default:
		r.logger.Warn("received unknown event", "event", msg.Event, "sessID", sess.ID.String())
		return errors.New("unknown event: " + msg.Event)
	}
}

// sendError reports a failure to the origin session only. Rate-limit and
// validation details are safe to echo; internal errors are flattened.
func (r *EventRouter) sendError(sess *state.Session, err error) {
	msg := err.Error()
	if errors.Is(err, protocol.ErrPersistence) {
		msg = "temporary storage failure, please retry"
	}
	env, encErr := protocol.NewServerMessage(protocol.EventError, protocol.ErrorPayload{Message: msg})
	if encErr != nil {
		r.logger.Error("failed to encode error envelope", slog.Any("error", encErr))
		return
	}
	frame, encErr := env.Encode()
	if encErr != nil {
		r.logger.Error("failed to encode error frame", slog.Any("error", encErr))
		return
	}
	sess.Transport.Send(frame)
}

// Forget drops the per-session rate-limit state when a session disconnects.
func (r *EventRouter) Forget(sessID uuid.UUID) {
	r.limiter.forget(sessID)
}
