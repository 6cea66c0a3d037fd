package protocol

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Client-to-server events.
const (
	EventJoinRoom             = "join-room"
	EventLeaveRoom            = "leave-room"
	EventTypingStart          = "typing-start"
	EventTypingStop           = "typing-stop"
	EventNewComment           = "new-comment"
	EventMarkNotificationRead = "mark-notification-read"
)

// Server-to-client events.
const (
	EventCommentAdded         = "comment-added"
	EventUserTyping           = "user-typing"
	EventUserStoppedTyping    = "user-stopped-typing"
	EventError                = "error"
	EventNewNotification      = "new-notification"
	EventNotificationUpdated  = "notification-updated"
	EventNotificationDeleted  = "notification-deleted"
	EventNotificationsAllRead = "notifications-all-read"
	EventAdminNotification    = "admin-notification"
)

// ClientMessage is the envelope for everything a client sends over the socket.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the envelope for everything pushed to a client. ID is a
// ULID assigned at send time; delivery is at-least-once, so clients
// deduplicate on it.
type ServerMessage struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewServerMessage marshals payload and wraps it in an envelope with a fresh
// event id.
func NewServerMessage(event string, payload any) (*ServerMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &ServerMessage{
		ID:      ulid.Make().String(),
		Event:   event,
		Payload: raw,
	}, nil
}

// Encode renders the envelope as a JSON frame ready for the transport.
func (m *ServerMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// --- payload shapes ---

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

type NewCommentPayload struct {
	PostID   string `json:"postId"`
	Content  string `json:"content"`
	ParentID string `json:"parentId,omitempty"`
}

type CommentAddedPayload struct {
	Comment any    `json:"comment"`
	PostID  string `json:"postId"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	PostID   string `json:"postId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type NewNotificationPayload struct {
	Notification any   `json:"notification"`
	UnreadCount  int64 `json:"unreadCount"`
}

type NotificationUpdatedPayload struct {
	ID          string `json:"id"`
	Read        bool   `json:"read"`
	UnreadCount int64  `json:"unreadCount"`
}

type NotificationDeletedPayload struct {
	ID          string `json:"id"`
	UnreadCount int64  `json:"unreadCount"`
}

type AllReadPayload struct {
	UnreadCount int64 `json:"unreadCount"`
}

type AdminNotificationPayload struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// HydrationResponse is the body of GET /notifications.
type HydrationResponse struct {
	Notifications any   `json:"notifications"`
	UnreadCount   int64 `json:"unreadCount"`
}

// NewID returns a fresh ULID string. Comment and notification rows use these
// as primary keys; within one room's serialized broadcast order they sort in
// insertion order.
func NewID() string {
	return ulid.Make().String()
}

// Timestamp is the canonical creation-time source for persisted records.
func Timestamp() time.Time {
	return time.Now().UTC()
}
