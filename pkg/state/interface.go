package state

import "github.com/google/uuid"

// Registry tracks live sessions, the users they belong to, and room
// membership. The connection gateway is the only writer; broadcast and fanout
// services only read.
type Registry interface {
	// --- Session lifecycle ---
	Register(sess *Session) error
	// Deregister removes the session from every room it joined and detaches
	// it from its user. It returns the rooms the session was subscribed to so
	// the caller can emit the disconnect side effects (typing-stop).
	Deregister(sessID uuid.UUID) ([]string, error)
	FindSession(sessID uuid.UUID) (*Session, bool)
	SessionCount(userID string) int
	OldestSession(userID string) (*Session, bool)
	AllSessions() []*Session

	// --- Room membership ---
	// Join subscribes the session to a room, creating the room implicitly.
	// Idempotent: joining a room the session is already in is a no-op.
	Join(sessID uuid.UUID, roomID string) error
	// Leave is idempotent: leaving a room the session is not in is a no-op.
	Leave(sessID uuid.UUID, roomID string) error
	JoinedRooms(sessID uuid.UUID) []string

	// --- Fanout lookups (snapshots, safe to iterate without holding locks) ---
	Subscribers(roomID string) []*Session
	UserSessions(userID string) []*Session
}
