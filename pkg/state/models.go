package state

import (
	"time"

	"github.com/google/uuid"
)

// Role is the privilege level carried from the identity provider's claims.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Conn is the slice of the transport layer the registry and fanout services
// need. Send queues a reliable frame; TrySend queues a droppable one and
// reports whether it was accepted.
type Conn interface {
	ID() uuid.UUID
	Send(msg []byte)
	TrySend(msg []byte) bool
	Close(err error)
}

// Session is one live, authenticated connection instance. A user may hold
// several concurrently (multi-tab, multi-device).
type Session struct {
	ID        uuid.UUID
	UserID    string
	UserName  string
	Role      Role
	Transport Conn
	CreatedAt time.Time
}

// User aggregates all live sessions of one identity.
type User struct {
	ID       string
	Name     string
	Role     Role
	Sessions map[uuid.UUID]*Session
}

// Room is a broadcast group scoped to one content resource. Rooms exist
// implicitly: created on first join, removed when the last subscriber leaves.
type Room struct {
	ID          string
	Subscribers map[uuid.UUID]*Session
}
