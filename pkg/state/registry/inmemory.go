package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
)

// InMemory is the single-node session registry. Sessions, users and rooms
// live in three maps behind their own RWMutexes; cross-map mutations take
// locks in sess → user → room order.
type InMemory struct {
	sessions map[uuid.UUID]*state.Session
	users    map[string]*state.User
	rooms    map[string]*state.Room
	// membership is the reverse index session → joined rooms; it backs the
	// idempotency of Join/Leave and the disconnect sweep.
	membership map[uuid.UUID]map[string]struct{}

	sessMu sync.RWMutex
	userMu sync.RWMutex
	roomMu sync.RWMutex

	logger *slog.Logger
}

func NewInMemory(logger *slog.Logger) *InMemory {
	return &InMemory{
		sessions:   make(map[uuid.UUID]*state.Session),
		users:      make(map[string]*state.User),
		rooms:      make(map[string]*state.Room),
		membership: make(map[uuid.UUID]map[string]struct{}),
		logger:     logger.With(slog.String("component", "session_registry")),
	}
}

// compile-time check to ensure InMemory implements Registry.
var _ state.Registry = (*InMemory)(nil)

func (r *InMemory) Register(sess *state.Session) error {
	if sess == nil || sess.Transport == nil {
		return errors.New("cannot register session without transport")
	}

	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	r.userMu.Lock()
	defer r.userMu.Unlock()
	r.roomMu.Lock()
	defer r.roomMu.Unlock()

	if _, exists := r.sessions[sess.ID]; exists {
		return errors.New("session is already registered")
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	r.sessions[sess.ID] = sess
	// membership (the session → rooms reverse index) is guarded by roomMu
	r.membership[sess.ID] = make(map[string]struct{})

	user, exists := r.users[sess.UserID]
	if !exists {
		user = &state.User{
			ID:       sess.UserID,
			Name:     sess.UserName,
			Role:     sess.Role,
			Sessions: make(map[uuid.UUID]*state.Session),
		}
		r.users[sess.UserID] = user
	}
	user.Sessions[sess.ID] = sess

	r.logger.Debug("session registered", "sessID", sess.ID.String(), "userID", sess.UserID)
	return nil
}

func (r *InMemory) Deregister(sessID uuid.UUID) ([]string, error) {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	r.userMu.Lock()
	defer r.userMu.Unlock()
	r.roomMu.Lock()
	defer r.roomMu.Unlock()

	sess, ok := r.sessions[sessID]
	if !ok {
		// already deregistered
		return nil, nil
	}
	delete(r.sessions, sessID)

	// remove from every subscribed room, collecting them for the caller
	joined := r.membership[sessID]
	delete(r.membership, sessID)
	rooms := make([]string, 0, len(joined))
	for roomID := range joined {
		rooms = append(rooms, roomID)
		room, ok := r.rooms[roomID]
		if !ok {
			continue
		}
		delete(room.Subscribers, sessID)
		if len(room.Subscribers) == 0 {
			delete(r.rooms, roomID)
			r.logger.Debug("removed empty room", "roomID", roomID)
		}
	}

	// detach from user, removing the user record when this was the last session
	if user, ok := r.users[sess.UserID]; ok {
		delete(user.Sessions, sessID)
		if len(user.Sessions) == 0 {
			delete(r.users, sess.UserID)
		}
	}

	r.logger.Debug("session deregistered", "sessID", sessID.String(), "userID", sess.UserID)
	return rooms, nil
}

func (r *InMemory) FindSession(sessID uuid.UUID) (*state.Session, bool) {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	sess, ok := r.sessions[sessID]
	return sess, ok
}

func (r *InMemory) SessionCount(userID string) int {
	r.userMu.RLock()
	defer r.userMu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return 0
	}
	return len(user.Sessions)
}

func (r *InMemory) OldestSession(userID string) (*state.Session, bool) {
	r.userMu.RLock()
	defer r.userMu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	var oldest *state.Session
	for _, sess := range user.Sessions {
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest, true
}

func (r *InMemory) AllSessions() []*state.Session {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()

	out := make([]*state.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}

func (r *InMemory) Join(sessID uuid.UUID, roomID string) error {
	r.sessMu.RLock()
	sess, ok := r.sessions[sessID]
	r.sessMu.RUnlock()
	if !ok {
		return errors.New("cannot join room: session not found")
	}

	r.roomMu.Lock()
	defer r.roomMu.Unlock()

	joined, ok := r.membership[sessID]
	if !ok {
		return errors.New("cannot join room: session deregistered")
	}
	if _, already := joined[roomID]; already {
		return nil
	}

	room, exists := r.rooms[roomID]
	if !exists {
		room = &state.Room{
			ID:          roomID,
			Subscribers: make(map[uuid.UUID]*state.Session),
		}
		r.rooms[roomID] = room
	}
	room.Subscribers[sessID] = sess
	joined[roomID] = struct{}{}

	r.logger.Debug("session joined room", "sessID", sessID.String(), "roomID", roomID)
	return nil
}

func (r *InMemory) Leave(sessID uuid.UUID, roomID string) error {
	r.roomMu.Lock()
	defer r.roomMu.Unlock()

	joined, ok := r.membership[sessID]
	if !ok {
		return nil // session gone, nothing to leave
	}
	if _, member := joined[roomID]; !member {
		return nil
	}
	delete(joined, roomID)

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room.Subscribers, sessID)
	if len(room.Subscribers) == 0 {
		delete(r.rooms, roomID)
		r.logger.Debug("removed empty room", "roomID", roomID)
	}
	return nil
}

func (r *InMemory) JoinedRooms(sessID uuid.UUID) []string {
	r.roomMu.RLock()
	defer r.roomMu.RUnlock()

	joined, ok := r.membership[sessID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(joined))
	for roomID := range joined {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Subscribers returns a snapshot of a room's live sessions. Callers iterate
// the slice without holding registry locks.
func (r *InMemory) Subscribers(roomID string) []*state.Session {
	r.roomMu.RLock()
	defer r.roomMu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*state.Session, 0, len(room.Subscribers))
	for _, sess := range room.Subscribers {
		out = append(out, sess)
	}
	return out
}

// UserSessions returns a snapshot of every live session belonging to a user.
func (r *InMemory) UserSessions(userID string) []*state.Session {
	r.userMu.RLock()
	defer r.userMu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]*state.Session, 0, len(user.Sessions))
	for _, sess := range user.Sessions {
		out = append(out, sess)
	}
	return out
}
