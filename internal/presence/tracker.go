package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sreejagatab/jagatab-realtime/internal/hub"
	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
)

// Broadcaster is the slice of the hub the tracker needs.
type Broadcaster interface {
	Broadcast(roomID string, msg hub.Outbound)
}

type entryKey struct {
	roomID string
	sessID uuid.UUID
}

type entry struct {
	userID    string
	userName  string
	expiresAt time.Time
}

// Tracker holds the ephemeral typing state machine per (room, session):
// Idle → Typing → Idle. Nothing here is ever persisted. A periodic sweep
// force-expires entries whose owner vanished without an explicit stop, so
// the "is typing" signal can never stick.
type Tracker struct {
	broadcaster Broadcaster
	logger      *slog.Logger

	debounce time.Duration
	sweep    time.Duration

	mu      sync.Mutex
	typing  map[entryKey]*entry
	nowFunc func() time.Time // swapped in tests
}

func NewTracker(b Broadcaster, debounce, sweep time.Duration, logger *slog.Logger) *Tracker {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	if sweep <= 0 {
		sweep = time.Second
	}
	return &Tracker{
		broadcaster: b,
		logger:      logger.With(slog.String("component", "presence_tracker")),
		debounce:    debounce,
		sweep:       sweep,
		typing:      make(map[entryKey]*entry),
		nowFunc:     time.Now,
	}
}

// StartTyping transitions Idle → Typing and broadcasts user-typing exactly
// once for the transition. Repeated calls while already Typing only refresh
// the expiry; rapid keystroke-driven calls collapse into a single event.
func (t *Tracker) StartTyping(roomID string, sess *state.Session) {
	key := entryKey{roomID: roomID, sessID: sess.ID}

	t.mu.Lock()
	now := t.nowFunc()
	// An entry past its expiry counts as Idle even before the sweep removes
	// it, so a start against it re-broadcasts.
	if e, ok := t.typing[key]; ok && e.expiresAt.After(now) {
		e.expiresAt = now.Add(t.debounce)
		t.mu.Unlock()
		return
	}
	t.typing[key] = &entry{
		userID:    sess.UserID,
		userName:  sess.UserName,
		expiresAt: now.Add(t.debounce),
	}
	t.mu.Unlock()

	t.broadcastTyping(protocol.EventUserTyping, roomID, sess.UserID, sess.UserName, sess.ID)
}

// StopTyping transitions Typing → Idle and broadcasts user-stopped-typing
// immediately. A stop while Idle is a no-op.
func (t *Tracker) StopTyping(roomID string, sess *state.Session) {
	key := entryKey{roomID: roomID, sessID: sess.ID}

	t.mu.Lock()
	_, ok := t.typing[key]
	if ok {
		delete(t.typing, key)
	}
	t.mu.Unlock()

	if ok {
		t.broadcastTyping(protocol.EventUserStoppedTyping, roomID, sess.UserID, sess.UserName, sess.ID)
	}
}

// StopAll is the disconnect side effect: every room where the session had
// active typing state gets the same stopped-typing broadcast as an explicit
// stop. rooms is the membership list the registry returned on deregister.
func (t *Tracker) StopAll(sessID uuid.UUID, rooms []string) {
	for _, roomID := range rooms {
		key := entryKey{roomID: roomID, sessID: sessID}

		t.mu.Lock()
		e, ok := t.typing[key]
		if ok {
			delete(t.typing, key)
		}
		t.mu.Unlock()

		if ok {
			t.broadcastTyping(protocol.EventUserStoppedTyping, roomID, e.userID, e.userName, sessID)
		}
	}
}

// Run drives the periodic sweep until ctx is cancelled. Entries past their
// expiry are force-transitioned to Idle with the usual broadcast, bounding
// staleness to debounce + sweep interval.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Sweep expires all overdue typing entries. Exported so tests can drive the
// clock without waiting on the ticker.
func (t *Tracker) Sweep() {
	type expired struct {
		key entryKey
		e   *entry
	}
	var overdue []expired

	t.mu.Lock()
	now := t.nowFunc()
	for key, e := range t.typing {
		if !e.expiresAt.After(now) {
			overdue = append(overdue, expired{key: key, e: e})
			delete(t.typing, key)
		}
	}
	t.mu.Unlock()

	for _, ex := range overdue {
		t.logger.Debug("typing entry expired by sweep",
			"roomID", ex.key.roomID, "sessID", ex.key.sessID.String())
		t.broadcastTyping(protocol.EventUserStoppedTyping, ex.key.roomID, ex.e.userID, ex.e.userName, ex.key.sessID)
	}
}

// Typing reports whether the (room, session) pair is currently in the Typing
// state. An entry past its expiry is not visible even before the sweep runs.
func (t *Tracker) Typing(roomID string, sessID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.typing[entryKey{roomID: roomID, sessID: sessID}]
	if !ok {
		return false
	}
	return e.expiresAt.After(t.nowFunc())
}

func (t *Tracker) broadcastTyping(event, roomID, userID, userName string, exclude uuid.UUID) {
	t.broadcaster.Broadcast(roomID, hub.Outbound{
		Event: event,
		Payload: protocol.TypingPayload{
			UserID:   userID,
			UserName: userName,
			PostID:   roomID,
		},
		Droppable: true,
		Exclude:   exclude,
	})
}
