package presence_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sreejagatab/jagatab-realtime/internal/hub"
	"github.com/sreejagatab/jagatab-realtime/internal/presence"
	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// captureBroadcaster records outbound events synchronously.
type captureBroadcaster struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	roomID string
	event  string
}

func (c *captureBroadcaster) Broadcast(roomID string, msg hub.Outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{roomID: roomID, event: msg.Event})
}

func (c *captureBroadcaster) byEvent(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func newSession() *state.Session {
	return &state.Session{
		ID:       uuid.New(),
		UserID:   "user-1",
		UserName: "User One",
	}
}

func TestStartTypingBroadcastsOncePerTransition(t *testing.T) {
	b := &captureBroadcaster{}
	tracker := presence.NewTracker(b, 3*time.Second, time.Second, newTestLogger())
	sess := newSession()

	// rapid keystroke-driven re-sends collapse into one event
	for i := 0; i < 10; i++ {
		tracker.StartTyping("post-1", sess)
	}
	if got := b.byEvent(protocol.EventUserTyping); got != 1 {
		t.Errorf("expected exactly 1 user-typing broadcast, got %d", got)
	}
	if !tracker.Typing("post-1", sess.ID) {
		t.Error("expected session to be in Typing state")
	}

	tracker.StopTyping("post-1", sess)
	if got := b.byEvent(protocol.EventUserStoppedTyping); got != 1 {
		t.Errorf("expected exactly 1 user-stopped-typing broadcast, got %d", got)
	}
	if tracker.Typing("post-1", sess.ID) {
		t.Error("expected session to be Idle after stop")
	}

	// stop while Idle is a no-op
	tracker.StopTyping("post-1", sess)
	if got := b.byEvent(protocol.EventUserStoppedTyping); got != 1 {
		t.Errorf("idle stop should not re-broadcast, got %d", got)
	}
}

func TestStartAfterStopBroadcastsAgain(t *testing.T) {
	b := &captureBroadcaster{}
	tracker := presence.NewTracker(b, 3*time.Second, time.Second, newTestLogger())
	sess := newSession()

	tracker.StartTyping("post-1", sess)
	tracker.StopTyping("post-1", sess)
	tracker.StartTyping("post-1", sess)

	if got := b.byEvent(protocol.EventUserTyping); got != 2 {
		t.Errorf("expected 2 user-typing broadcasts across 2 transitions, got %d", got)
	}
}

func TestSweepExpiresAbandonedTyping(t *testing.T) {
	b := &captureBroadcaster{}
	tracker := presence.NewTracker(b, 30*time.Millisecond, time.Second, newTestLogger())
	sess := newSession()

	tracker.StartTyping("post-1", sess)

	// before expiry the sweep leaves the entry alone
	tracker.Sweep()
	if got := b.byEvent(protocol.EventUserStoppedTyping); got != 0 {
		t.Fatalf("sweep fired early: %d stop broadcasts", got)
	}

	time.Sleep(50 * time.Millisecond)
	if tracker.Typing("post-1", sess.ID) {
		t.Error("expired entry must not be visible before the sweep")
	}
	tracker.Sweep()
	if got := b.byEvent(protocol.EventUserStoppedTyping); got != 1 {
		t.Errorf("expected 1 stop broadcast from sweep, got %d", got)
	}

	// the sweep already removed the entry; a second sweep is quiet
	tracker.Sweep()
	if got := b.byEvent(protocol.EventUserStoppedTyping); got != 1 {
		t.Errorf("second sweep re-broadcast: got %d", got)
	}
}

func TestStartTypingRefreshesExpiry(t *testing.T) {
	b := &captureBroadcaster{}
	tracker := presence.NewTracker(b, 60*time.Millisecond, time.Second, newTestLogger())
	sess := newSession()

	tracker.StartTyping("post-1", sess)
	time.Sleep(40 * time.Millisecond)
	tracker.StartTyping("post-1", sess) // refresh, no re-broadcast
	time.Sleep(40 * time.Millisecond)

	// 80ms after the first start but only 40ms after the refresh
	tracker.Sweep()
	if got := b.byEvent(protocol.EventUserStoppedTyping); got != 0 {
		t.Errorf("refreshed entry expired early: %d stop broadcasts", got)
	}
	if got := b.byEvent(protocol.EventUserTyping); got != 1 {
		t.Errorf("refresh should not re-broadcast, got %d", got)
	}
}

func TestStopAllOnDisconnect(t *testing.T) {
	b := &captureBroadcaster{}
	tracker := presence.NewTracker(b, 3*time.Second, time.Second, newTestLogger())
	sess := newSession()

	tracker.StartTyping("post-1", sess)
	tracker.StartTyping("post-2", sess)

	// post-3 was joined but the session never typed there
	tracker.StopAll(sess.ID, []string{"post-1", "post-2", "post-3"})

	if got := b.byEvent(protocol.EventUserStoppedTyping); got != 2 {
		t.Errorf("expected stop broadcasts only for rooms with typing state, got %d", got)
	}
}
