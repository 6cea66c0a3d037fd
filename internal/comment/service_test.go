package comment_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sreejagatab/jagatab-realtime/internal/backoff"
	"github.com/sreejagatab/jagatab-realtime/internal/comment"
	"github.com/sreejagatab/jagatab-realtime/internal/hub"
	"github.com/sreejagatab/jagatab-realtime/internal/store"
	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"github.com/sreejagatab/jagatab-realtime/pkg/state"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type testEnv struct {
	db      *gorm.DB
	store   *store.Store
	bcaster *captureBroadcaster
	service *comment.Service
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []hub.Outbound
	rooms  []string
}

func (c *captureBroadcaster) Broadcast(roomID string, msg hub.Outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, msg)
	c.rooms = append(c.rooms, roomID)
}

func (c *captureBroadcaster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	s, err := store.New(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	b := &captureBroadcaster{}
	svc := comment.NewService(s.Comments, b, backoff.Policy{Attempts: 2, Delay: time.Millisecond}, 200, newTestLogger())
	return &testEnv{db: db, store: s, bcaster: b, service: svc}
}

func newSession(userID string) *state.Session {
	return &state.Session{ID: uuid.New(), UserID: userID, UserName: "name-" + userID}
}

func TestSubmitPersistsThenBroadcasts(t *testing.T) {
	env := setup(t)
	sess := newSession("user-1")

	c, err := env.service.Submit(context.Background(), sess, comment.SubmitInput{
		PostID:  "post-1",
		Content: "  Hello  ",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if c.ID == "" {
		t.Error("expected persisted comment id")
	}
	if c.Content != "Hello" {
		t.Errorf("expected trimmed content, got %q", c.Content)
	}
	if c.AuthorID != "user-1" {
		t.Errorf("author must be the session user, got %q", c.AuthorID)
	}

	// the broadcast carries the already-durable row
	if env.bcaster.count() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", env.bcaster.count())
	}
	stored, err := env.store.Comments.FindByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("broadcast comment not found in store: %v", err)
	}
	if stored.Content != "Hello" {
		t.Errorf("stored content mismatch: %q", stored.Content)
	}
	if env.bcaster.events[0].Event != protocol.EventCommentAdded {
		t.Errorf("unexpected broadcast event %s", env.bcaster.events[0].Event)
	}
	if env.bcaster.rooms[0] != "post-1" {
		t.Errorf("broadcast to wrong room %s", env.bcaster.rooms[0])
	}
}

func TestSubmitValidation(t *testing.T) {
	env := setup(t)
	sess := newSession("user-1")

	cases := []struct {
		name string
		in   comment.SubmitInput
	}{
		{"missing post", comment.SubmitInput{Content: "hi"}},
		{"empty content", comment.SubmitInput{PostID: "post-1", Content: "   "}},
		{"too long", comment.SubmitInput{PostID: "post-1", Content: strings.Repeat("x", 201)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.Submit(context.Background(), sess, tc.in)
			if !errors.Is(err, protocol.ErrValidation) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}

	// nothing was persisted, nothing was broadcast
	if env.bcaster.count() != 0 {
		t.Errorf("validation failures must not broadcast, got %d events", env.bcaster.count())
	}
	comments, _ := env.store.Comments.ListByPost(context.Background(), "post-1")
	if len(comments) != 0 {
		t.Errorf("validation failures must not persist, found %d rows", len(comments))
	}
}

func TestSubmitPersistenceFailureDoesNotBroadcast(t *testing.T) {
	env := setup(t)
	sess := newSession("user-1")

	// force the durable write to fail
	if err := env.db.Exec("DROP TABLE comments").Error; err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	_, err := env.service.Submit(context.Background(), sess, comment.SubmitInput{
		PostID:  "post-1",
		Content: "Hello",
	})
	if !errors.Is(err, protocol.ErrPersistence) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if env.bcaster.count() != 0 {
		t.Errorf("persistence failure must not broadcast, got %d events", env.bcaster.count())
	}
}

type captureNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	userID string
	typ    string
}

func (n *captureNotifier) Notify(ctx context.Context, userID, notifType string, payload any) (*store.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{userID: userID, typ: notifType})
	return &store.Notification{UserID: userID, Type: notifType}, nil
}

func TestReplyNotifiesParentAuthor(t *testing.T) {
	env := setup(t)
	notifier := &captureNotifier{}
	env.service.SetNotifier(notifier)

	parentSess := newSession("author-1")
	parent, err := env.service.Submit(context.Background(), parentSess, comment.SubmitInput{
		PostID:  "post-1",
		Content: "original",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	replySess := newSession("author-2")
	if _, err := env.service.Submit(context.Background(), replySess, comment.SubmitInput{
		PostID:   "post-1",
		Content:  "a reply",
		ParentID: parent.ID,
	}); err != nil {
		t.Fatalf("Submit() reply error = %v", err)
	}

	if len(notifier.calls) != 1 {
		t.Fatalf("expected 1 reply notification, got %d", len(notifier.calls))
	}
	if notifier.calls[0].userID != "author-1" || notifier.calls[0].typ != "comment-reply" {
		t.Errorf("unexpected notification %+v", notifier.calls[0])
	}

	// replying to your own comment stays quiet
	if _, err := env.service.Submit(context.Background(), parentSess, comment.SubmitInput{
		PostID:   "post-1",
		Content:  "self reply",
		ParentID: parent.ID,
	}); err != nil {
		t.Fatalf("Submit() self-reply error = %v", err)
	}
	if len(notifier.calls) != 1 {
		t.Errorf("self-reply must not notify, got %d calls", len(notifier.calls))
	}
}
