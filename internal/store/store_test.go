package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/sreejagatab/jagatab-realtime/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestStore creates a store over an in-memory SQLite database.
func setupTestStore(t *testing.T) *store.Store {
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
	return s
}

func TestCommentCreateAssignsIdentity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	c := &store.Comment{
		PostID:   "post-1",
		AuthorID: "user-1",
		Content:  "Hello",
	}
	if err := s.Comments.Create(ctx, c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.ID == "" {
		t.Error("expected assigned id")
	}
	if c.CreatedAt.IsZero() {
		t.Error("expected assigned creation time")
	}

	found, err := s.Comments.FindByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if found.Content != "Hello" {
		t.Errorf("expected content %q, got %q", "Hello", found.Content)
	}
}

func TestCommentListByPostInCreationOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		if err := s.Comments.Create(ctx, &store.Comment{PostID: "post-1", AuthorID: "u", Content: content}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	s.Comments.Create(ctx, &store.Comment{PostID: "post-2", AuthorID: "u", Content: "elsewhere"})

	comments, err := s.Comments.ListByPost(ctx, "post-1")
	if err != nil {
		t.Fatalf("ListByPost() error = %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(comments))
	}
	for i, want := range []string{"first", "second", "third"} {
		if comments[i].Content != want {
			t.Errorf("position %d: expected %q, got %q", i, want, comments[i].Content)
		}
	}
}

func TestNotificationCreateStartsUnread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n := &store.Notification{UserID: "user-1", Type: "like", Read: true}
	if err := s.Notifications.Create(ctx, n); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if n.Read {
		t.Error("notifications must be created unread regardless of input")
	}

	count, err := s.Notifications.CountUnread(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountUnread() error = %v", err)
	}
	if count != 1 {
		t.Errorf("expected unread count 1, got %d", count)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n := &store.Notification{UserID: "user-1", Type: "like"}
	s.Notifications.Create(ctx, n)

	first, err := s.Notifications.MarkRead(ctx, n.ID)
	if err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if !first.Read {
		t.Error("expected read=true after first MarkRead")
	}

	second, err := s.Notifications.MarkRead(ctx, n.ID)
	if err != nil {
		t.Fatalf("second MarkRead() error = %v", err)
	}
	if !second.Read {
		t.Error("expected read=true after second MarkRead")
	}

	count, _ := s.Notifications.CountUnread(ctx, "user-1")
	if count != 0 {
		t.Errorf("expected unread count 0, got %d", count)
	}
}

func TestMarkReadUnknownNotification(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Notifications.MarkRead(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkAllRead(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Notifications.Create(ctx, &store.Notification{UserID: "user-1", Type: "like"})
	}
	s.Notifications.Create(ctx, &store.Notification{UserID: "user-2", Type: "like"})

	if err := s.Notifications.MarkAllRead(ctx, "user-1"); err != nil {
		t.Fatalf("MarkAllRead() error = %v", err)
	}

	count, _ := s.Notifications.CountUnread(ctx, "user-1")
	if count != 0 {
		t.Errorf("expected 0 unread for user-1, got %d", count)
	}
	// other users' rows are untouched
	count, _ = s.Notifications.CountUnread(ctx, "user-2")
	if count != 1 {
		t.Errorf("expected 1 unread for user-2, got %d", count)
	}
}

func TestNotificationListNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var last string
	for i := 0; i < 5; i++ {
		n := &store.Notification{UserID: "user-1", Type: "like"}
		s.Notifications.Create(ctx, n)
		last = n.ID
	}

	notifications, err := s.Notifications.List(ctx, "user-1", 3)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(notifications) != 3 {
		t.Fatalf("expected limit of 3, got %d", len(notifications))
	}
	if notifications[0].ID != last {
		t.Errorf("expected newest notification first, got %s", notifications[0].ID)
	}
}

func TestDeleteNotification(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n := &store.Notification{UserID: "user-1", Type: "like"}
	s.Notifications.Create(ctx, n)

	deleted, err := s.Notifications.Delete(ctx, n.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted.UserID != "user-1" {
		t.Errorf("expected deleted row's owner, got %s", deleted.UserID)
	}

	if _, err := s.Notifications.Delete(ctx, n.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	count, _ := s.Notifications.CountUnread(ctx, "user-1")
	if count != 0 {
		t.Errorf("expected unread count 0 after delete, got %d", count)
	}
}
