package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
	"gorm.io/gorm"
)

// CommentRepository provides access to comment storage.
type CommentRepository struct {
	db *gorm.DB
}

// Create persists a new comment, assigning its id and creation time. The id
// is a ULID, so ids within one room's serialized broadcast order sort in
// insertion order.
func (r *CommentRepository) Create(ctx context.Context, comment *Comment) error {
	if comment.ID == "" {
		comment.ID = protocol.NewID()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = protocol.Timestamp()
	}
	if err := r.db.WithContext(ctx).Create(comment).Error; err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// FindByID retrieves a comment by its id.
func (r *CommentRepository) FindByID(ctx context.Context, id string) (*Comment, error) {
	var comment Comment
	if err := r.db.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find comment: %w", err)
	}
	return &comment, nil
}

// ListByPost retrieves a post's comments in creation order.
func (r *CommentRepository) ListByPost(ctx context.Context, postID string) ([]*Comment, error) {
	var comments []*Comment
	if err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("id asc").Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}
