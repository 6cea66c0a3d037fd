package store

import (
	"encoding/json"
	"time"
)

// Comment is a durable comment record. Rows are immutable once written; this
// subsystem never edits comment content in place.
type Comment struct {
	ID         string    `gorm:"primarykey;size:26" json:"id"`
	PostID     string    `gorm:"size:64;not null;index" json:"postId"`
	AuthorID   string    `gorm:"size:64;not null" json:"authorId"`
	AuthorName string    `gorm:"size:100" json:"authorName"`
	Content    string    `gorm:"size:4000;not null" json:"content"`
	ParentID   string    `gorm:"size:26" json:"parentId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (Comment) TableName() string {
	return "comments"
}

// Notification is a durable per-user notification record. Created unread;
// the only mutation is the read transition. Deleted explicitly by the user.
type Notification struct {
	ID        string          `gorm:"primarykey;size:26" json:"id"`
	UserID    string          `gorm:"size:64;not null;index" json:"userId"`
	Type      string          `gorm:"size:40;not null" json:"type"`
	Payload   json.RawMessage `gorm:"type:text" json:"payload,omitempty"`
	Read      bool            `gorm:"not null;default:false;index" json:"read"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}
