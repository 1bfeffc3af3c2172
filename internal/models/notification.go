package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationCategory is the kind of domain event that produced a notification.
type NotificationCategory string

const (
	CategoryMessage NotificationCategory = "message"
	CategoryFollow  NotificationCategory = "follow"
	CategoryComment NotificationCategory = "comment"
	CategoryLike    NotificationCategory = "like"
)

// Valid reports whether c is one of the known categories.
func (c NotificationCategory) Valid() bool {
	switch c {
	case CategoryMessage, CategoryFollow, CategoryComment, CategoryLike:
		return true
	}
	return false
}

// Notification is an offline alarm stored for its recipient.
// It is never modified after creation, only deleted.
type Notification struct {
	ID          string               `gorm:"primaryKey;type:uuid" json:"id"`
	RecipientID string               `gorm:"type:text;not null;index" json:"recipient"`
	SenderID    string               `gorm:"type:text;not null" json:"sender"`
	Category    NotificationCategory `gorm:"type:varchar(20);not null" json:"alarm_type"`
	Text        string               `gorm:"type:text" json:"message"`
	// RelatedObjectID points at the message or post the alarm is about. Follows have none.
	RelatedObjectID *string   `gorm:"type:text" json:"related_object_id"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate generates the notification UUID when it was not set by the caller.
func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return
}
