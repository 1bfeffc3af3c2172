package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one entry of a room's append-only message log.
type Message struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`
	// RoomID is the identifier of the chat room where the message was sent.
	RoomID string `gorm:"type:uuid;not null;index:idx_room_sent" json:"room_id"`
	// SenderID is the identity of the user who sent the message.
	SenderID string `gorm:"type:text;not null" json:"sender"`
	// Content is the text of the message. May be empty for image-only messages.
	Content string `gorm:"type:text" json:"content"`
	// Image is a reference (URL or object key) to an uploaded image.
	Image string `gorm:"type:text" json:"image,omitempty"`
	// SentAt orders messages within a room.
	SentAt time.Time `gorm:"not null;index:idx_room_sent" json:"sent_at"`
	// IsRead only ever flips from false to true.
	IsRead bool `gorm:"not null;default:false" json:"is_read"`
}

// BeforeCreate fills the identifier and send time when the caller left them empty.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	return
}

// HasBody reports whether the message carries text or an image.
func (m *Message) HasBody() bool {
	return strings.TrimSpace(m.Content) != "" || strings.TrimSpace(m.Image) != ""
}
