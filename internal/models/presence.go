package models

import "time"

// PresenceRecord is the lifetime of one live connection of a user to a room.
type PresenceRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"type:text;not null;index:idx_presence_user_room" json:"user_id"`
	RoomID      string    `gorm:"type:uuid;not null;index:idx_presence_user_room" json:"room_id"`
	ConnectedAt time.Time `gorm:"not null" json:"connected_at"`
	// DisconnectedAt stays nil while the connection is open.
	DisconnectedAt *time.Time `json:"disconnected_at"`
}

// IsOpen reports whether the connection has not been closed yet.
func (p *PresenceRecord) IsOpen() bool {
	return p.DisconnectedAt == nil
}
