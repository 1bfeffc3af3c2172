package models

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// ChatRoom represents a 1-on-1 conversation between two users.
// A fully created room always has exactly two participants; a room drops below two
// only while its participants leave, and is deleted once nobody is left.
type ChatRoom struct {
	// RoomID is the unique identifier for the chat room (UUID).
	RoomID string `gorm:"primaryKey;type:uuid" json:"id"`
	// RoomKey is derived from the sorted participant pair and enforces one room per pair.
	RoomKey string `gorm:"uniqueIndex;not null" json:"-"`
	// Name is the display label built from the participant names.
	Name string `gorm:"type:text" json:"name"`
	// Participants holds the user identities currently in the room.
	Participants pq.StringArray `gorm:"type:text[]" json:"participants"`
	// CreatedAt is the timestamp when the chat room was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewChatRoom builds an unsaved room for the unordered pair (a, b).
func NewChatRoom(a, b string) *ChatRoom {
	pair := sortedPair(a, b)
	return &ChatRoom{
		RoomKey:      RoomKeyFor(a, b),
		Name:         RoomNameFor(a, b),
		Participants: pq.StringArray{pair[0], pair[1]},
	}
}

// BeforeCreate generates the room UUID when it was not set by the caller.
func (r *ChatRoom) BeforeCreate(tx *gorm.DB) (err error) {
	if r.RoomID == "" {
		r.RoomID = uuid.New().String()
	}
	return
}

// RoomKeyFor returns the deterministic uniqueness key of the pair, independent of order.
// The first name is length-prefixed so names containing the separator cannot collide.
func RoomKeyFor(a, b string) string {
	pair := sortedPair(a, b)
	return strconv.Itoa(len(pair[0])) + ":" + pair[0] + "_" + pair[1]
}

// RoomNameFor returns the display name of a room between a and b.
func RoomNameFor(a, b string) string {
	pair := sortedPair(a, b)
	return strings.Join(pair, ", ") + "의 대화"
}

func sortedPair(a, b string) []string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair
}

// HasParticipant reports whether userID is one of the room's participants.
func (r *ChatRoom) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the room member that is not userID.
// ok is false when userID is not a member or the counterpart already left.
func (r *ChatRoom) OtherParticipant(userID string) (other string, ok bool) {
	if !r.HasParticipant(userID) {
		return "", false
	}
	for _, p := range r.Participants {
		if p != userID {
			return p, true
		}
	}
	return "", false
}

// RemoveParticipant drops userID from the room and reports whether it was present.
func (r *ChatRoom) RemoveParticipant(userID string) bool {
	kept := make(pq.StringArray, 0, len(r.Participants))
	removed := false
	for _, p := range r.Participants {
		if p == userID {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	r.Participants = kept
	return removed
}
