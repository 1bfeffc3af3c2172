package chat

import (
	"chatalarm/backend/internal/models"
	"chatalarm/backend/internal/storage"
	"context"
	"errors"
	"fmt"
)

// RoomGetter loads a room by id.
type RoomGetter interface {
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
}

// Membership answers who belongs to a room.
type Membership struct {
	rooms RoomGetter
}

func NewMembership(rooms RoomGetter) *Membership {
	return &Membership{rooms: rooms}
}

// Room returns the room if userID is one of its participants.
// It fails with ErrRoomNotFound or ErrNotMember.
func (m *Membership) Room(ctx context.Context, roomID, userID string) (*models.ChatRoom, error) {
	room, err := m.rooms.GetRoomByID(ctx, roomID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if !room.HasParticipant(userID) {
		return nil, ErrNotMember
	}
	return room, nil
}

// IsMember reports whether userID participates in roomID.
func (m *Membership) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	_, err := m.Room(ctx, roomID, userID)
	if errors.Is(err, ErrNotMember) {
		return false, nil
	}
	return err == nil, err
}

// OtherParticipant returns the counterpart of userID in roomID.
func (m *Membership) OtherParticipant(ctx context.Context, roomID, userID string) (string, error) {
	room, err := m.Room(ctx, roomID, userID)
	if err != nil {
		return "", err
	}
	other, ok := room.OtherParticipant(userID)
	if !ok {
		return "", ErrPeerRequired
	}
	return other, nil
}
