package chat

import (
	"chatalarm/backend/internal/models"
	"chatalarm/backend/internal/storage"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ReadStore is the message persistence used by read transitions.
type ReadStore interface {
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) (bool, error)
	MarkRoomMessagesRead(ctx context.Context, roomID, viewerID string) (int64, error)
}

// ConnectionChecker reports live connections to a room.
type ConnectionChecker interface {
	IsCurrentlyConnected(userID, roomID string) bool
}

// ReadState moves messages from unread to read. Read flags never go back.
type ReadState struct {
	store    ReadStore
	presence ConnectionChecker
}

func NewReadState(store ReadStore, presence ConnectionChecker) *ReadState {
	return &ReadState{store: store, presence: presence}
}

// Acknowledge marks one message of roomID read. changed is false when it already was.
func (r *ReadState) Acknowledge(ctx context.Context, roomID, messageID string) (changed bool, err error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrMessageNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load message %s: %w", messageID, err)
	}
	if msg.RoomID != roomID {
		return false, ErrMessageNotInRoom
	}

	changed, err = r.store.MarkMessageRead(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("mark message %s read: %w", messageID, err)
	}
	return changed, nil
}

// EnterRoom marks every unread message not sent by viewerID as read, unless the
// other participant is live in the room. Live peers acknowledge messages one by one.
func (r *ReadState) EnterRoom(ctx context.Context, room *models.ChatRoom, viewerID string) (marked int64, skipped bool, err error) {
	if other, ok := room.OtherParticipant(viewerID); ok && r.presence.IsCurrentlyConnected(other, room.RoomID) {
		logrus.WithFields(logrus.Fields{
			"room_id": room.RoomID,
			"user_id": viewerID,
		}).Debug("Bulk read skipped, counterpart is connected")
		return 0, true, nil
	}

	marked, err = r.store.MarkRoomMessagesRead(ctx, room.RoomID, viewerID)
	if err != nil {
		return 0, false, fmt.Errorf("mark room %s read for %s: %w", room.RoomID, viewerID, err)
	}
	return marked, false, nil
}
