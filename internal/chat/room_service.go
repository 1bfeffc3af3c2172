// Package chat implements room membership, room operations and message read state.
package chat

import (
	"chatalarm/backend/internal/models"
	"chatalarm/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LiveChannel is the real-time side of a room: it persists and delivers messages to
// the room's live connections and drops connections of users who left.
type LiveChannel interface {
	SubmitMessage(ctx context.Context, roomID, senderID, content, image string) (*models.Message, error)
	DisconnectUser(ctx context.Context, roomID, userID string) int
}

// RoomService backs the room and message endpoints.
type RoomService struct {
	store      storage.Storage
	membership *Membership
	reads      *ReadState
	live       LiveChannel

	// serializes leave so two last participants cannot both skip the delete
	leaveMu sync.Mutex
}

func NewRoomService(store storage.Storage, reads *ReadState, live LiveChannel) *RoomService {
	return &RoomService{
		store:      store,
		membership: NewMembership(store),
		reads:      reads,
		live:       live,
	}
}

// NormalizeParticipants returns the participant pair of a room requested by requester.
// Blank names are ignored, the requester is added, and duplicates are removed.
func NormalizeParticipants(requester string, requested []string) ([]string, error) {
	seen := make(map[string]struct{}, len(requested)+1)
	var out []string
	for _, p := range requested {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, ErrPeerRequired
	}
	if _, dup := seen[requester]; !dup {
		out = append(out, requester)
	}
	if len(out) != 2 {
		return nil, ErrOneToOneOnly
	}
	return out, nil
}

// CreateRoom opens a room between requester and the requested peer.
func (s *RoomService) CreateRoom(ctx context.Context, requester string, requested []string) (*models.ChatRoom, error) {
	pair, err := NormalizeParticipants(requester, requested)
	if err != nil {
		return nil, err
	}

	room := models.NewChatRoom(pair[0], pair[1])
	if err := s.store.CreateRoom(ctx, room); err != nil {
		if errors.Is(err, storage.ErrRoomExists) {
			return nil, ErrRoomExists
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"room_id": room.RoomID,
		"user_id": requester,
	}).Infof("Room created: %s", room.Name)
	return room, nil
}

func (s *RoomService) ListRooms(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	return s.store.ListRoomsForUser(ctx, userID)
}

// GetRoom returns the room if userID is a participant.
func (s *RoomService) GetRoom(ctx context.Context, roomID, userID string) (*models.ChatRoom, error) {
	return s.membership.Room(ctx, roomID, userID)
}

// EnterRoom returns the room and runs the bulk read transition for userID.
func (s *RoomService) EnterRoom(ctx context.Context, roomID, userID string) (*models.ChatRoom, error) {
	room, err := s.membership.Room(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	marked, skipped, err := s.reads.EnterRoom(ctx, room, userID)
	if err != nil {
		return nil, err
	}
	if !skipped && marked > 0 {
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"user_id": userID,
		}).Debugf("Marked %d messages read on room entry", marked)
	}
	return room, nil
}

// LeaveRoom removes userID from the room and deletes the room once nobody is left.
// The user's live connections to the room are closed after the membership change.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID string) (deleted bool, err error) {
	s.leaveMu.Lock()
	defer s.leaveMu.Unlock()

	room, err := s.membership.Room(ctx, roomID, userID)
	if err != nil {
		return false, err
	}

	room.RemoveParticipant(userID)
	if len(room.Participants) == 0 {
		if err := s.store.DeleteRoom(ctx, roomID); err != nil {
			return false, fmt.Errorf("delete room %s: %w", roomID, err)
		}
		logrus.WithField("room_id", roomID).Info("Room deleted, last participant left")
		deleted = true
	} else if err := s.store.SaveRoom(ctx, room); err != nil {
		return false, fmt.Errorf("save room %s: %w", roomID, err)
	}

	if n := s.live.DisconnectUser(ctx, roomID, userID); n > 0 {
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"user_id": userID,
		}).Infof("Closed %d live connections of departed participant", n)
	}
	return deleted, nil
}

func (s *RoomService) ListMessages(ctx context.Context, roomID, userID string) ([]models.Message, error) {
	if _, err := s.membership.Room(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, roomID)
}

// SearchMessages returns the room's messages whose text contains query, case-insensitively.
func (s *RoomService) SearchMessages(ctx context.Context, roomID, userID, query string) ([]models.Message, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrQueryRequired
	}
	if _, err := s.membership.Room(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.store.SearchMessages(ctx, roomID, query)
}

// CreateMessage sends a message through the same path as the live channel.
func (s *RoomService) CreateMessage(ctx context.Context, roomID, userID, content, image string) (*models.Message, error) {
	if _, err := s.membership.Room(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return s.live.SubmitMessage(ctx, roomID, userID, content, image)
}
