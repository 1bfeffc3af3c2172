package storage

import (
	"chatalarm/backend/internal/models"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Memory is an in-process Storage used for local development and tests.
// It keeps the same observable semantics as Service.
type Memory struct {
	mu sync.RWMutex

	rooms         map[string]*models.ChatRoom
	roomKeys      map[string]string
	messages      map[string]*models.Message
	roomMessages  map[string][]string
	presence      []*models.PresenceRecord
	notifications map[string]*models.Notification

	nextPresenceID uint
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *Memory {
	return &Memory{
		rooms:         make(map[string]*models.ChatRoom),
		roomKeys:      make(map[string]string),
		messages:      make(map[string]*models.Message),
		roomMessages:  make(map[string][]string),
		notifications: make(map[string]*models.Notification),
	}
}

func copyRoom(r *models.ChatRoom) *models.ChatRoom {
	c := *r
	c.Participants = append(pq.StringArray(nil), r.Participants...)
	return &c
}

func (m *Memory) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roomKeys[room.RoomKey]; ok {
		return ErrRoomExists
	}
	if err := room.BeforeCreate(nil); err != nil {
		return err
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	m.rooms[room.RoomID] = copyRoom(room)
	m.roomKeys[room.RoomKey] = room.RoomID
	return nil
}

func (m *Memory) SaveRoom(ctx context.Context, room *models.ChatRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room.RoomID]; !ok {
		return ErrNotFound
	}
	m.rooms[room.RoomID] = copyRoom(room)
	return nil
}

func (m *Memory) DeleteRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range m.roomMessages[roomID] {
		delete(m.messages, id)
	}
	delete(m.roomMessages, roomID)
	delete(m.roomKeys, room.RoomKey)
	delete(m.rooms, roomID)
	return nil
}

func (m *Memory) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRoom(room), nil
}

func (m *Memory) ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]models.ChatRoom, 0)
	for _, room := range m.rooms {
		if room.HasParticipant(userID) {
			rooms = append(rooms, *copyRoom(room))
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.After(rooms[j].CreatedAt) })
	return rooms, nil
}

func (m *Memory) SaveMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := msg.BeforeCreate(nil); err != nil {
		return err
	}
	stored := *msg
	m.messages[msg.ID] = &stored
	m.roomMessages[msg.RoomID] = append(m.roomMessages[msg.RoomID], msg.ID)
	return nil
}

func (m *Memory) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *msg
	return &c, nil
}

func (m *Memory) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	return m.filterMessages(roomID, func(*models.Message) bool { return true }), nil
}

func (m *Memory) SearchMessages(ctx context.Context, roomID, query string) ([]models.Message, error) {
	needle := strings.ToLower(query)
	return m.filterMessages(roomID, func(msg *models.Message) bool {
		return strings.Contains(strings.ToLower(msg.Content), needle)
	}), nil
}

func (m *Memory) filterMessages(roomID string, keep func(*models.Message) bool) []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Message, 0)
	for _, id := range m.roomMessages[roomID] {
		if msg := m.messages[id]; keep(msg) {
			out = append(out, *msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

func (m *Memory) MarkMessageRead(ctx context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID]
	if !ok {
		return false, ErrNotFound
	}
	if msg.IsRead {
		return false, nil
	}
	msg.IsRead = true
	return true, nil
}

func (m *Memory) MarkRoomMessagesRead(ctx context.Context, roomID, viewerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, id := range m.roomMessages[roomID] {
		msg := m.messages[id]
		if !msg.IsRead && msg.SenderID != viewerID {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreatePresence(ctx context.Context, rec *models.PresenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPresenceID++
	rec.ID = m.nextPresenceID
	stored := *rec
	m.presence = append(m.presence, &stored)
	return nil
}

func (m *Memory) ClosePresence(ctx context.Context, recordID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.presence {
		if rec.ID == recordID && rec.IsOpen() {
			closedAt := at
			rec.DisconnectedAt = &closedAt
		}
	}
	return nil
}

func (m *Memory) LatestDisconnect(ctx context.Context, userID, roomID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *time.Time
	for _, rec := range m.presence {
		if rec.UserID != userID || rec.RoomID != roomID || rec.IsOpen() {
			continue
		}
		if latest == nil || rec.DisconnectedAt.After(*latest) {
			t := *rec.DisconnectedAt
			latest = &t
		}
	}
	return latest, nil
}

func (m *Memory) CloseOpenPresence(ctx context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.presence {
		if rec.IsOpen() {
			closedAt := at
			rec.DisconnectedAt = &closedAt
			n++
		}
	}
	return n, nil
}

// PresenceHistory returns a copy of every presence record of (userID, roomID) in creation order.
func (m *Memory) PresenceHistory(userID, roomID string) []models.PresenceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PresenceRecord
	for _, rec := range m.presence {
		if rec.UserID == userID && rec.RoomID == roomID {
			out = append(out, *rec)
		}
	}
	return out
}

func (m *Memory) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	stored := *n
	m.notifications[n.ID] = &stored
	return nil
}

func (m *Memory) ListNotifications(ctx context.Context, recipientID string) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Notification, 0)
	for _, n := range m.notifications {
		if n.RecipientID == recipientID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteNotification(ctx context.Context, notificationID, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[notificationID]
	if !ok || n.RecipientID != recipientID {
		return ErrNotFound
	}
	delete(m.notifications, notificationID)
	return nil
}

func (m *Memory) DeleteAllNotifications(ctx context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, alarm := range m.notifications {
		if alarm.RecipientID == recipientID {
			delete(m.notifications, id)
			n++
		}
	}
	return n, nil
}

var (
	_ Storage = (*Service)(nil)
	_ Storage = (*Memory)(nil)
)
