// Package chathub is the real-time delivery core: room broadcast groups for chat
// connections and per-user groups for live alarms.
package chathub

import (
	"chatalarm/backend/internal/chat"
	"chatalarm/backend/internal/models"
	"chatalarm/backend/internal/notify"
	"chatalarm/backend/internal/presence"
	"chatalarm/backend/internal/storage"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnauthenticated rejects connections without a user identity.
var ErrUnauthenticated = errors.New("chathub: unauthenticated connection")

// roomGroup is the broadcast group of one room. Every persist-and-broadcast and
// every membership change of the group runs under mu, so all joined connections
// see the room's frames in the order the hub processed them.
type roomGroup struct {
	id string

	mu         sync.Mutex
	clients    map[Client]uint // presence record id per connection
	lastSentAt time.Time

	// refs counts joined clients and in-flight operations; guarded by Hub.mu
	refs int
}

// Hub owns every live connection of the process.
type Hub struct {
	store      storage.Storage
	membership *chat.Membership
	presence   *presence.Registry
	reads      *chat.ReadState
	dispatcher notify.Dispatcher

	mu    sync.Mutex
	rooms map[string]*roomGroup

	alarmsMu sync.RWMutex
	alarms   map[string]map[Client]struct{}
}

// NewHub creates a Hub. A dispatcher must be set with SetDispatcher before
// new messages trigger notifications.
func NewHub(store storage.Storage, reg *presence.Registry, reads *chat.ReadState) *Hub {
	return &Hub{
		store:      store,
		membership: chat.NewMembership(store),
		presence:   reg,
		reads:      reads,
		rooms:      make(map[string]*roomGroup),
		alarms:     make(map[string]map[Client]struct{}),
	}
}

// SetDispatcher sets where new-message events go after delivery.
func (h *Hub) SetDispatcher(d notify.Dispatcher) {
	h.dispatcher = d
}

// acquire returns the group of roomID, creating it if needed, and pins it until release.
func (h *Hub) acquire(roomID string) *roomGroup {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.rooms[roomID]
	if !ok {
		g = &roomGroup{id: roomID, clients: make(map[Client]uint)}
		h.rooms[roomID] = g
	}
	g.refs++
	return g
}

func (h *Hub) release(g *roomGroup) {
	h.mu.Lock()
	defer h.mu.Unlock()

	g.refs--
	if g.refs == 0 {
		delete(h.rooms, g.id)
	}
}

func (h *Hub) lookup(roomID string) *roomGroup {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}

// Authorize checks that userID may open a live channel on roomID.
// It fails with ErrUnauthenticated, chat.ErrRoomNotFound or chat.ErrNotMember.
func (h *Hub) Authorize(ctx context.Context, userID, roomID string) (*models.ChatRoom, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	return h.membership.Room(ctx, roomID, userID)
}

// JoinRoom adds c to its room's broadcast group and records the session.
func (h *Hub) JoinRoom(ctx context.Context, c Client) error {
	g := h.acquire(c.GetRoomID())

	g.mu.Lock()
	id, err := h.presence.RecordConnect(ctx, c.GetUserID(), c.GetRoomID())
	if err != nil {
		g.mu.Unlock()
		h.release(g)
		return err
	}
	g.clients[c] = id
	connected := len(g.clients)
	g.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"room_id": c.GetRoomID(),
		"user_id": c.GetUserID(),
	}).Infof("Client joined room, %d connected", connected)
	return nil
}

// LeaveRoom removes c from its room and closes its session. Unknown clients are ignored.
func (h *Hub) LeaveRoom(ctx context.Context, c Client) {
	g := h.lookup(c.GetRoomID())
	if g == nil {
		return
	}

	g.mu.Lock()
	id, ok := g.clients[c]
	delete(g.clients, c)
	remaining := len(g.clients)
	g.mu.Unlock()

	if !ok {
		return
	}
	h.release(g)
	c.Close()

	log := logrus.WithFields(logrus.Fields{
		"room_id": c.GetRoomID(),
		"user_id": c.GetUserID(),
	})
	if err := h.presence.RecordDisconnect(ctx, id); err != nil {
		log.WithError(err).Error("Failed to record disconnect")
	}
	log.Infof("Client left room, %d connected", remaining)
}

// JoinAlarms attaches c to the alarm group of its user.
func (h *Hub) JoinAlarms(c Client) {
	h.alarmsMu.Lock()
	defer h.alarmsMu.Unlock()

	if h.alarms[c.GetUserID()] == nil {
		h.alarms[c.GetUserID()] = make(map[Client]struct{})
	}
	h.alarms[c.GetUserID()][c] = struct{}{}
	logrus.WithField("user_id", c.GetUserID()).Info("Alarm listener attached")
}

// LeaveAlarms detaches c from its alarm group.
func (h *Hub) LeaveAlarms(c Client) {
	h.alarmsMu.Lock()
	listeners := h.alarms[c.GetUserID()]
	_, ok := listeners[c]
	delete(listeners, c)
	if len(listeners) == 0 {
		delete(h.alarms, c.GetUserID())
	}
	h.alarmsMu.Unlock()

	if ok {
		c.Close()
		logrus.WithField("user_id", c.GetUserID()).Info("Alarm listener detached")
	}
}

// DisconnectUser closes every connection of userID to roomID and returns how many
// were closed. Used when the user is no longer a participant.
func (h *Hub) DisconnectUser(ctx context.Context, roomID, userID string) int {
	g := h.lookup(roomID)
	if g == nil {
		return 0
	}

	var owned []Client
	g.mu.Lock()
	for c := range g.clients {
		if c.GetUserID() == userID {
			owned = append(owned, c)
		}
	}
	g.mu.Unlock()

	for _, c := range owned {
		h.LeaveRoom(ctx, c)
	}
	return len(owned)
}

// Unregister detaches c from whichever group it belongs to.
func (h *Hub) Unregister(ctx context.Context, c Client) {
	if c.GetRoomID() == "" {
		h.LeaveAlarms(c)
		return
	}
	h.LeaveRoom(ctx, c)
}

// PushAlarm sends text to every alarm listener of userID and reports whether there was one.
func (h *Hub) PushAlarm(userID, text string) bool {
	payload, err := json.Marshal(models.AlarmFrame{Alarm: text})
	if err != nil {
		logrus.WithError(err).Error("Failed to encode alarm frame")
		return false
	}

	h.alarmsMu.RLock()
	defer h.alarmsMu.RUnlock()

	listeners := h.alarms[userID]
	for c := range listeners {
		deliver(c, payload)
	}
	return len(listeners) > 0
}

// HandleFrame processes one inbound frame of a chat connection. Malformed frames
// are dropped without a reply. A frame with a body and a message_id is a send
// followed by a read-receipt.
func (h *Hub) HandleFrame(ctx context.Context, c Client, raw []byte) {
	log := logrus.WithFields(logrus.Fields{
		"room_id": c.GetRoomID(),
		"user_id": c.GetUserID(),
	})

	var frame models.ChatInbound
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.WithError(err).Debug("Dropping undecodable frame")
		return
	}

	if frame.HasBody() {
		if _, err := h.SubmitMessage(ctx, c.GetRoomID(), c.GetUserID(), deref(frame.Message), deref(frame.Image)); err != nil {
			log.WithError(err).Warn("Dropping message frame")
		}
	}
	if frame.IsReceipt() {
		if err := h.AcknowledgeRead(ctx, c.GetRoomID(), *frame.MessageID); err != nil {
			log.WithError(err).Warn("Dropping read receipt")
		}
	}
	if !frame.HasBody() && !frame.IsReceipt() {
		log.Debug("Dropping empty frame")
	}
}

// SubmitMessage persists a message and broadcasts it to the room's connections.
// The notification fan-out is dispatched afterwards and cannot undo the message.
func (h *Hub) SubmitMessage(ctx context.Context, roomID, senderID, content, image string) (*models.Message, error) {
	if err := chat.ValidateMessage(content, image); err != nil {
		return nil, err
	}

	g := h.acquire(roomID)
	defer h.release(g)

	g.mu.Lock()
	msg := &models.Message{
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
		Image:    image,
		SentAt:   g.nextSentAt(h.presence.Now()),
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("persist message in room %s: %w", roomID, err)
	}
	g.lastSentAt = msg.SentAt
	h.broadcast(g, models.NewReceivedFrame(msg))
	live := g.liveUsers()
	g.mu.Unlock()

	if h.dispatcher != nil {
		ev := notify.MessageEvent{
			MessageID:      msg.ID,
			RoomID:         roomID,
			SenderID:       senderID,
			SentAt:         msg.SentAt,
			LiveRecipients: live,
		}
		if err := h.dispatcher.DispatchMessage(ctx, ev); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_id":    roomID,
				"message_id": msg.ID,
			}).WithError(err).Error("Failed to dispatch message notification")
		}
	}
	return msg, nil
}

// AcknowledgeRead marks messageID read and tells the room. The read frame is sent
// for repeated receipts too.
func (h *Hub) AcknowledgeRead(ctx context.Context, roomID, messageID string) error {
	g := h.acquire(roomID)
	defer h.release(g)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := h.reads.Acknowledge(ctx, roomID, messageID); err != nil {
		return err
	}
	h.broadcast(g, models.NewReadFrame(messageID))
	return nil
}

// ConnectionCount returns the number of connections joined to roomID.
func (h *Hub) ConnectionCount(roomID string) int {
	g := h.lookup(roomID)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// AlarmListenerCount returns the number of alarm listeners of userID.
func (h *Hub) AlarmListenerCount(userID string) int {
	h.alarmsMu.RLock()
	defer h.alarmsMu.RUnlock()
	return len(h.alarms[userID])
}

// CloseAll detaches every connection, recording their disconnects.
func (h *Hub) CloseAll(ctx context.Context) {
	var clients []Client

	h.mu.Lock()
	for _, g := range h.rooms {
		g.mu.Lock()
		for c := range g.clients {
			clients = append(clients, c)
		}
		g.mu.Unlock()
	}
	h.mu.Unlock()

	h.alarmsMu.RLock()
	for _, listeners := range h.alarms {
		for c := range listeners {
			clients = append(clients, c)
		}
	}
	h.alarmsMu.RUnlock()

	for _, c := range clients {
		h.Unregister(ctx, c)
	}
	logrus.Infof("Hub closed %d connections", len(clients))
}

// nextSentAt returns a send time strictly after the room's previous one.
// Times are kept at microsecond precision to survive the database round trip.
func (g *roomGroup) nextSentAt(now time.Time) time.Time {
	now = now.Truncate(time.Microsecond)
	if !now.After(g.lastSentAt) {
		return g.lastSentAt.Add(time.Microsecond)
	}
	return now
}

// liveUsers returns the distinct users joined to the group, never nil.
// Must be called with g.mu held.
func (g *roomGroup) liveUsers() []string {
	seen := make(map[string]struct{}, len(g.clients))
	users := make([]string, 0, len(g.clients))
	for c := range g.clients {
		if _, dup := seen[c.GetUserID()]; dup {
			continue
		}
		seen[c.GetUserID()] = struct{}{}
		users = append(users, c.GetUserID())
	}
	return users
}

// broadcast must be called with g.mu held.
func (h *Hub) broadcast(g *roomGroup, frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode room frame")
		return
	}
	for c := range g.clients {
		deliver(c, payload)
	}
}

func deliver(c Client, payload []byte) {
	select {
	case c.GetSendChannel() <- payload:
	default:
		logrus.WithFields(logrus.Fields{
			"room_id": c.GetRoomID(),
			"user_id": c.GetUserID(),
		}).Warn("Send buffer full, dropping frame")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
