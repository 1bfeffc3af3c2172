// Package presence tracks which users currently hold a live connection to a room.
//
// Current state is kept in memory as a per-(user, room) session count, so a user
// with two open tabs stays connected until both close. Every connection is also
// persisted as a PresenceRecord, which the notification fan-out reads for the
// disconnect interval check.
package presence

import (
	"chatalarm/backend/internal/models"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HistoryStore is the persistence the registry needs.
type HistoryStore interface {
	CreatePresence(ctx context.Context, rec *models.PresenceRecord) error
	ClosePresence(ctx context.Context, recordID uint, at time.Time) error
	LatestDisconnect(ctx context.Context, userID, roomID string) (*time.Time, error)
	CloseOpenPresence(ctx context.Context, at time.Time) (int64, error)
}

type sessionKey struct {
	userID string
	roomID string
}

// Registry is safe for concurrent use.
type Registry struct {
	store HistoryStore
	now   func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]map[uint]struct{}
	owners   map[uint]sessionKey
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store HistoryStore) *Registry {
	return &Registry{
		store:    store,
		now:      time.Now,
		sessions: make(map[sessionKey]map[uint]struct{}),
		owners:   make(map[uint]sessionKey),
	}
}

// WithClock replaces the time source. Used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

// RecordConnect opens a new session for (userID, roomID) and returns its record id.
// Earlier open sessions of the same pair stay open.
func (r *Registry) RecordConnect(ctx context.Context, userID, roomID string) (uint, error) {
	rec := &models.PresenceRecord{
		UserID:      userID,
		RoomID:      roomID,
		ConnectedAt: r.now(),
	}
	if err := r.store.CreatePresence(ctx, rec); err != nil {
		return 0, fmt.Errorf("record connect of %s to room %s: %w", userID, roomID, err)
	}

	key := sessionKey{userID: userID, roomID: roomID}

	r.mu.Lock()
	if r.sessions[key] == nil {
		r.sessions[key] = make(map[uint]struct{})
	}
	r.sessions[key][rec.ID] = struct{}{}
	r.owners[rec.ID] = key
	open := len(r.sessions[key])
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"user_id":     userID,
		"room_id":     roomID,
		"presence_id": rec.ID,
		"sessions":    open,
	}).Debug("Presence connected")
	return rec.ID, nil
}

// RecordDisconnect closes the session recordID. Unknown or already closed ids are a no-op.
func (r *Registry) RecordDisconnect(ctx context.Context, recordID uint) error {
	r.mu.Lock()
	key, ok := r.owners[recordID]
	if ok {
		delete(r.owners, recordID)
		delete(r.sessions[key], recordID)
		if len(r.sessions[key]) == 0 {
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	// The in-memory state is already updated, so a failed write only loses history.
	if err := r.store.ClosePresence(ctx, recordID, r.now()); err != nil {
		return fmt.Errorf("record disconnect of %s from room %s: %w", key.userID, key.roomID, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":     key.userID,
		"room_id":     key.roomID,
		"presence_id": recordID,
	}).Debug("Presence disconnected")
	return nil
}

// IsCurrentlyConnected reports whether userID has at least one open session in roomID.
func (r *Registry) IsCurrentlyConnected(userID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sessionKey{userID: userID, roomID: roomID}]) > 0
}

// SessionCount returns the number of open sessions of userID in roomID.
func (r *Registry) SessionCount(userID, roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sessionKey{userID: userID, roomID: roomID}])
}

// LastDisconnect returns when userID last left roomID, or nil if no session was ever closed.
func (r *Registry) LastDisconnect(ctx context.Context, userID, roomID string) (*time.Time, error) {
	at, err := r.store.LatestDisconnect(ctx, userID, roomID)
	if err != nil {
		return nil, fmt.Errorf("last disconnect of %s from room %s: %w", userID, roomID, err)
	}
	return at, nil
}

// Recover closes presence records left open by a previous process.
// It must run before the first connection is accepted.
func (r *Registry) Recover(ctx context.Context) error {
	logrus.Info("Starting presence recovery process...")

	closed, err := r.store.CloseOpenPresence(ctx, r.now())
	if err != nil {
		return fmt.Errorf("recover presence: %w", err)
	}

	logrus.Infof("Presence recovery complete. Closed %d stale sessions.", closed)
	return nil
}
