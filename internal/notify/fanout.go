// Package notify turns domain events into stored notifications and live alarm pushes.
package notify

import (
	"chatalarm/backend/internal/localization"
	"chatalarm/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// Pusher delivers an alarm text to the live notification channel of a user.
// It reports whether a listener was attached; absent listeners are not queued.
type Pusher interface {
	PushAlarm(userID, text string) bool
}

// Store is the persistence the fan-out needs.
type Store interface {
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Presence answers whether a recipient saw a message live.
type Presence interface {
	IsCurrentlyConnected(userID, roomID string) bool
	LastDisconnect(ctx context.Context, userID, roomID string) (*time.Time, error)
}

// MessageEvent describes a persisted chat message.
type MessageEvent struct {
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	SentAt    time.Time `json:"sent_at"`
	// LiveRecipients are the users joined to the room when the message was broadcast.
	// Nil means unknown, and the presence history decides instead.
	LiveRecipients []string `json:"live_recipients"`
}

// SocialEvent describes a follow, comment or like.
type SocialEvent struct {
	Category    models.NotificationCategory `json:"category"`
	RecipientID string                      `json:"recipient_id"`
	ActorID     string                      `json:"actor_id"`
	// ObjectID is the post the comment or like belongs to. Follows have none.
	ObjectID *string `json:"object_id,omitempty"`
}

// Validate checks the event before it is dispatched.
func (e SocialEvent) Validate() error {
	if e.Category == models.CategoryMessage || !e.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, e.Category)
	}
	if e.RecipientID == "" || e.ActorID == "" {
		return ErrMissingParty
	}
	return nil
}

var (
	ErrUnknownCategory = errors.New("notify: unknown event category")
	ErrMissingParty    = errors.New("notify: recipient and actor are required")
)

// Skip reasons reported in Outcome.
const (
	SkipConnected    = "recipient was live in the room when the message was sent"
	SkipSeenInWindow = "recipient session was still open at send time"
)

// Outcome is the decision taken for one recipient.
type Outcome struct {
	RecipientID    string
	Created        bool
	Pushed         bool
	NotificationID string
	SkipReason     string
}

// Fanout decides, per recipient, whether to store a notification and push it live.
type Fanout struct {
	store    Store
	presence Presence
	pusher   Pusher
	texts    *localization.Localizer
}

// NewFanout creates a Fanout. texts renders the notification messages.
func NewFanout(store Store, presence Presence, pusher Pusher, texts *localization.Localizer) *Fanout {
	return &Fanout{store: store, presence: presence, pusher: pusher, texts: texts}
}

// HandleMessage runs the fan-out for a new chat message. Recipients are evaluated
// independently; a failure for one does not stop the others.
func (f *Fanout) HandleMessage(ctx context.Context, ev MessageEvent) ([]Outcome, error) {
	room, err := f.store.GetRoomByID(ctx, ev.RoomID)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", ev.RoomID, err)
	}

	log := logrus.WithFields(logrus.Fields{
		"component":  "fanout",
		"room_id":    ev.RoomID,
		"message_id": ev.MessageID,
	})

	var (
		outcomes []Outcome
		errs     []error
	)
	for _, recipient := range room.Participants {
		if recipient == ev.SenderID {
			continue
		}

		notify, reason, err := f.shouldNotify(ctx, recipient, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !notify {
			log.WithField("user_id", recipient).Debugf("Notification skipped: %s", reason)
			outcomes = append(outcomes, Outcome{RecipientID: recipient, SkipReason: reason})
			continue
		}

		messageID := ev.MessageID
		out, err := f.deliver(ctx, &models.Notification{
			RecipientID:     recipient,
			SenderID:        ev.SenderID,
			Category:        models.CategoryMessage,
			Text:            f.render(models.CategoryMessage, ev.SenderID),
			RelatedObjectID: &messageID,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outcomes = append(outcomes, out)
	}

	return outcomes, errors.Join(errs...)
}

// shouldNotify decides for one recipient. The snapshot taken at send time wins;
// the fan-out may run long after the send, when presence has moved on.
func (f *Fanout) shouldNotify(ctx context.Context, recipient string, ev MessageEvent) (bool, string, error) {
	if ev.LiveRecipients != nil {
		if slices.Contains(ev.LiveRecipients, recipient) {
			return false, SkipConnected, nil
		}
		return true, "", nil
	}

	if f.presence.IsCurrentlyConnected(recipient, ev.RoomID) {
		return false, SkipConnected, nil
	}

	last, err := f.presence.LastDisconnect(ctx, recipient, ev.RoomID)
	if err != nil {
		return false, "", err
	}
	// Never connected, or left before the message was sent.
	if last == nil || last.Before(ev.SentAt) {
		return true, "", nil
	}
	return false, SkipSeenInWindow, nil
}

// HandleSocial stores and pushes the notification of a follow, comment or like.
func (f *Fanout) HandleSocial(ctx context.Context, ev SocialEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, err
	}

	return f.deliver(ctx, &models.Notification{
		RecipientID:     ev.RecipientID,
		SenderID:        ev.ActorID,
		Category:        ev.Category,
		Text:            f.render(ev.Category, ev.ActorID),
		RelatedObjectID: ev.ObjectID,
	})
}

// deliver persists n and then pushes its text. The push only happens once the
// notification is stored.
func (f *Fanout) deliver(ctx context.Context, n *models.Notification) (Outcome, error) {
	if err := f.store.CreateNotification(ctx, n); err != nil {
		return Outcome{}, fmt.Errorf("create %s notification for %s: %w", n.Category, n.RecipientID, err)
	}

	pushed := f.pusher.PushAlarm(n.RecipientID, n.Text)

	logrus.WithFields(logrus.Fields{
		"component":       "fanout",
		"user_id":         n.RecipientID,
		"category":        n.Category,
		"notification_id": n.ID,
		"pushed":          pushed,
	}).Info("Notification created")

	return Outcome{
		RecipientID:    n.RecipientID,
		Created:        true,
		Pushed:         pushed,
		NotificationID: n.ID,
	}, nil
}

func (f *Fanout) render(category models.NotificationCategory, actor string) string {
	return f.texts.T("alarm."+string(category), actor)
}
