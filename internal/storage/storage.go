package storage

import (
	"chatalarm/backend/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrRoomExists is returned when a room for the same participant pair already exists.
	ErrRoomExists = errors.New("storage: room for this pair already exists")
)

// Storage is the persistence contract of the chat and alarm subsystem.
type Storage interface {
	CreateRoom(ctx context.Context, room *models.ChatRoom) error
	SaveRoom(ctx context.Context, room *models.ChatRoom) error
	DeleteRoom(ctx context.Context, roomID string) error
	GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error)

	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, messageID string) (*models.Message, error)
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	SearchMessages(ctx context.Context, roomID, query string) ([]models.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) (bool, error)
	MarkRoomMessagesRead(ctx context.Context, roomID, viewerID string) (int64, error)

	CreatePresence(ctx context.Context, rec *models.PresenceRecord) error
	ClosePresence(ctx context.Context, recordID uint, at time.Time) error
	LatestDisconnect(ctx context.Context, userID, roomID string) (*time.Time, error)
	CloseOpenPresence(ctx context.Context, at time.Time) (int64, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipientID string) ([]models.Notification, error)
	DeleteNotification(ctx context.Context, notificationID, recipientID string) error
	DeleteAllNotifications(ctx context.Context, recipientID string) (int64, error)
}

// Service is the PostgreSQL implementation of Storage.
type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Migrate creates or updates the tables of every persisted model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ChatRoom{},
		&models.Message{},
		&models.PresenceRecord{},
		&models.Notification{},
	)
}

// CreateRoom inserts a new room. The unique room key maps a second room for the
// same pair to ErrRoomExists.
func (s *Service) CreateRoom(ctx context.Context, room *models.ChatRoom) error {
	err := s.DB.WithContext(ctx).Create(room).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrRoomExists
	}
	if err != nil {
		return fmt.Errorf("create room %s: %w", room.RoomKey, err)
	}
	return nil
}

// SaveRoom updates the room's mutable columns.
func (s *Service) SaveRoom(ctx context.Context, room *models.ChatRoom) error {
	if err := s.DB.WithContext(ctx).Save(room).Error; err != nil {
		return fmt.Errorf("save room %s: %w", room.RoomID, err)
	}
	return nil
}

// DeleteRoom removes the room together with its messages.
func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages of room %s: %w", roomID, err)
		}
		res := tx.Where("room_id = ?", roomID).Delete(&models.ChatRoom{})
		if res.Error != nil {
			return fmt.Errorf("delete room %s: %w", roomID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Service) GetRoomByID(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return nil, ErrNotFound
	}

	var room models.ChatRoom

	err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return &room, nil
}

// ListRoomsForUser returns the rooms userID participates in, newest first.
func (s *Service) ListRoomsForUser(ctx context.Context, userID string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.DB.WithContext(ctx).
		Where("? = ANY(participants)", userID).
		Order("created_at desc").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms of %s: %w", userID, err)
	}
	return rooms, nil
}

// SaveMessage appends a message to its room's log.
func (s *Service) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("save message for room %s: %w", msg.RoomID, err)
	}
	return nil
}

func (s *Service) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, ErrNotFound
	}

	var msg models.Message
	err := s.DB.WithContext(ctx).Where("id = ?", messageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", messageID, err)
	}
	return &msg, nil
}

// ListMessages returns the room's messages in send order.
func (s *Service) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var history []models.Message
	if err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).Order("sent_at asc").Find(&history).Error; err != nil {
		return nil, fmt.Errorf("list messages of room %s: %w", roomID, err)
	}
	return history, nil
}

// SearchMessages returns the room's messages whose text contains query, case-insensitively.
func (s *Service) SearchMessages(ctx context.Context, roomID, query string) ([]models.Message, error) {
	var found []models.Message
	err := s.DB.WithContext(ctx).
		Where("room_id = ? AND content ILIKE ?", roomID, "%"+escapeLike(query)+"%").
		Order("sent_at asc").
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("search messages of room %s: %w", roomID, err)
	}
	return found, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// MarkMessageRead flips the read flag of one message. changed is false when the
// message was already read.
func (s *Service) MarkMessageRead(ctx context.Context, messageID string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND is_read = ?", messageID, false).
		Update("is_read", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark message %s read: %w", messageID, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := s.GetMessage(ctx, messageID); err != nil {
		return false, err
	}
	return false, nil
}

// MarkRoomMessagesRead marks every unread message of the room not sent by viewerID.
func (s *Service) MarkRoomMessagesRead(ctx context.Context, roomID, viewerID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ? AND is_read = ? AND sender_id <> ?", roomID, false, viewerID).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark room %s read for %s: %w", roomID, viewerID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Service) CreatePresence(ctx context.Context, rec *models.PresenceRecord) error {
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create presence for %s in room %s: %w", rec.UserID, rec.RoomID, err)
	}
	return nil
}

// ClosePresence sets the disconnect time of an open record. Closed records are left untouched.
func (s *Service) ClosePresence(ctx context.Context, recordID uint, at time.Time) error {
	err := s.DB.WithContext(ctx).Model(&models.PresenceRecord{}).
		Where("id = ? AND disconnected_at IS NULL", recordID).
		Update("disconnected_at", at).Error
	if err != nil {
		return fmt.Errorf("close presence %d: %w", recordID, err)
	}
	return nil
}

// LatestDisconnect returns the most recent disconnect time of (userID, roomID),
// or nil when no connection of the pair was ever closed.
func (s *Service) LatestDisconnect(ctx context.Context, userID, roomID string) (*time.Time, error) {
	var latest sql.NullTime
	err := s.DB.WithContext(ctx).Model(&models.PresenceRecord{}).
		Select("MAX(disconnected_at)").
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Row().Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("latest disconnect of %s in room %s: %w", userID, roomID, err)
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

// CloseOpenPresence closes every record still open, e.g. left behind by a crashed process.
func (s *Service) CloseOpenPresence(ctx context.Context, at time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.PresenceRecord{}).
		Where("disconnected_at IS NULL").
		Update("disconnected_at", at)
	if res.Error != nil {
		return 0, fmt.Errorf("close open presence: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Service) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := s.DB.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create %s notification for %s: %w", n.Category, n.RecipientID, err)
	}
	return nil
}

// ListNotifications returns the recipient's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, recipientID string) ([]models.Notification, error) {
	var alarms []models.Notification
	err := s.DB.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at desc").
		Find(&alarms).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications of %s: %w", recipientID, err)
	}
	return alarms, nil
}

// DeleteNotification removes one notification owned by recipientID.
func (s *Service) DeleteNotification(ctx context.Context, notificationID, recipientID string) error {
	if _, err := uuid.Parse(notificationID); err != nil {
		return ErrNotFound
	}
	res := s.DB.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", notificationID, recipientID).
		Delete(&models.Notification{})
	if res.Error != nil {
		return fmt.Errorf("delete notification %s: %w", notificationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) DeleteAllNotifications(ctx context.Context, recipientID string) (int64, error) {
	res := s.DB.WithContext(ctx).Where("recipient_id = ?", recipientID).Delete(&models.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete notifications of %s: %w", recipientID, res.Error)
	}
	return res.RowsAffected, nil
}
