package chat

import (
	"chatalarm/backend/internal/config"
	"strings"
	"unicode/utf8"
)

// ValidateMessage checks a message body before it is persisted.
func ValidateMessage(content, image string) error {
	if strings.TrimSpace(content) == "" && strings.TrimSpace(image) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > config.MaxMessageLength {
		return ErrMessageTooLong
	}
	if len(image) > config.MaxImageRefLength {
		return ErrImageRefTooLong
	}
	return nil
}
