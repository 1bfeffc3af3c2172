package models

import "strings"

// Frame statuses sent to chat clients.
const (
	StatusReceived = "received"
	StatusRead     = "read"
)

// ChatInbound is a frame a client sends on a room channel.
// A frame with a body is a message send, a frame with message_id is a read-receipt,
// and a frame may be both.
type ChatInbound struct {
	Message   *string `json:"message"`
	Image     *string `json:"image"`
	MessageID *string `json:"message_id"`
}

// HasBody reports whether the frame carries text or an image reference.
func (f ChatInbound) HasBody() bool {
	return nonBlank(f.Message) || nonBlank(f.Image)
}

// IsReceipt reports whether the frame acknowledges a message.
func (f ChatInbound) IsReceipt() bool {
	return nonBlank(f.MessageID)
}

func nonBlank(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// ReceivedFrame announces a newly persisted message to the room.
type ReceivedFrame struct {
	Message   string `json:"message"`
	Image     string `json:"image,omitempty"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// ReadFrame announces that a message was read.
type ReadFrame struct {
	MessageID string `json:"message_id"`
	IsRead    bool   `json:"is_read"`
	Status    string `json:"status"`
}

// AlarmFrame is pushed on a user's notification channel.
type AlarmFrame struct {
	Alarm string `json:"alarm"`
}

// NewReceivedFrame builds the broadcast envelope of m.
func NewReceivedFrame(m *Message) ReceivedFrame {
	return ReceivedFrame{Message: m.Content, Image: m.Image, MessageID: m.ID, Status: StatusReceived}
}

// NewReadFrame builds the read broadcast of messageID.
func NewReadFrame(messageID string) ReadFrame {
	return ReadFrame{MessageID: messageID, IsRead: true, Status: StatusRead}
}
