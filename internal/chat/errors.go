package chat

import "errors"

var (
	ErrRoomNotFound     = errors.New("chat: room not found")
	ErrNotMember        = errors.New("chat: user is not a participant of the room")
	ErrPeerRequired     = errors.New("chat: a participant is required")
	ErrOneToOneOnly     = errors.New("chat: only one-to-one rooms are supported")
	ErrRoomExists       = errors.New("chat: a room with this user already exists")
	ErrEmptyMessage     = errors.New("chat: message must contain text or an image")
	ErrMessageTooLong   = errors.New("chat: message is too long")
	ErrImageRefTooLong  = errors.New("chat: image reference is too long")
	ErrMessageNotFound  = errors.New("chat: message not found")
	ErrMessageNotInRoom = errors.New("chat: message does not belong to the room")
	ErrQueryRequired    = errors.New("chat: search query is required")
)
