package chathub

// Client is one live connection attached to the hub.
// A client with a room id is a chat connection; one without is an alarm listener.
type Client interface {
	// GetUserID returns the authenticated user behind the connection.
	GetUserID() string
	// GetRoomID returns the room the connection is scoped to, or "" for alarm listeners.
	GetRoomID() string

	// GetSendChannel returns the channel the hub writes encoded frames to.
	// The hub never blocks on it; frames are dropped when it is full.
	GetSendChannel() chan<- []byte

	// Run starts the client's read and write pumps.
	Run()
	// Close stops the write pump. It is safe to call more than once.
	Close()
}
