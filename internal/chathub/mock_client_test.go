package chathub_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type MockClient struct {
	userID string
	roomID string
	send   chan []byte

	closeOnce sync.Once
	closed    bool
}

func newMockClient(userID, roomID string) *MockClient {
	return &MockClient{
		userID: userID,
		roomID: roomID,
		send:   make(chan []byte, 16),
	}
}

func (c *MockClient) GetUserID() string             { return c.userID }
func (c *MockClient) GetRoomID() string             { return c.roomID }
func (c *MockClient) GetSendChannel() chan<- []byte { return c.send }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closeOnce.Do(func() { c.closed = true })
}

// next decodes the next queued frame into a generic map.
func (c *MockClient) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case raw := <-c.send:
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		return frame
	default:
		require.FailNow(t, "no frame queued", "client %s/%s", c.userID, c.roomID)
		return nil
	}
}

func (c *MockClient) pending() int {
	return len(c.send)
}
