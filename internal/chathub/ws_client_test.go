package chathub_test

import (
	"chatalarm/backend/internal/chathub"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWSServer serves the hub with the user taken from the query string.
func newWSServer(t *testing.T, e *hubEnv) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		roomID := r.URL.Query().Get("room")

		if roomID != "" {
			if _, err := e.hub.Authorize(r.Context(), userID, roomID); err != nil {
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := chathub.NewWebSocketClient(e.hub, conn, userID, roomID)
		if roomID == "" {
			e.hub.JoinAlarms(client)
		} else if err := e.hub.JoinRoom(context.Background(), client); err != nil {
			conn.Close()
			return
		}
		client.Run()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID, roomID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	q := url.Values{"user": {userID}, "room": {roomID}}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/?"+q.Encode(), nil)
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocket_EndToEnd(t *testing.T) {
	e := newHubEnv(t)
	srv := newWSServer(t, e)

	alarm, _, err := dial(t, srv, "user2", "")
	require.NoError(t, err)
	defer alarm.Close()
	require.Eventually(t, func() bool { return e.hub.AlarmListenerCount("user2") == 1 }, 2*time.Second, 10*time.Millisecond)

	user1, _, err := dial(t, srv, "user1", e.room.RoomID)
	require.NoError(t, err)
	defer user1.Close()

	require.Eventually(t, func() bool { return e.hub.ConnectionCount(e.room.RoomID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, user1.WriteJSON(map[string]string{"message": "Hello!"}))

	received := readJSON(t, user1)
	assert.Equal(t, "Hello!", received["message"])
	assert.Equal(t, "received", received["status"])
	messageID, _ := received["message_id"].(string)
	require.NotEmpty(t, messageID)

	assert.Equal(t, map[string]any{"alarm": "user1님이 새로운 메시지를 보냈습니다."}, readJSON(t, alarm))

	user2, _, err := dial(t, srv, "user2", e.room.RoomID)
	require.NoError(t, err)
	defer user2.Close()
	require.Eventually(t, func() bool { return e.hub.ConnectionCount(e.room.RoomID) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, user2.WriteJSON(map[string]string{"message_id": messageID}))

	want := map[string]any{"message_id": messageID, "is_read": true, "status": "read"}
	assert.Equal(t, want, readJSON(t, user1))
	assert.Equal(t, want, readJSON(t, user2))

	require.NoError(t, user1.Close())
	require.Eventually(t, func() bool {
		return !e.presence.IsCurrentlyConnected("user1", e.room.RoomID)
	}, 2*time.Second, 10*time.Millisecond, "closing the socket records the disconnect")
	assert.True(t, e.presence.IsCurrentlyConnected("user2", e.room.RoomID))
}

func TestWebSocket_NonMemberRejected(t *testing.T) {
	e := newHubEnv(t)
	srv := newWSServer(t, e)

	conn, resp, err := dial(t, srv, "intruder", e.room.RoomID)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Empty(t, e.store.PresenceHistory("intruder", e.room.RoomID))
	assert.Zero(t, e.hub.ConnectionCount(e.room.RoomID))
}
