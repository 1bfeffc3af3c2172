package chathub

import (
	"chatalarm/backend/internal/config"
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	UserID string
	RoomID string
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan []byte

	closeOnce sync.Once
}

// NewWebSocketClient wraps conn. An empty roomID makes it an alarm listener.
func NewWebSocketClient(hub *Hub, conn *websocket.Conn, userID, roomID string) *WebSocketClient {
	return &WebSocketClient{
		UserID: userID,
		RoomID: roomID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan []byte, config.SendBufferSize),
	}
}

func (c *WebSocketClient) GetUserID() string             { return c.UserID }
func (c *WebSocketClient) GetRoomID() string             { return c.RoomID }
func (c *WebSocketClient) GetSendChannel() chan<- []byte { return c.Send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which makes writePump send a close frame and exit.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(context.Background(), c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.MaxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithFields(logrus.Fields{
					"room_id": c.RoomID,
					"user_id": c.UserID,
				}).WithError(err).Warn("Unexpected websocket close")
			}
			return
		}

		// Alarm listeners only receive.
		if c.RoomID == "" {
			continue
		}
		c.Hub.HandleFrame(context.Background(), c, message)
	}
}

// writePump writes one frame per websocket message and pings the peer.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
