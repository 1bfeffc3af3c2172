package handler_test

import (
	"bytes"
	"chatalarm/backend/internal/api/handler"
	"chatalarm/backend/internal/chat"
	"chatalarm/backend/internal/chathub"
	"chatalarm/backend/internal/localization"
	"chatalarm/backend/internal/middleware"
	"chatalarm/backend/internal/models"
	"chatalarm/backend/internal/notify"
	"chatalarm/backend/internal/presence"
	"chatalarm/backend/internal/storage"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type apiEnv struct {
	store      *storage.Memory
	hub        *chathub.Hub
	dispatcher *notify.InlineDispatcher
	router     *gin.Engine
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	texts, err := localization.NewEmbedded("ko")
	require.NoError(t, err)

	store := storage.NewMemoryStorage()
	reg := presence.NewRegistry(store)
	reads := chat.NewReadState(store, reg)
	hub := chathub.NewHub(store, reg, reads)
	dispatcher := notify.NewInlineDispatcher(notify.NewFanout(store, reg, hub, texts), time.Second)
	hub.SetDispatcher(dispatcher)
	rooms := chat.NewRoomService(store, reads, hub)

	h := handler.NewHandler(hub, rooms, store, dispatcher, texts).WithTokens(testSecret, time.Hour)
	r := gin.New()
	h.Register(r, middleware.Auth(testSecret), true)

	return &apiEnv{store: store, hub: hub, dispatcher: dispatcher, router: r}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := middleware.IssueToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *apiEnv) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) createRoom(t *testing.T, userID string, participants any) models.ChatRoom {
	t.Helper()
	w := e.do(t, userID, http.MethodPost, "/api/chat/rooms", gin.H{"participants": participants})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var room models.ChatRoom
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	return room
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestPing(t *testing.T) {
	e := newAPIEnv(t)
	w := e.do(t, "", http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message": "pong"}`, w.Body.String())
}

func TestIssueToken(t *testing.T) {
	e := newAPIEnv(t)

	w := e.do(t, "", http.MethodPost, "/api/auth/token", gin.H{"username": "user1"})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user1", body["user_id"])
	userID, err := middleware.ParseToken(body["token"], testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user1", userID)

	w = e.do(t, "", http.MethodPost, "/api/auth/token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["user_id"], "anonymous ids are generated")
}

func TestRoutesRequireAuth(t *testing.T) {
	e := newAPIEnv(t)
	for _, path := range []string{"/api/chat/rooms", "/api/alarms", "/ws/alarm"} {
		w := e.do(t, "", http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestCreateRoom(t *testing.T) {
	e := newAPIEnv(t)

	room := e.createRoom(t, "user1", []string{"user2"})
	assert.Equal(t, "user1, user2의 대화", room.Name)
	assert.ElementsMatch(t, []string{"user1", "user2"}, []string(room.Participants))

	w := e.do(t, "user2", http.MethodPost, "/api/chat/rooms", gin.H{"participants": []string{"user1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "이미 이 사용자와의 채팅방이 존재합니다.", decodeError(t, w))

	w = e.do(t, "user1", http.MethodPost, "/api/chat/rooms", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "참여자 username이 필요합니다.", decodeError(t, w))

	w = e.do(t, "user1", http.MethodPost, "/api/chat/rooms", gin.H{"participants": "user3, user4"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "1대1 채팅만 가능합니다.", decodeError(t, w))

	csv := e.createRoom(t, "user1", "user3")
	assert.Equal(t, "user1, user3의 대화", csv.Name)

	w = e.do(t, "user1", http.MethodGet, "/api/chat/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rooms []models.ChatRoom
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rooms))
	assert.Len(t, rooms, 2)
}

func TestRoomAccess(t *testing.T) {
	e := newAPIEnv(t)
	room := e.createRoom(t, "user1", []string{"user2"})

	w := e.do(t, "user3", http.MethodGet, "/api/chat/rooms/"+room.RoomID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, "user3", http.MethodGet, "/api/chat/rooms/"+room.RoomID+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, "user1", http.MethodGet, "/api/chat/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessagesAndRoomEntry(t *testing.T) {
	e := newAPIEnv(t)
	room := e.createRoom(t, "user1", []string{"user2"})
	base := "/api/chat/rooms/" + room.RoomID

	w := e.do(t, "user1", http.MethodPost, base+"/messages", gin.H{"content": "Hello!"})
	require.Equal(t, http.StatusCreated, w.Code)
	var sent models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, "user1", sent.SenderID)
	assert.False(t, sent.IsRead)

	w = e.do(t, "user1", http.MethodPost, base+"/messages", gin.H{"content": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "메시지는 텍스트 또는 이미지를 포함해야 합니다.", decodeError(t, w))

	w = e.do(t, "user2", http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, "user2", http.MethodGet, base+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRead, "entering the room read user1's message")

	e.dispatcher.Wait()
	alarms, err := e.store.ListNotifications(context.Background(), "user2")
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "user1님이 새로운 메시지를 보냈습니다.", alarms[0].Text)
}

func TestSearchMessages(t *testing.T) {
	e := newAPIEnv(t)
	room := e.createRoom(t, "user1", []string{"user2"})
	base := "/api/chat/rooms/" + room.RoomID

	require.Equal(t, http.StatusCreated, e.do(t, "user1", http.MethodPost, base+"/messages", gin.H{"content": "안녕하세요"}).Code)
	require.Equal(t, http.StatusCreated, e.do(t, "user2", http.MethodPost, base+"/messages", gin.H{"content": "반가워요"}).Code)

	w := e.do(t, "user2", http.MethodGet, base+"/messages/search?q="+"%EC%95%88%EB%85%95", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hits []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "안녕하세요", hits[0].Content)

	w = e.do(t, "user2", http.MethodGet, base+"/messages/search?q=nothing-here", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message": "검색 결과가 없습니다."}`, w.Body.String())

	w = e.do(t, "user2", http.MethodGet, base+"/messages/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLeaveRoom(t *testing.T) {
	e := newAPIEnv(t)
	room := e.createRoom(t, "user1", []string{"user2"})
	path := "/api/chat/rooms/" + room.RoomID + "/leave"

	assert.Equal(t, http.StatusNoContent, e.do(t, "user1", http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, "user1", http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNoContent, e.do(t, "user2", http.MethodDelete, path, nil).Code)

	assert.Equal(t, http.StatusNotFound, e.do(t, "user2", http.MethodGet, "/api/chat/rooms/"+room.RoomID, nil).Code)
}

func TestAlarms(t *testing.T) {
	e := newAPIEnv(t)
	ctx := context.Background()

	for _, n := range []*models.Notification{
		{RecipientID: "user1", SenderID: "user2", Category: models.CategoryFollow, Text: "a"},
		{RecipientID: "user1", SenderID: "user3", Category: models.CategoryLike, Text: "b"},
		{RecipientID: "user2", SenderID: "user1", Category: models.CategoryFollow, Text: "c"},
	} {
		require.NoError(t, e.store.CreateNotification(ctx, n))
	}

	w := e.do(t, "user1", http.MethodGet, "/api/alarms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var alarms []models.Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alarms))
	require.Len(t, alarms, 2)

	foreign, err := e.store.ListNotifications(ctx, "user2")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, e.do(t, "user1", http.MethodDelete, "/api/alarms/"+foreign[0].ID, nil).Code)

	assert.Equal(t, http.StatusNoContent, e.do(t, "user1", http.MethodDelete, "/api/alarms/"+alarms[0].ID, nil).Code)

	w = e.do(t, "user1", http.MethodDelete, "/api/alarms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message": "1개의 알림이 삭제되었습니다.", "deleted": 1}`, w.Body.String())

	remaining, err := e.store.ListNotifications(ctx, "user2")
	require.NoError(t, err)
	assert.Len(t, remaining, 1, "other users keep their notifications")
}

func TestEvents(t *testing.T) {
	e := newAPIEnv(t)

	assert.Equal(t, http.StatusAccepted, e.do(t, "user1", http.MethodPost, "/api/events/follow", gin.H{"user": "user2"}).Code)
	assert.Equal(t, http.StatusAccepted, e.do(t, "user3", http.MethodPost, "/api/events/like", gin.H{"post_id": "p1", "post_owner": "user2"}).Code)
	assert.Equal(t, http.StatusAccepted, e.do(t, "user3", http.MethodPost, "/api/events/comment", gin.H{"post_id": "p1", "post_owner": "user2"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, "user3", http.MethodPost, "/api/events/like", gin.H{"post_id": "p1"}).Code)

	e.dispatcher.Wait()
	alarms, err := e.store.ListNotifications(context.Background(), "user2")
	require.NoError(t, err)
	require.Len(t, alarms, 3)

	texts := make([]string, 0, len(alarms))
	for _, a := range alarms {
		texts = append(texts, a.Text)
	}
	assert.ElementsMatch(t, []string{
		"user1님이 회원님을 팔로우하기 시작했습니다.",
		"user3님이 회원님의 게시물을 좋아합니다.",
		"user3님이 회원님의 게시물에 댓글을 남겼습니다.",
	}, texts)
}

func wsURL(srv *httptest.Server, path, userToken string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + userToken
}

func TestServeChat(t *testing.T) {
	e := newAPIEnv(t)
	room := e.createRoom(t, "user1", []string{"user2"})
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/chat/"+room.RoomID, token(t, "user3")), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/chat/"+room.RoomID, token(t, "user2")), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.ConnectionCount(room.RoomID) == 1 }, 2*time.Second, 10*time.Millisecond)

	// A message sent over HTTP reaches the live channel.
	w := e.do(t, "user1", http.MethodPost, "/api/chat/rooms/"+room.RoomID+"/messages", gin.H{"content": "over http"})
	require.Equal(t, http.StatusCreated, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "over http", frame["message"])
	assert.Equal(t, "received", frame["status"])

	e.dispatcher.Wait()
	alarms, err := e.store.ListNotifications(context.Background(), "user2")
	require.NoError(t, err)
	assert.Empty(t, alarms, "user2 was live in the room")
}

func TestLeaveRoomClosesLiveChannel(t *testing.T) {
	e := newAPIEnv(t)
	room := e.createRoom(t, "user1", []string{"user2"})
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/chat/"+room.RoomID, token(t, "user2")), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.ConnectionCount(room.RoomID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusNoContent, e.do(t, "user2", http.MethodDelete, "/api/chat/rooms/"+room.RoomID+"/leave", nil).Code)
	assert.Zero(t, e.hub.ConnectionCount(room.RoomID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure), "got %v", err)
}

func TestServeAlarms(t *testing.T) {
	e := newAPIEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/alarm", token(t, "user2")), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return e.hub.AlarmListenerCount("user2") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusAccepted, e.do(t, "user1", http.MethodPost, "/api/events/follow", gin.H{"user": "user2"}).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, map[string]any{"alarm": "user1님이 회원님을 팔로우하기 시작했습니다."}, frame)
}
