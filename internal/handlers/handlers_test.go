package handlers

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-client/internal/apiclient"
	"chat-client/internal/app"
	"chat-client/internal/mocks"
	"chat-client/internal/models"
	"chat-client/internal/observable"
	"chat-client/internal/realtime"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
	"chat-client/internal/viewmodel"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type sessionsStub struct {
	creds    models.Credentials
	loginErr error
	state    *observable.Value[models.ConnectionState]
}

func (s *sessionsStub) Login(_ context.Context, creds models.Credentials) (models.Credentials, error) {
	if s.loginErr != nil {
		return creds, s.loginErr
	}
	s.creds = creds
	return creds, nil
}

func (s *sessionsStub) Logout(context.Context) error {
	if s.creds.Token == "" {
		return app.ErrNotLoggedIn
	}
	s.creds = models.Credentials{}
	return nil
}

func (s *sessionsStub) Credentials() (models.Credentials, bool) {
	return s.creds, s.creds.Token != ""
}

func (s *sessionsStub) State() *observable.Value[models.ConnectionState] { return s.state }

type testEnv struct {
	router   *gin.Engine
	repo     *mocks.ChatRepositoryMock
	api      *mocks.ContactAPIMock
	pub      *mocks.PublisherMock
	sessions *sessionsStub
	chat     *viewmodel.ChatViewModel
	users    *observable.Value[[]models.User]
	rooms    *observable.Value[[]models.ChatRoom]
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		repo:     new(mocks.ChatRepositoryMock),
		api:      new(mocks.ContactAPIMock),
		pub:      new(mocks.PublisherMock),
		sessions: &sessionsStub{state: observable.New(models.ConnectionState{Status: models.ConnConnected})},
		users:    observable.New([]models.User{{ID: "u1", FriendIDs: []string{"u2"}}, {ID: "u2", Username: "bob"}}),
		rooms:    observable.New[[]models.ChatRoom](nil),
	}
	env.repo.On("Users").Return(env.users).Maybe()
	env.repo.On("Rooms").Return(env.rooms).Maybe()
	env.repo.On("Typing").Return(observable.New(map[string][]string{})).Maybe()
	env.pub.On("Publish", mock.Anything, "audit.chat-client", mock.AnythingOfType("telemetry.AuditEnvelope")).Return(nil).Maybe()

	audit := telemetry.NewAuditEmitter(env.pub, "audit.chat-client", "chat-client", "test")
	env.chat = viewmodel.NewChatViewModel(env.repo, viewmodel.ChatOptions{MaxImageBytes: 1024})
	env.chat.SetCurrentUser("u1")
	contacts := viewmodel.NewContactViewModel(env.api, nil)

	r := gin.New()
	r.Use(CurrentUser(env.chat.CurrentUser))
	Handlers{
		Session:  NewSessionHandler(env.sessions),
		Chat:     NewChatHandler(env.chat, audit),
		Group:    NewGroupHandler(env.chat, audit),
		Contacts: NewContactHandler(contacts),
	}.Register(r)
	env.router = r
	return env
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

// activate makes roomID the active room, projecting msgs.
func (env *testEnv) activate(t *testing.T, roomID string, msgs []models.Message) {
	t.Helper()
	env.repo.On("MessagesFor", roomID).Return(msgs)
	env.repo.On("JoinRoom", mock.Anything, roomID)
	env.repo.On("SyncMessages", mock.Anything, roomID).Return("req-1", nil)
	env.repo.On("MarkRoomAsRead", mock.Anything, roomID).Return(nil)

	rec := env.do(http.MethodPut, "/active-room", `{"roomId":"`+roomID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSessionRoutes(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(http.MethodPost, "/session", `{"userId":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodDelete, "/session", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/session", `{"token":"t","userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", decode(t, rec)["userId"])

	rec = env.do(http.MethodGet, "/session/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["loggedIn"])
	assert.Equal(t, "connected", body["state"].(map[string]any)["status"])

	rec = env.do(http.MethodDelete, "/session", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSessionLoginMapsErrors(t *testing.T) {
	env := setupRouter(t)
	env.sessions.loginErr = session.ErrNoUserID

	rec := env.do(http.MethodPost, "/session", `{"token":"opaque"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListUsersAndFriends(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["users"], 2)

	rec = env.do(http.MethodGet, "/friends", "")
	require.Equal(t, http.StatusOK, rec.Code)
	friends := decode(t, rec)["friends"].([]any)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0].(map[string]any)["username"])
}

func TestListRoomsOrdersAndFilters(t *testing.T) {
	env := setupRouter(t)
	now := time.Now()
	env.rooms.Set([]models.ChatRoom{
		{ID: "old", UpdatedAt: now.Add(-time.Hour)},
		{ID: "new", UpdatedAt: now},
		{ID: "pinned", Pinned: true, UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "archived", Archived: true, UpdatedAt: now},
	})

	rec := env.do(http.MethodGet, "/rooms?archived=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ids []string
	for _, r := range decode(t, rec)["rooms"].([]any) {
		ids = append(ids, r.(map[string]any)["id"].(string))
	}
	assert.Equal(t, []string{"pinned", "new", "old"}, ids)

	rec = env.do(http.MethodGet, "/rooms?archived=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageNeedsActiveRoom(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(http.MethodPost, "/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/messages", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessage(t *testing.T) {
	env := setupRouter(t)
	env.activate(t, "r1", nil)
	sent := models.Message{ID: "c1", ClientID: "c1", RoomID: "r1", SenderID: "u1", Content: "hi", Status: models.StatusSending}

	env.repo.On("SendMessage", mock.Anything, "hi", "r1", "u1", models.MessageText).Return(sent, nil).Once()
	env.repo.On("SendStopTyping", mock.Anything, "r1").Once()

	rec := env.do(http.MethodPost, "/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "sending", decode(t, rec)["status"])
	env.repo.AssertExpectations(t)
}

func TestPostMessageReturnsFailedMessage(t *testing.T) {
	env := setupRouter(t)
	env.activate(t, "r1", nil)
	failed := models.Message{ID: "c1", RoomID: "r1", Status: models.StatusFailed}

	env.repo.On("SendMessage", mock.Anything, "hi", "r1", "u1", models.MessageText).Return(failed, realtime.ErrOutboxFull).Once()
	env.repo.On("SendStopTyping", mock.Anything, "r1")

	rec := env.do(http.MethodPost, "/messages", `{"content":"hi"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "failed", decode(t, rec)["message"].(map[string]any)["status"])
}

func TestPostImageMultipart(t *testing.T) {
	env := setupRouter(t)
	env.activate(t, "r1", nil)

	env.repo.On("SendMessage", mock.Anything, mock.MatchedBy(func(content string) bool {
		return bytes.HasPrefix([]byte(content), []byte("data:image/png;base64,"))
	}), "r1", "u1", models.MessageImage).Return(models.Message{ID: "c2", Type: models.MessageImage}, nil).Once()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "dot.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/messages/image", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	env.repo.AssertExpectations(t)
}

func TestPostImageRejectsOversizeAndText(t *testing.T) {
	env := setupRouter(t)
	env.activate(t, "r1", nil)

	req := httptest.NewRequest(http.MethodPost, "/messages/image", bytes.NewReader(bytes.Repeat([]byte{0x89}, 2048)))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/messages/image", bytes.NewBufferString("plain words"))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestMarkSeen(t *testing.T) {
	env := setupRouter(t)
	env.activate(t, "r1", []models.Message{{ID: "m1", RoomID: "r1", SenderID: "u2", Status: models.StatusDelivered}})

	env.repo.On("MarkSeen", mock.Anything, "r1", "m1").Return(nil).Once()

	rec := env.do(http.MethodPost, "/messages/m1/seen", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodPost, "/messages/nope/seen", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env.repo.AssertExpectations(t)
}

func TestTyping(t *testing.T) {
	env := setupRouter(t)
	env.activate(t, "r1", nil)

	env.repo.On("SendTyping", mock.Anything, "r1").Once()
	env.repo.On("SendStopTyping", mock.Anything, "r1").Once()

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/typing", `{"text":"h"}`).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/typing", `{"text":""}`).Code)
	env.repo.AssertExpectations(t)
}

func TestRoomActions(t *testing.T) {
	env := setupRouter(t)

	env.repo.On("Pin", mock.Anything, "r1").Return(nil).Once()
	env.repo.On("Mute", mock.Anything, "missing").Return(realtime.ErrRoomNotFound).Once()
	env.repo.On("JoinRoom", mock.Anything, "r2").Once()

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/rooms/r1/pin", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/rooms/missing/mute", "").Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodPost, "/rooms/r2/join", "").Code)
	env.repo.AssertExpectations(t)
}

func TestStartPrivateChat(t *testing.T) {
	env := setupRouter(t)
	bob := models.User{ID: "u2", Username: "bob"}
	room := models.ChatRoom{ID: models.PrivateRoomID("u1", "u2"), Type: models.RoomPrivate}

	env.repo.On("EnsurePrivateRoom", mock.Anything, bob).Return(room, nil).Once()
	env.repo.On("MessagesFor", room.ID).Return(nil)
	env.repo.On("JoinRoom", mock.Anything, room.ID)
	env.repo.On("SyncMessages", mock.Anything, room.ID).Return("", nil)
	env.repo.On("MarkRoomAsRead", mock.Anything, room.ID).Return(nil)

	rec := env.do(http.MethodPost, "/rooms/private", `{"userId":"u2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, room.ID, decode(t, rec)["id"])
	assert.Equal(t, room.ID, env.chat.ActiveRoomID().Get())
}

func TestCreateGroup(t *testing.T) {
	env := setupRouter(t)
	room := models.ChatRoom{ID: "g1", Name: "team", Type: models.RoomGroup, AdminID: "u1"}

	env.repo.On("CreateGroup", mock.Anything, "team", []string{"u2", "u3"}).Return(room, nil).Once()
	env.repo.On("CreateGroup", mock.Anything, "solo", []string{"u2"}).Return(nil, models.ErrTooFewMembers).Once()
	env.repo.On("MessagesFor", "g1").Return(nil)
	env.repo.On("JoinRoom", mock.Anything, "g1")
	env.repo.On("SyncMessages", mock.Anything, "g1").Return("", nil)
	env.repo.On("MarkRoomAsRead", mock.Anything, "g1").Return(nil)

	rec := env.do(http.MethodPost, "/groups", `{"name":"team","memberIds":["u2","u3"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "g1", decode(t, rec)["id"])

	rec = env.do(http.MethodPost, "/groups", `{"name":"solo","memberIds":["u2"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/groups", `{"name":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.pub.AssertCalled(t, "Publish", mock.Anything, "audit.chat-client", mocks.AuditEvent("Group created"))
	env.pub.AssertCalled(t, "Publish", mock.Anything, "audit.chat-client", mocks.AuditEvent("Group creation rejected"))
}

func TestCreateGroupQueued(t *testing.T) {
	env := setupRouter(t)
	room := models.ChatRoom{ID: "g1", Name: "team", Type: models.RoomGroup}

	env.repo.On("CreateGroup", mock.Anything, "team", []string{"u2", "u3"}).Return(room, realtime.ErrOutboxFull).Once()
	env.repo.On("MessagesFor", "g1").Return(nil)
	env.repo.On("JoinRoom", mock.Anything, "g1")
	env.repo.On("SyncMessages", mock.Anything, "g1").Return("", nil)
	env.repo.On("MarkRoomAsRead", mock.Anything, "g1").Return(nil)

	rec := env.do(http.MethodPost, "/groups", `{"name":"team","memberIds":["u2","u3"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGroupAdministration(t *testing.T) {
	env := setupRouter(t)
	room := models.ChatRoom{ID: "g1", Type: models.RoomGroup, AdminID: "u1"}

	env.repo.On("RenameGroup", mock.Anything, "g1", "renamed").Return(room, nil).Once()
	env.repo.On("AddMember", mock.Anything, "g1", "u4").Return(room, nil).Once()
	env.repo.On("KickMember", mock.Anything, "g1", "u2").Return(nil, models.ErrNotAdmin).Once()
	env.repo.On("TransferAdmin", mock.Anything, "g1", "u9").Return(nil, models.ErrNotMember).Once()
	env.repo.On("LeaveGroup", mock.Anything, "g1").Return(nil).Once()

	assert.Equal(t, http.StatusOK, env.do(http.MethodPatch, "/groups/g1", `{"name":"renamed"}`).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/groups/g1/members", `{"userId":"u4"}`).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodDelete, "/groups/g1/members/u2", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/groups/g1/admin", `{"userId":"u9"}`).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/groups/g1/members/u1", "").Code)
	env.repo.AssertExpectations(t)
}

func TestGetGroup(t *testing.T) {
	env := setupRouter(t)
	env.rooms.Set([]models.ChatRoom{
		{ID: "g1", Type: models.RoomGroup, AdminID: "u1", Members: []string{"u1", "u2"}},
		{ID: "p1", Type: models.RoomPrivate},
	})

	rec := env.do(http.MethodGet, "/groups/g1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	members := decode(t, rec)["members"].([]any)
	require.Len(t, members, 2)
	assert.Equal(t, "admin", members[0].(map[string]any)["role"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/groups/p1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/groups/nope", "").Code)
}

func TestContactRoutes(t *testing.T) {
	env := setupRouter(t)

	env.api.On("SearchUsers", mock.Anything, "", "bob").Return([]models.User{{ID: "u2"}}, nil).Once()
	env.api.On("PendingRequests", mock.Anything, "").Return([]models.User{{ID: "u5"}}, nil).Once()
	env.api.On("SendFriendRequest", mock.Anything, "", "u2").Return(true, nil).Once()
	env.api.On("AcceptFriendRequest", mock.Anything, "", "u5").
		Return(false, &apiclient.APIError{StatusCode: http.StatusNotFound, Message: "no request"}).Once()

	rec := env.do(http.MethodGet, "/contacts/search?q=bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["users"], 1)

	rec = env.do(http.MethodGet, "/contacts/requests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["requests"], 1)

	rec = env.do(http.MethodPost, "/contacts/requests", `{"userId":"u2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	rec = env.do(http.MethodPost, "/contacts/requests/u5/accept", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	env.api.AssertExpectations(t)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{viewmodel.ErrEmptyMessage, http.StatusBadRequest},
		{viewmodel.ErrNoCurrentUser, http.StatusUnauthorized},
		{models.ErrNotAdmin, http.StatusForbidden},
		{realtime.ErrRoomNotFound, http.StatusNotFound},
		{viewmodel.ErrNoActiveRoom, http.StatusConflict},
		{realtime.ErrOutboxFull, http.StatusServiceUnavailable},
		{&apiclient.APIError{StatusCode: http.StatusInternalServerError}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestDebugRoutes(t *testing.T) {
	env := setupRouter(t)
	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.chat-client", mock.Anything).Return(nil).Once()

	r := gin.New()
	RegisterDebugRoutes(r, telemetry.NewAuditEmitter(pub, "audit.chat-client", "chat-client", "test"), env.chat, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	pub.AssertExpectations(t)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/snapshot", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", decode(t, rec)["currentUser"])

	disabled := gin.New()
	RegisterDebugRoutes(disabled, nil, env.chat, false)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
