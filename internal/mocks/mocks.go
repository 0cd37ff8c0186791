package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/models"
	"chat-client/internal/observable"
	"chat-client/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) Users() *observable.Value[[]models.User] {
	args := m.Called()
	return args.Get(0).(*observable.Value[[]models.User])
}

func (m *ChatRepositoryMock) Rooms() *observable.Value[[]models.ChatRoom] {
	args := m.Called()
	return args.Get(0).(*observable.Value[[]models.ChatRoom])
}

func (m *ChatRepositoryMock) Messages() *observable.Value[map[string][]models.Message] {
	args := m.Called()
	return args.Get(0).(*observable.Value[map[string][]models.Message])
}

func (m *ChatRepositoryMock) Typing() *observable.Value[map[string][]string] {
	args := m.Called()
	return args.Get(0).(*observable.Value[map[string][]string])
}

func (m *ChatRepositoryMock) MessagesFor(roomID string) []models.Message {
	args := m.Called(roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs
}

func (m *ChatRepositoryMock) Room(roomID string) (models.ChatRoom, bool) {
	args := m.Called(roomID)
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	return room, args.Bool(1)
}

func (m *ChatRepositoryMock) JoinRoom(ctx context.Context, roomID string) {
	m.Called(ctx, roomID)
}

func (m *ChatRepositoryMock) LeaveRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) SendMessage(ctx context.Context, content, roomID, senderID string, typ models.MessageType) (models.Message, error) {
	args := m.Called(ctx, content, roomID, senderID, typ)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatRepositoryMock) ResendMessage(ctx context.Context, roomID, messageID string) (models.Message, error) {
	args := m.Called(ctx, roomID, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatRepositoryMock) SyncMessages(ctx context.Context, roomID string) (string, error) {
	args := m.Called(ctx, roomID)
	return args.String(0), args.Error(1)
}

func (m *ChatRepositoryMock) MarkSeen(ctx context.Context, roomID, messageID string) error {
	args := m.Called(ctx, roomID, messageID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) MarkRoomAsRead(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) SendTyping(ctx context.Context, roomID string) {
	m.Called(ctx, roomID)
}

func (m *ChatRepositoryMock) SendStopTyping(ctx context.Context, roomID string) {
	m.Called(ctx, roomID)
}

func (m *ChatRepositoryMock) EnsurePrivateRoom(ctx context.Context, other models.User) (models.ChatRoom, error) {
	args := m.Called(ctx, other)
	return roomResult(args)
}

func (m *ChatRepositoryMock) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.ChatRoom, error) {
	args := m.Called(ctx, name, memberIDs)
	return roomResult(args)
}

func (m *ChatRepositoryMock) RenameGroup(ctx context.Context, roomID, name string) (models.ChatRoom, error) {
	args := m.Called(ctx, roomID, name)
	return roomResult(args)
}

func (m *ChatRepositoryMock) AddMember(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	args := m.Called(ctx, roomID, userID)
	return roomResult(args)
}

func (m *ChatRepositoryMock) KickMember(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	args := m.Called(ctx, roomID, userID)
	return roomResult(args)
}

func (m *ChatRepositoryMock) TransferAdmin(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	args := m.Called(ctx, roomID, userID)
	return roomResult(args)
}

func (m *ChatRepositoryMock) LeaveGroup(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) Pin(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *ChatRepositoryMock) Unpin(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *ChatRepositoryMock) Mute(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *ChatRepositoryMock) Unmute(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *ChatRepositoryMock) Archive(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func (m *ChatRepositoryMock) Unarchive(ctx context.Context, roomID string) error {
	return m.Called(ctx, roomID).Error(0)
}

func roomResult(args mock.Arguments) (models.ChatRoom, error) {
	var room models.ChatRoom
	if val := args.Get(0); val != nil {
		room = val.(models.ChatRoom)
	}
	return room, args.Error(1)
}

type ContactAPIMock struct {
	mock.Mock
}

func (m *ContactAPIMock) SearchUsers(ctx context.Context, token, query string) ([]models.User, error) {
	args := m.Called(ctx, token, query)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *ContactAPIMock) SendFriendRequest(ctx context.Context, token, userID string) (bool, error) {
	args := m.Called(ctx, token, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ContactAPIMock) AcceptFriendRequest(ctx context.Context, token, userID string) (bool, error) {
	args := m.Called(ctx, token, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ContactAPIMock) PendingRequests(ctx context.Context, token string) ([]models.User, error) {
	args := m.Called(ctx, token)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

type FriendSignalerMock struct {
	mock.Mock
}

func (m *FriendSignalerMock) SendFriendRequestSignal(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *FriendSignalerMock) RefreshUsers(ctx context.Context) {
	m.Called(ctx)
}

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) SaveRooms(ctx context.Context, rooms []models.ChatRoom) error {
	args := m.Called(ctx, rooms)
	return args.Error(0)
}

func (m *RoomRepositoryMock) ListRooms(ctx context.Context) ([]models.ChatRoom, error) {
	args := m.Called(ctx)
	var rooms []models.ChatRoom
	if val := args.Get(0); val != nil {
		rooms = val.([]models.ChatRoom)
	}
	return rooms, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) UpsertMessage(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ReplaceRoomMessages(ctx context.Context, roomID string, msgs []models.Message) error {
	args := m.Called(ctx, roomID, msgs)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
