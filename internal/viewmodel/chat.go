// Package viewmodel adapts realtime state to one UI session.
package viewmodel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"chat-client/internal/models"
	"chat-client/internal/observable"
)

var (
	ErrNoActiveRoom  = errors.New("no active room")
	ErrNoCurrentUser = errors.New("no current user")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrImageTooLarge = errors.New("image exceeds the size limit")
	ErrNotAnImage    = errors.New("payload is not an image")
)

const (
	DefaultTypingInterval = 3 * time.Second
	DefaultMaxImageBytes  = 5 << 20
)

// ChatRepository is the part of the realtime repository the chat screen
// uses.
type ChatRepository interface {
	Users() *observable.Value[[]models.User]
	Rooms() *observable.Value[[]models.ChatRoom]
	Messages() *observable.Value[map[string][]models.Message]
	Typing() *observable.Value[map[string][]string]
	MessagesFor(roomID string) []models.Message
	Room(roomID string) (models.ChatRoom, bool)

	JoinRoom(ctx context.Context, roomID string)
	LeaveRoom(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, content, roomID, senderID string, typ models.MessageType) (models.Message, error)
	ResendMessage(ctx context.Context, roomID, messageID string) (models.Message, error)
	SyncMessages(ctx context.Context, roomID string) (string, error)
	MarkSeen(ctx context.Context, roomID, messageID string) error
	MarkRoomAsRead(ctx context.Context, roomID string) error
	SendTyping(ctx context.Context, roomID string)
	SendStopTyping(ctx context.Context, roomID string)

	EnsurePrivateRoom(ctx context.Context, other models.User) (models.ChatRoom, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (models.ChatRoom, error)
	RenameGroup(ctx context.Context, roomID, name string) (models.ChatRoom, error)
	AddMember(ctx context.Context, roomID, userID string) (models.ChatRoom, error)
	KickMember(ctx context.Context, roomID, userID string) (models.ChatRoom, error)
	TransferAdmin(ctx context.Context, roomID, userID string) (models.ChatRoom, error)
	LeaveGroup(ctx context.Context, roomID string) error
	Pin(ctx context.Context, roomID string) error
	Unpin(ctx context.Context, roomID string) error
	Mute(ctx context.Context, roomID string) error
	Unmute(ctx context.Context, roomID string) error
	Archive(ctx context.Context, roomID string) error
	Unarchive(ctx context.Context, roomID string) error
}

// ChatOptions tunes a ChatViewModel. Zero values select the defaults.
type ChatOptions struct {
	TypingInterval time.Duration
	MaxImageBytes  int64
}

// ChatViewModel projects the repository onto the chat screen: the active
// room's messages, who is typing there and the user's friends.
type ChatViewModel struct {
	repo     ChatRepository
	typing   *rate.Limiter
	maxImage int64

	messages   *observable.Value[[]models.Message]
	typists    *observable.Value[[]string]
	friends    *observable.Value[[]models.User]
	activeRoom *observable.Value[string]

	mu          sync.Mutex
	currentUser string
	active      string
	generation  uint64
}

// NewChatViewModel builds a view-model over repo.
func NewChatViewModel(repo ChatRepository, opts ChatOptions) *ChatViewModel {
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = DefaultTypingInterval
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultMaxImageBytes
	}
	return &ChatViewModel{
		repo:       repo,
		typing:     rate.NewLimiter(rate.Every(opts.TypingInterval), 1),
		maxImage:   opts.MaxImageBytes,
		messages:   observable.New[[]models.Message](nil),
		typists:    observable.New[[]string](nil),
		friends:    observable.New[[]models.User](nil),
		activeRoom: observable.New(""),
	}
}

func (vm *ChatViewModel) Users() *observable.Value[[]models.User]       { return vm.repo.Users() }
func (vm *ChatViewModel) Rooms() *observable.Value[[]models.ChatRoom]   { return vm.repo.Rooms() }
func (vm *ChatViewModel) Messages() *observable.Value[[]models.Message] { return vm.messages }
func (vm *ChatViewModel) TypingUsers() *observable.Value[[]string]      { return vm.typists }
func (vm *ChatViewModel) Friends() *observable.Value[[]models.User]     { return vm.friends }
func (vm *ChatViewModel) ActiveRoomID() *observable.Value[string]       { return vm.activeRoom }

// CurrentUser returns the logged-in user id.
func (vm *ChatViewModel) CurrentUser() string {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.currentUser
}

// SetCurrentUser sets the logged-in user and recomputes the friend list.
func (vm *ChatViewModel) SetCurrentUser(userID string) {
	vm.mu.Lock()
	vm.currentUser = userID
	vm.mu.Unlock()
	vm.recomputeFriends(vm.repo.Users().Get())
}

func (vm *ChatViewModel) session() (userID, roomID string) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.currentUser, vm.active
}

// SetActiveRoom switches the screen to roomID. Cached messages are shown at
// once; a history sync is requested and the room is marked read. An empty id
// clears the selection.
func (vm *ChatViewModel) SetActiveRoom(ctx context.Context, roomID string) error {
	vm.mu.Lock()
	vm.generation++
	vm.active = roomID
	vm.mu.Unlock()

	vm.activeRoom.Set(roomID)
	vm.project()
	if roomID == "" {
		return nil
	}

	vm.repo.JoinRoom(ctx, roomID)
	if _, err := vm.repo.SyncMessages(ctx, roomID); err != nil {
		return fmt.Errorf("sync %s: %w", roomID, err)
	}
	return vm.repo.MarkRoomAsRead(ctx, roomID)
}

// project republishes the active room's messages and typists. A projection
// started before the active room changed is discarded.
func (vm *ChatViewModel) project() {
	vm.mu.Lock()
	roomID, gen := vm.active, vm.generation
	vm.mu.Unlock()

	var msgs []models.Message
	var typists []string
	if roomID != "" {
		msgs = vm.repo.MessagesFor(roomID)
		typists = vm.repo.Typing().Get()[roomID]
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if gen != vm.generation {
		return
	}
	vm.messages.Set(msgs)
	vm.typists.Set(typists)
}

func (vm *ChatViewModel) recomputeFriends(users []models.User) {
	self := vm.CurrentUser()
	var me *models.User
	for i := range users {
		if users[i].ID == self {
			me = &users[i]
			break
		}
	}
	var friends []models.User
	if me != nil {
		for _, u := range users {
			if u.ID != self && me.IsFriend(u.ID) {
				friends = append(friends, u)
			}
		}
	}
	vm.friends.Set(friends)
}

// SendMessage sends text to the active room.
func (vm *ChatViewModel) SendMessage(ctx context.Context, text string) (models.Message, error) {
	userID, roomID, err := vm.target()
	if err != nil {
		return models.Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	typ := models.MessageText
	if strings.HasPrefix(text, "data:image/") {
		typ = models.MessageImage
	}
	msg, err := vm.repo.SendMessage(ctx, text, roomID, userID, typ)
	vm.repo.SendStopTyping(ctx, roomID)
	vm.project()
	return msg, err
}

// SendImage reads an image and sends it inline as a data URL.
func (vm *ChatViewModel) SendImage(ctx context.Context, r io.Reader) (models.Message, error) {
	userID, roomID, err := vm.target()
	if err != nil {
		return models.Message{}, err
	}
	data, err := io.ReadAll(io.LimitReader(r, vm.maxImage+1))
	if err != nil {
		return models.Message{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return models.Message{}, ErrEmptyMessage
	}
	if int64(len(data)) > vm.maxImage {
		return models.Message{}, ErrImageTooLarge
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return models.Message{}, ErrNotAnImage
	}

	payload := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	msg, err := vm.repo.SendMessage(ctx, payload, roomID, userID, models.MessageImage)
	vm.project()
	return msg, err
}

// ResendMessage retries a failed message of the active room.
func (vm *ChatViewModel) ResendMessage(ctx context.Context, messageID string) (models.Message, error) {
	_, roomID, err := vm.target()
	if err != nil {
		return models.Message{}, err
	}
	msg, err := vm.repo.ResendMessage(ctx, roomID, messageID)
	vm.project()
	return msg, err
}

func (vm *ChatViewModel) target() (userID, roomID string, err error) {
	userID, roomID = vm.session()
	switch {
	case userID == "":
		return "", "", ErrNoCurrentUser
	case roomID == "":
		return "", "", ErrNoActiveRoom
	}
	return userID, roomID, nil
}

// DecodeImagePayload splits an inline image into its MIME type and bytes. A
// payload without a data URL header is decoded as plain base64.
func DecodeImagePayload(payload string) (string, []byte, error) {
	mime, body := "", payload
	if strings.HasPrefix(payload, "data:") {
		header, rest, ok := strings.Cut(payload, ",")
		if !ok {
			return "", nil, ErrNotAnImage
		}
		mime, _, _ = strings.Cut(strings.TrimPrefix(header, "data:"), ";")
		body = rest
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("decode image: %w", err)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return mime, data, nil
}

// MarkAsSeen reports a message from someone else as seen. Own messages and
// messages already seen are ignored.
func (vm *ChatViewModel) MarkAsSeen(ctx context.Context, msg models.Message) error {
	if msg.SenderID == vm.CurrentUser() || !msg.Status.CanAdvanceTo(models.StatusSeen) {
		return nil
	}
	err := vm.repo.MarkSeen(ctx, msg.RoomID, msg.ID)
	vm.project()
	return err
}

// OnUserInputChanged emits throttled typing signals for the active room and
// a stop signal once the input is cleared.
func (vm *ChatViewModel) OnUserInputChanged(ctx context.Context, text string) {
	_, roomID := vm.session()
	if roomID == "" {
		return
	}
	if text == "" {
		vm.repo.SendStopTyping(ctx, roomID)
		return
	}
	if vm.typing.Allow() {
		vm.repo.SendTyping(ctx, roomID)
	}
}

func (vm *ChatViewModel) JoinRoom(ctx context.Context, roomID string) {
	vm.repo.JoinRoom(ctx, roomID)
}

// LeaveRoom leaves a room, clearing the selection when it was active.
func (vm *ChatViewModel) LeaveRoom(ctx context.Context, roomID string) error {
	if err := vm.repo.LeaveRoom(ctx, roomID); err != nil {
		return err
	}
	return vm.deselect(ctx, roomID)
}

func (vm *ChatViewModel) deselect(ctx context.Context, roomID string) error {
	if _, active := vm.session(); active == roomID {
		return vm.SetActiveRoom(ctx, "")
	}
	return nil
}

func (vm *ChatViewModel) MarkRoomAsRead(ctx context.Context, roomID string) error {
	return vm.repo.MarkRoomAsRead(ctx, roomID)
}

func (vm *ChatViewModel) Pin(ctx context.Context, roomID string) error {
	return vm.repo.Pin(ctx, roomID)
}

func (vm *ChatViewModel) Unpin(ctx context.Context, roomID string) error {
	return vm.repo.Unpin(ctx, roomID)
}

func (vm *ChatViewModel) Mute(ctx context.Context, roomID string) error {
	return vm.repo.Mute(ctx, roomID)
}

func (vm *ChatViewModel) Unmute(ctx context.Context, roomID string) error {
	return vm.repo.Unmute(ctx, roomID)
}

func (vm *ChatViewModel) Archive(ctx context.Context, roomID string) error {
	return vm.repo.Archive(ctx, roomID)
}

func (vm *ChatViewModel) Unarchive(ctx context.Context, roomID string) error {
	return vm.repo.Unarchive(ctx, roomID)
}

// StartPrivateChat opens the private room with user and makes it active.
func (vm *ChatViewModel) StartPrivateChat(ctx context.Context, user models.User) (models.ChatRoom, error) {
	room, err := vm.repo.EnsurePrivateRoom(ctx, user)
	if err != nil {
		return room, err
	}
	return room, vm.SetActiveRoom(ctx, room.ID)
}

// CreateGroup creates a group and makes it active. The room is returned even
// when the create action could not be delivered.
func (vm *ChatViewModel) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.ChatRoom, error) {
	room, err := vm.repo.CreateGroup(ctx, name, memberIDs)
	if room.ID == "" {
		return room, err
	}
	if activateErr := vm.SetActiveRoom(ctx, room.ID); activateErr != nil {
		log.Warn().Err(activateErr).Str("room_id", room.ID).Msg("activating new group failed")
	}
	return room, err
}

func (vm *ChatViewModel) RenameGroup(ctx context.Context, roomID, name string) (models.ChatRoom, error) {
	return vm.repo.RenameGroup(ctx, roomID, name)
}

func (vm *ChatViewModel) AddMember(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	return vm.repo.AddMember(ctx, roomID, userID)
}

func (vm *ChatViewModel) KickMember(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	return vm.repo.KickMember(ctx, roomID, userID)
}

func (vm *ChatViewModel) TransferAdmin(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	return vm.repo.TransferAdmin(ctx, roomID, userID)
}

// LeaveGroup leaves a group, clearing the selection when it was active.
func (vm *ChatViewModel) LeaveGroup(ctx context.Context, roomID string) error {
	if err := vm.repo.LeaveGroup(ctx, roomID); err != nil {
		return err
	}
	return vm.deselect(ctx, roomID)
}

// Run keeps the projections current until ctx ends.
func (vm *ChatViewModel) Run(ctx context.Context) {
	msgs, stopMsgs := vm.repo.Messages().Subscribe()
	defer stopMsgs()
	users, stopUsers := vm.repo.Users().Subscribe()
	defer stopUsers()
	typing, stopTyping := vm.repo.Typing().Subscribe()
	defer stopTyping()

	for {
		select {
		case <-ctx.Done():
			return
		case <-msgs:
			vm.project()
		case <-typing:
			vm.project()
		case list := <-users:
			vm.recomputeFriends(list)
		}
	}
}
