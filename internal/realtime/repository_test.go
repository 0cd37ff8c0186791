package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
	"chat-client/internal/observable"
	"chat-client/internal/outbox"
	"chat-client/internal/repositories"
	"chat-client/internal/ws"
)

var testNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type sentFrame struct {
	Event string
	Data  string
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	connects  int
	channels  map[models.EventCategory]chan models.Frame
	sent      []sentFrame
	state     *observable.Value[models.ConnectionState]
}

var _ Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		channels: make(map[models.EventCategory]chan models.Frame),
		state:    observable.New(models.ConnectionState{Status: models.ConnDisconnected}),
	}
}

func (f *fakeTransport) Connect(context.Context, models.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	for category, ch := range f.channels {
		close(ch)
		delete(f.channels, category)
	}
}

func (f *fakeTransport) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ws.ErrNotConnected
	}
	data, err := jsoniter.Marshal(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentFrame{Event: event, Data: string(data)})
	return nil
}

func (f *fakeTransport) Subscribe(category models.EventCategory) <-chan models.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[category]
	if !ok {
		ch = make(chan models.Frame, 64)
		f.channels[category] = ch
	}
	return ch
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) State() *observable.Value[models.ConnectionState] {
	return f.state
}

func (f *fakeTransport) up(t *testing.T) {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.state.Set(models.ConnectionState{Status: models.ConnConnected})
	f.deliver(t, models.EventConnect, "")
}

func (f *fakeTransport) down() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) deliver(t *testing.T, event, data string) {
	t.Helper()
	category, ok := models.CategoryOf(event)
	require.True(t, ok, event)
	f.mu.Lock()
	ch := f.channels[category]
	f.mu.Unlock()
	require.NotNil(t, ch, "no consumer for %s", category)

	frame := models.Frame{Event: event}
	if data != "" {
		frame.Data = []byte(data)
	}
	select {
	case ch <- frame:
	case <-time.After(time.Second):
		t.Fatalf("delivering %s timed out", event)
	}
}

func (f *fakeTransport) frames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeTransport) events() []string {
	var out []string
	for _, s := range f.frames() {
		out = append(out, s.Event)
	}
	return out
}

func (f *fakeTransport) last(event string) (sentFrame, bool) {
	frames := f.frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == event {
			return frames[i], true
		}
	}
	return sentFrame{}, false
}

func (f *fakeTransport) waitFor(t *testing.T, event string) sentFrame {
	t.Helper()
	var got sentFrame
	require.Eventually(t, func() bool {
		s, ok := f.last(event)
		got = s
		return ok
	}, time.Second, 5*time.Millisecond, "no %s frame", event)
	return got
}

func testDecoder() models.Decoder {
	var n atomic.Int64
	return models.Decoder{
		Now:   func() time.Time { return testNow },
		NewID: func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
	}
}

func newTestRepo(t *testing.T, opts Options) (*Repository, *fakeTransport) {
	t.Helper()
	f := newFakeTransport()
	opts.Decoder = testDecoder()
	repo := New(f, opts)
	require.NoError(t, repo.Connect(context.Background(), models.Credentials{Token: "tok", UserID: "me"}))
	t.Cleanup(repo.Disconnect)
	return repo, f
}

func connectedRepo(t *testing.T) (*Repository, *fakeTransport) {
	repo, f := newTestRepo(t, Options{})
	f.up(t)
	f.waitFor(t, models.EventGetRooms)
	return repo, f
}

func messagesOf(repo *Repository, roomID string) func() []models.Message {
	return func() []models.Message { return repo.MessagesFor(roomID) }
}

func eventuallyLen(t *testing.T, get func() []models.Message, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(get()) == n }, time.Second, 5*time.Millisecond)
}

func TestConnectRequiresToken(t *testing.T) {
	repo := New(newFakeTransport(), Options{})
	assert.ErrorIs(t, repo.Connect(context.Background(), models.Credentials{UserID: "me"}), ErrNoSession)
}

func TestConnectIsIdempotent(t *testing.T) {
	repo, f := newTestRepo(t, Options{})
	require.NoError(t, repo.Connect(context.Background(), models.Credentials{Token: "tok", UserID: "me"}))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.channels, len(models.Categories))
}

func TestSendMessageIsOptimisticAndEchoDedupes(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	msg, err := repo.SendMessage(ctx, "hello", "r1", "me", models.MessageText)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSending, msg.Status)
	assert.Equal(t, msg.ID, msg.ClientID)
	require.Len(t, repo.MessagesFor("r1"), 1)

	sent := f.waitFor(t, models.EventSendMessage)
	assert.JSONEq(t, `{"clientId":"`+msg.ClientID+`","roomId":"r1","content":"hello","senderId":"me","type":"text"}`, sent.Data)

	f.deliver(t, models.EventReceive, `{"id":"srv-1","clientId":"`+msg.ClientID+`","roomId":"r1","senderId":"me","content":"hello","timestamp":1717234200000}`)
	require.Eventually(t, func() bool {
		list := repo.MessagesFor("r1")
		return len(list) == 1 && list[0].ID == "srv-1"
	}, time.Second, 5*time.Millisecond)

	got := repo.MessagesFor("r1")[0]
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, msg.ClientID, got.ClientID)

	// a second echo of the same server id stays a single entry
	f.deliver(t, models.EventReceived, `{"id":"srv-1","roomId":"r1","senderId":"me","content":"hello","status":"delivered"}`)
	require.Eventually(t, func() bool {
		list := repo.MessagesFor("r1")
		return len(list) == 1 && list[0].Status == models.StatusDelivered
	}, time.Second, 5*time.Millisecond)
}

func TestStatusUpdateAdoptsServerIDAndNeverRegresses(t *testing.T) {
	repo, f := connectedRepo(t)
	msg, err := repo.SendMessage(context.Background(), "hi", "r1", "me", "")
	require.NoError(t, err)
	assert.Equal(t, models.MessageText, msg.Type)

	f.deliver(t, models.EventMessageStatus, `{"id":"srv-9","clientId":"`+msg.ClientID+`","roomId":"r1","status":"delivered"}`)
	require.Eventually(t, func() bool {
		list := repo.MessagesFor("r1")
		return len(list) == 1 && list[0].ID == "srv-9" && list[0].Status == models.StatusDelivered
	}, time.Second, 5*time.Millisecond)

	f.deliver(t, models.EventMessageStatus, `{"id":"srv-9","status":"sent"}`)
	f.deliver(t, models.EventMessageStatus, `{"messageId":"srv-9","roomId":"r1","status":"seen"}`)
	require.Eventually(t, func() bool {
		return repo.MessagesFor("r1")[0].Status == models.StatusSeen
	}, time.Second, 5*time.Millisecond)
}

func TestAckKeepsOwnMessageOutOfReadReceipts(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	msg, err := repo.SendMessage(ctx, "hello", "r1", "me", models.MessageImage)
	require.NoError(t, err)
	f.deliver(t, models.EventReceived, `{"id":"srv-1","clientId":"`+msg.ClientID+`","roomId":"r1","status":"delivered"}`)
	require.Eventually(t, func() bool {
		list := repo.MessagesFor("r1")
		return len(list) == 1 && list[0].ID == "srv-1"
	}, time.Second, 5*time.Millisecond)

	got := repo.MessagesFor("r1")[0]
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "me", got.SenderID)
	assert.Equal(t, models.MessageImage, got.Type)
	assert.Equal(t, models.StatusDelivered, got.Status)

	require.NoError(t, repo.MarkRoomAsRead(ctx, "r1"))
	assert.Equal(t, models.StatusDelivered, repo.MessagesFor("r1")[0].Status)
	_, marked := f.last(models.EventMarkSeen)
	assert.False(t, marked)
}

func TestMalformedMessagesUseDefaults(t *testing.T) {
	repo, f := connectedRepo(t)

	f.deliver(t, models.EventReceive, `{"content":"no room"}`)
	f.deliver(t, models.EventReceive, `{"roomId":"r1","content":5,"timestamp":"garbage","status":"weird"}`)
	eventuallyLen(t, messagesOf(repo, "r1"), 1)

	got := repo.MessagesFor("r1")[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "", got.Content)
	assert.Equal(t, models.AnonymousSender, got.SenderID)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, models.MessageText, got.Type)
	assert.True(t, got.Timestamp.Equal(testNow))
	assert.Empty(t, repo.MessagesFor(""))
}

func TestUnknownRoomRequestsRoomList(t *testing.T) {
	_, f := connectedRepo(t)
	before := len(f.frames())

	f.deliver(t, models.EventReceive, `{"id":"m1","roomId":"elsewhere","senderId":"u2"}`)
	require.Eventually(t, func() bool { return len(f.frames()) > before }, time.Second, 5*time.Millisecond)
	s, _ := f.last(models.EventGetRooms)
	assert.Equal(t, "null", s.Data)
}

func TestSyncKeepsPendingMessagesAndNeverRegresses(t *testing.T) {
	repo, f := newTestRepo(t, Options{})
	ctx := context.Background()

	f.deliver(t, models.EventReceive, `{"id":"a","roomId":"r1","senderId":"u2","status":"delivered"}`)
	eventuallyLen(t, messagesOf(repo, "r1"), 1)

	// offline: the message is queued and stays pending
	pending, err := repo.SendMessage(ctx, "later", "r1", "me", models.MessageText)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSending, pending.Status)

	f.deliver(t, models.EventMessagesSync, `{"roomId":"r1","messages":[
		{"id":"a","roomId":"r1","senderId":"u2","status":"sent"},
		{"id":"b","senderId":"u3","content":"new"}
	]}`)
	require.Eventually(t, func() bool {
		list := repo.MessagesFor("r1")
		return len(list) == 3 && list[1].ID == "b"
	}, time.Second, 5*time.Millisecond)

	list := repo.MessagesFor("r1")
	assert.Equal(t, models.StatusDelivered, list[0].Status)
	assert.Equal(t, "r1", list[1].RoomID)
	assert.Equal(t, pending.ID, list[2].ID)
	assert.Equal(t, models.StatusSending, list[2].Status)
}

func TestSyncAcceptsBareArray(t *testing.T) {
	repo, f := newTestRepo(t, Options{})

	f.deliver(t, models.EventMessagesSync, `[{"id":"x","roomId":"r7"},{"id":"y","roomId":"r7"}]`)
	eventuallyLen(t, messagesOf(repo, "r7"), 2)
}

func TestSupersededSyncIsDropped(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	repo.JoinRoom(ctx, "r1")
	first, err := repo.SyncMessages(ctx, "r1")
	require.NoError(t, err)
	second, err := repo.SyncMessages(ctx, "r1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	f.deliver(t, models.EventMessagesSync, `{"roomId":"r1","requestId":"`+second+`","messages":[{"id":"fresh"}]}`)
	f.deliver(t, models.EventMessagesSync, `{"roomId":"r1","requestId":"`+first+`","messages":[{"id":"stale"}]}`)
	// a response for another room still applies, only to that room
	f.deliver(t, models.EventMessagesSync, `{"roomId":"r2","requestId":"other","messages":[{"id":"z"}]}`)
	eventuallyLen(t, messagesOf(repo, "r2"), 1)

	list := repo.MessagesFor("r1")
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].ID)
}

func TestHistoryForLeftRoomIsIgnored(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	repo.JoinRoom(ctx, "r1")
	requestID, err := repo.SyncMessages(ctx, "r1")
	require.NoError(t, err)
	require.NotEmpty(t, requestID)
	require.NoError(t, repo.LeaveRoom(ctx, "r1"))

	f.deliver(t, models.EventMessagesSync, `{"roomId":"r1","requestId":"`+requestID+`","messages":[{"id":"late"}]}`)
	f.deliver(t, models.EventMessagesSync, `{"roomId":"r1","messages":[{"id":"untagged"}]}`)
	f.deliver(t, models.EventMessagesSync, `{"roomId":"r2","messages":[{"id":"marker"}]}`)
	eventuallyLen(t, messagesOf(repo, "r2"), 1)
	assert.Empty(t, repo.MessagesFor("r1"))

	// joining again accepts history
	repo.JoinRoom(ctx, "r1")
	f.deliver(t, models.EventMessagesSync, `{"roomId":"r1","messages":[{"id":"again"}]}`)
	eventuallyLen(t, messagesOf(repo, "r1"), 1)
	assert.Equal(t, "again", repo.MessagesFor("r1")[0].ID)
}

func TestSyncWhileOfflineSendsNothing(t *testing.T) {
	repo, f := newTestRepo(t, Options{})

	id, err := repo.SyncMessages(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, f.frames())
}

func TestOfflineActionsFlushOnConnect(t *testing.T) {
	repo, f := newTestRepo(t, Options{})
	ctx := context.Background()

	repo.JoinRoom(ctx, "r1")
	repo.SendTyping(ctx, "r1")
	_, err := repo.SendMessage(ctx, "queued", "r1", "me", models.MessageText)
	require.NoError(t, err)
	assert.Empty(t, f.frames())

	f.up(t)
	f.waitFor(t, models.EventGetRooms)
	assert.Equal(t, []string{
		models.EventJoinRoom,
		models.EventSendMessage,
		models.EventSyncMessages,
		models.EventGetOnlineUsers,
		models.EventGetRooms,
	}, f.events())

	join, _ := f.last(models.EventJoinRoom)
	assert.Equal(t, `"r1"`, join.Data)
	send, _ := f.last(models.EventSendMessage)
	assert.Contains(t, send.Data, `"content":"queued"`)
}

// gatedTransport holds the first emit whose payload contains hold until
// release is closed.
type gatedTransport struct {
	*fakeTransport
	hold    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedTransport) Emit(ctx context.Context, event string, payload any) error {
	if data, err := jsoniter.Marshal(payload); err == nil && strings.Contains(string(data), g.hold) {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.fakeTransport.Emit(ctx, event, payload)
}

func TestLiveSendWaitsForOutboxReplay(t *testing.T) {
	g := &gatedTransport{
		fakeTransport: newFakeTransport(),
		hold:          `"content":"q1"`,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	repo := New(g, Options{Decoder: testDecoder()})
	require.NoError(t, repo.Connect(context.Background(), models.Credentials{Token: "tok", UserID: "me"}))
	t.Cleanup(repo.Disconnect)
	ctx := context.Background()

	for _, content := range []string{"q1", "q2"} {
		_, err := repo.SendMessage(ctx, content, "r1", "me", models.MessageText)
		require.NoError(t, err)
	}

	g.up(t)
	select {
	case <-g.entered:
	case <-time.After(time.Second):
		t.Fatal("outbox replay never started")
	}

	done := make(chan error, 1)
	go func() {
		_, err := repo.SendMessage(ctx, "live", "r1", "me", models.MessageText)
		done <- err
	}()
	assert.Never(t, func() bool {
		for _, s := range g.frames() {
			if strings.Contains(s.Data, `"content":"live"`) {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, 5*time.Millisecond)

	close(g.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("live send never returned")
	}

	var order []string
	for _, s := range g.frames() {
		if s.Event == models.EventSendMessage {
			order = append(order, jsoniter.Get([]byte(s.Data), "content").ToString())
		}
	}
	assert.Equal(t, []string{"q1", "q2", "live"}, order)
}

func TestOutboxFullMarksMessageFailed(t *testing.T) {
	repo, f := newTestRepo(t, Options{Outbox: outbox.NewMemoryOutbox(1)})
	ctx := context.Background()

	_, err := repo.SendMessage(ctx, "one", "r1", "me", models.MessageText)
	require.NoError(t, err)
	second, err := repo.SendMessage(ctx, "two", "r1", "me", models.MessageText)
	assert.ErrorIs(t, err, ErrOutboxFull)
	assert.Equal(t, models.StatusFailed, second.Status)

	list := repo.MessagesFor("r1")
	require.Len(t, list, 2)
	assert.Equal(t, models.StatusSending, list[0].Status)
	assert.Equal(t, models.StatusFailed, list[1].Status)

	f.up(t)
	f.waitFor(t, models.EventGetRooms)

	retried, err := repo.ResendMessage(ctx, "r1", second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSending, retried.Status)
	resent, _ := f.last(models.EventSendMessage)
	assert.Contains(t, resent.Data, `"content":"two"`)

	_, err = repo.ResendMessage(ctx, "r1", "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDisconnectStopsConsumers(t *testing.T) {
	f := newFakeTransport()
	repo := New(f, Options{Decoder: testDecoder()})
	require.NoError(t, repo.Connect(context.Background(), models.Credentials{Token: "tok", UserID: "me"}))

	done := make(chan struct{})
	go func() {
		repo.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Disconnect did not return")
	}

	f.mu.Lock()
	assert.Empty(t, f.channels)
	f.mu.Unlock()

	// a new session subscribes again
	require.NoError(t, repo.Connect(context.Background(), models.Credentials{Token: "tok", UserID: "me"}))
	f.mu.Lock()
	assert.Len(t, f.channels, len(models.Categories))
	assert.Equal(t, 2, f.connects)
	f.mu.Unlock()
	repo.Disconnect()
}

func TestCreateGroupValidatesMembers(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	_, err := repo.CreateGroup(ctx, "Team", []string{"u2"})
	assert.ErrorIs(t, err, models.ErrTooFewMembers)
	_, err = repo.CreateGroup(ctx, "Team", []string{"u2", "u2", "me"})
	assert.ErrorIs(t, err, models.ErrTooFewMembers)
	_, err = repo.CreateGroup(ctx, "  ", []string{"u2", "u3"})
	assert.ErrorIs(t, err, models.ErrBlankRoomName)
	assert.Empty(t, repo.Rooms().Get())

	room, err := repo.CreateGroup(ctx, "Team", []string{"u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, "me", room.AdminID)
	assert.Equal(t, []string{"me", "u2", "u3"}, room.Members)

	created := f.waitFor(t, models.EventCreateGroup)
	assert.JSONEq(t, `{"roomId":"`+room.ID+`","name":"Team","members":["me","u2","u3"],"adminId":"me"}`, created.Data)
	_, ok := repo.Room(room.ID)
	assert.True(t, ok)
}

func TestGroupAdministration(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	room, err := repo.CreateGroup(ctx, "Team", []string{"u2", "u3"})
	require.NoError(t, err)

	_, err = repo.AddMember(ctx, room.ID, "u2")
	assert.ErrorIs(t, err, models.ErrAlreadyMember)
	room, err = repo.AddMember(ctx, room.ID, "u4")
	require.NoError(t, err)
	assert.Contains(t, room.Members, "u4")

	_, err = repo.KickMember(ctx, room.ID, "u9")
	assert.ErrorIs(t, err, models.ErrNotMember)
	room, err = repo.KickMember(ctx, room.ID, "u3")
	require.NoError(t, err)
	assert.NotContains(t, room.Members, "u3")

	room, err = repo.RenameGroup(ctx, room.ID, "Core")
	require.NoError(t, err)
	assert.Equal(t, "Core", room.Name)

	room, err = repo.TransferAdmin(ctx, room.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", room.AdminID)

	// no longer the admin
	_, err = repo.KickMember(ctx, room.ID, "u4")
	assert.ErrorIs(t, err, models.ErrNotAdmin)

	require.NoError(t, repo.LeaveGroup(ctx, room.ID))
	left, ok := repo.Room(room.ID)
	require.True(t, ok)
	assert.True(t, left.Archived)
	assert.False(t, left.HasMember("me"))
	f.waitFor(t, models.EventLeaveRoom)

	_, err = repo.RenameGroup(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomSettingsAreAppliedAndSent(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	room, err := repo.EnsurePrivateRoom(ctx, models.User{ID: "u2", Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, models.PrivateRoomID("me", "u2"), room.ID)
	assert.Equal(t, "bob", room.Name)

	again, err := repo.EnsurePrivateRoom(ctx, models.User{ID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)
	assert.Len(t, repo.Rooms().Get(), 1)

	require.NoError(t, repo.Pin(ctx, room.ID))
	require.NoError(t, repo.Mute(ctx, room.ID))
	require.NoError(t, repo.Unpin(ctx, room.ID))
	got, _ := repo.Room(room.ID)
	assert.False(t, got.Pinned)
	assert.True(t, got.Muted)

	s, _ := f.last(models.EventRoomSettings)
	assert.JSONEq(t, `{"roomId":"`+room.ID+`","pinned":false,"muted":true,"archived":false}`, s.Data)

	assert.ErrorIs(t, repo.Archive(ctx, "missing"), ErrRoomNotFound)
	_, err = repo.AddMember(ctx, room.ID, "u3")
	assert.ErrorIs(t, err, models.ErrNotGroupRoom)
}

func TestRoomsListKeepsLocalRoomsUntilKnown(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	group, err := repo.CreateGroup(ctx, "Team", []string{"u2", "u3"})
	require.NoError(t, err)

	f.deliver(t, models.EventRoomsList, `{"rooms":[{"id":"r1","name":"One","members":["me","u2"]}]}`)
	require.Eventually(t, func() bool { return len(repo.Rooms().Get()) == 2 }, time.Second, 5*time.Millisecond)

	f.deliver(t, models.EventRoomsList, `[{"id":"`+group.ID+`","name":"Team","type":"group","adminId":"me","members":["me","u2","u3"]}]`)
	require.Eventually(t, func() bool {
		rooms := repo.Rooms().Get()
		return len(rooms) == 1 && rooms[0].ID == group.ID
	}, time.Second, 5*time.Millisecond)

	f.deliver(t, models.EventRoomUpdated, `{"room":{"id":"`+group.ID+`","name":"Renamed","type":"group","members":["me","u2","u3"]}}`)
	require.Eventually(t, func() bool {
		r, _ := repo.Room(group.ID)
		return r.Name == "Renamed"
	}, time.Second, 5*time.Millisecond)
}

func TestUnreadCountAndMarkRoomAsRead(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	f.deliver(t, models.EventRoomsList, `{"rooms":[{"id":"r1","members":["me","u2"]}]}`)
	require.Eventually(t, func() bool { return len(repo.Rooms().Get()) == 1 }, time.Second, 5*time.Millisecond)

	f.deliver(t, models.EventReceive, `{"id":"m1","roomId":"r1","senderId":"u2","content":"a"}`)
	f.deliver(t, models.EventReceive, `{"id":"m2","roomId":"r1","senderId":"u2","content":"b"}`)
	f.deliver(t, models.EventReceive, `{"id":"m2","roomId":"r1","senderId":"u2","content":"b"}`)
	f.deliver(t, models.EventReceive, `{"id":"m3","roomId":"r1","senderId":"me","content":"c"}`)
	require.Eventually(t, func() bool {
		room, _ := repo.Room("r1")
		return room.LastMessage != nil && room.LastMessage.ID == "m3"
	}, time.Second, 5*time.Millisecond)

	room, _ := repo.Room("r1")
	assert.Equal(t, 2, room.UnreadCount)
	assert.Len(t, repo.MessagesFor("r1"), 3)

	require.NoError(t, repo.MarkRoomAsRead(ctx, "r1"))
	room, _ = repo.Room("r1")
	assert.Zero(t, room.UnreadCount)
	list := repo.MessagesFor("r1")
	assert.Equal(t, models.StatusSeen, list[0].Status)
	assert.Equal(t, models.StatusSeen, list[1].Status)
	assert.Equal(t, models.StatusSent, list[2].Status)

	seen, ok := f.last(models.EventMarkSeen)
	require.True(t, ok)
	assert.JSONEq(t, `{"roomId":"r1","messageId":"m2"}`, seen.Data)
}

func TestMessageSeenMarksEarlierMessages(t *testing.T) {
	repo, f := connectedRepo(t)

	f.deliver(t, models.EventReceive, `{"id":"m1","roomId":"r1","senderId":"me"}`)
	f.deliver(t, models.EventReceive, `{"id":"m2","roomId":"r1","senderId":"u2"}`)
	f.deliver(t, models.EventReceive, `{"id":"m3","roomId":"r1","senderId":"me"}`)
	f.deliver(t, models.EventReceive, `{"id":"m4","roomId":"r1","senderId":"me"}`)
	f.deliver(t, models.EventMessageSeen, `{"roomId":"r1","messageId":"m3"}`)
	require.Eventually(t, func() bool {
		list := repo.MessagesFor("r1")
		return len(list) == 4 && list[2].Status == models.StatusSeen
	}, time.Second, 5*time.Millisecond)

	list := repo.MessagesFor("r1")
	assert.Equal(t, models.StatusSeen, list[0].Status)
	assert.Equal(t, models.StatusSent, list[1].Status)
	assert.Equal(t, models.StatusSent, list[3].Status)
}

func TestPresenceAndTyping(t *testing.T) {
	repo, f := connectedRepo(t)

	f.deliver(t, models.EventUsersList, `[{"id":"u2","username":"bob"},{"_id":"u3","username":"carol","isOnline":true},{"username":"nobody"}]`)
	require.Eventually(t, func() bool { return len(repo.Users().Get()) == 2 }, time.Second, 5*time.Millisecond)

	f.deliver(t, models.EventUserOnline, `{"userId":"u2"}`)
	f.deliver(t, models.EventUserOffline, `"u3"`)
	f.deliver(t, models.EventUserOnline, `{"user":{"id":"u4","username":"dave"}}`)
	require.Eventually(t, func() bool { return len(repo.Users().Get()) == 3 }, time.Second, 5*time.Millisecond)

	users := repo.Users().Get()
	assert.True(t, users[0].IsOnline)
	assert.False(t, users[1].IsOnline)
	assert.True(t, users[1].LastSeen.Equal(testNow))
	assert.True(t, users[2].IsOnline)

	f.deliver(t, models.EventTyping, `{"roomId":"r1","userId":"u2"}`)
	f.deliver(t, models.EventTyping, `{"roomId":"r1","userId":"me"}`)
	f.deliver(t, models.EventTyping, `{"roomId":"r1","userId":"u2"}`)
	f.deliver(t, models.EventTyping, `{"roomId":"r9","userId":"u5"}`)
	require.Eventually(t, func() bool { return len(repo.Typing().Get()["r9"]) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"u2"}, repo.Typing().Get()["r1"])

	// a message from the typist ends the indicator
	f.deliver(t, models.EventReceive, `{"id":"m1","roomId":"r1","senderId":"u2"}`)
	require.Eventually(t, func() bool { return len(repo.Typing().Get()["r1"]) == 0 }, time.Second, 5*time.Millisecond)
}

func TestFriendRequests(t *testing.T) {
	repo, f := connectedRepo(t)
	ctx := context.Background()

	f.deliver(t, models.EventFriendRequestReceived, `{"user":{"id":"u2","username":"bob"}}`)
	f.deliver(t, models.EventFriendRequestReceived, `{"id":"u2","username":"bob"}`)
	f.deliver(t, models.EventFriendRequestReceived, `{"id":"u3","username":"carol"}`)
	require.Eventually(t, func() bool { return len(repo.FriendRequests().Get()) == 2 }, time.Second, 5*time.Millisecond)

	before := len(f.frames())
	f.deliver(t, models.EventFriendRequestAccepted, `{"userId":"u2"}`)
	require.Eventually(t, func() bool { return len(repo.FriendRequests().Get()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.frames()) > before }, time.Second, 5*time.Millisecond)
	_, ok := f.last(models.EventGetOnlineUsers)
	assert.True(t, ok)

	require.NoError(t, repo.SendFriendRequestSignal(ctx, "u5"))
	s, _ := f.last(models.EventFriendRequest)
	assert.JSONEq(t, `{"userId":"u5"}`, s.Data)
}

func TestTypingIsDroppedWhileOffline(t *testing.T) {
	repo, f := connectedRepo(t)
	f.down()
	before := len(f.frames())

	repo.SendTyping(context.Background(), "r1")
	repo.SendStopTyping(context.Background(), "r1")
	assert.Len(t, f.frames(), before)
}

func TestHydrateAndWriteThroughCache(t *testing.T) {
	store := repositories.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SaveRooms(ctx, []models.ChatRoom{{ID: "r1", Name: "One", Type: models.RoomPrivate}}))
	require.NoError(t, store.UpsertMessage(ctx, models.Message{ID: "old", RoomID: "r1", SenderID: "u2", Status: models.StatusSent}))

	repo, f := newTestRepo(t, Options{Rooms: store, Messages: store, HistoryLimit: 50})
	require.NoError(t, repo.Hydrate(ctx))
	require.Len(t, repo.Rooms().Get(), 1)
	require.Len(t, repo.MessagesFor("r1"), 1)

	f.deliver(t, models.EventReceive, `{"id":"new","roomId":"r1","senderId":"u2"}`)
	require.Eventually(t, func() bool {
		cached, err := store.ListRoomMessages(ctx, "r1", 0)
		return err == nil && len(cached) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestResetClearsState(t *testing.T) {
	repo, f := newTestRepo(t, Options{})
	ctx := context.Background()

	f.deliver(t, models.EventReceive, `{"id":"m1","roomId":"r1"}`)
	eventuallyLen(t, messagesOf(repo, "r1"), 1)
	_, err := repo.SendMessage(ctx, "queued", "r1", "me", models.MessageText)
	require.NoError(t, err)

	repo.Reset(ctx)
	assert.Empty(t, repo.MessagesFor("r1"))
	assert.Empty(t, repo.SelfID())
	n, err := repo.outbox.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
