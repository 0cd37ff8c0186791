// Package realtime owns the client's realtime state. Inbound events are
// folded into observable containers; outbound actions go through the
// transport, or the outbox while the connection is down.
package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"chat-client/internal/models"
	"chat-client/internal/observable"
	"chat-client/internal/outbox"
	"chat-client/internal/repositories"
)

var (
	ErrOutboxFull      = outbox.ErrFull
	ErrNoSession       = errors.New("no active session")
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
)

// Transport is the realtime connection the repository drives.
type Transport interface {
	Connect(ctx context.Context, creds models.Credentials) error
	Disconnect()
	Emit(ctx context.Context, event string, payload any) error
	Subscribe(category models.EventCategory) <-chan models.Frame
	Connected() bool
	State() *observable.Value[models.ConnectionState]
}

// Options configures optional collaborators of a Repository.
type Options struct {
	Outbox   outbox.Outbox
	Rooms    repositories.RoomRepository
	Messages repositories.MessageRepository
	// Decoder defaults to models.NewDecoder.
	Decoder      models.Decoder
	HistoryLimit int
}

// Repository is the single owner of realtime state for one session.
type Repository struct {
	transport    Transport
	outbox       outbox.Outbox
	roomCache    repositories.RoomRepository
	messageCache repositories.MessageRepository
	decode       models.Decoder
	historyLimit int

	users    *observable.Value[[]models.User]
	rooms    *observable.Value[[]models.ChatRoom]
	messages *observable.Value[map[string][]models.Message]
	typing   *observable.Value[map[string][]string]
	requests *observable.Value[[]models.User]

	mu          sync.Mutex
	creds       models.Credentials
	joined      map[string]struct{}
	left        map[string]struct{}
	pendingSync map[string]string
	localRooms  map[string]struct{}
	running     bool
	cancel      context.CancelFunc
	consumers   sync.WaitGroup

	flushMu sync.Mutex
}

// New builds a repository on top of transport.
func New(transport Transport, opts Options) *Repository {
	if opts.Outbox == nil {
		opts.Outbox = outbox.NewMemoryOutbox(outbox.DefaultCapacity)
	}
	if opts.Decoder.Now == nil || opts.Decoder.NewID == nil {
		opts.Decoder = models.NewDecoder()
	}
	return &Repository{
		transport:    transport,
		outbox:       opts.Outbox,
		roomCache:    opts.Rooms,
		messageCache: opts.Messages,
		decode:       opts.Decoder,
		historyLimit: opts.HistoryLimit,
		users:        observable.New[[]models.User](nil),
		rooms:        observable.New[[]models.ChatRoom](nil),
		messages:     observable.New(map[string][]models.Message{}),
		typing:       observable.New(map[string][]string{}),
		requests:     observable.New[[]models.User](nil),
		joined:       make(map[string]struct{}),
		left:         make(map[string]struct{}),
		pendingSync:  make(map[string]string),
		localRooms:   make(map[string]struct{}),
	}
}

func (r *Repository) Users() *observable.Value[[]models.User]                  { return r.users }
func (r *Repository) Rooms() *observable.Value[[]models.ChatRoom]              { return r.rooms }
func (r *Repository) Messages() *observable.Value[map[string][]models.Message] { return r.messages }
func (r *Repository) Typing() *observable.Value[map[string][]string]           { return r.typing }
func (r *Repository) FriendRequests() *observable.Value[[]models.User]         { return r.requests }

// State is the connection state of the underlying transport.
func (r *Repository) State() *observable.Value[models.ConnectionState] {
	return r.transport.State()
}

// MessagesFor returns the current message list of a room.
func (r *Repository) MessagesFor(roomID string) []models.Message {
	return r.messages.Get()[roomID]
}

// Room looks a room up by id.
func (r *Repository) Room(roomID string) (models.ChatRoom, bool) {
	rooms := r.rooms.Get()
	if i := roomIndex(rooms, roomID); i >= 0 {
		return rooms[i], true
	}
	return models.ChatRoom{}, false
}

// SelfID is the id of the logged-in user, empty without a session.
func (r *Repository) SelfID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds.UserID
}

// Connect starts the inbound consumers and the transport. Calling it again
// while connected is a no-op.
func (r *Repository) Connect(ctx context.Context, creds models.Credentials) error {
	if creds.Token == "" {
		return ErrNoSession
	}
	r.mu.Lock()
	r.creds = creds
	if !r.running {
		r.running = true
		sess, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		for _, category := range models.Categories {
			frames := r.transport.Subscribe(category)
			r.consumers.Add(1)
			go r.consume(sess, frames)
		}
	}
	r.mu.Unlock()

	return r.transport.Connect(ctx, creds)
}

// Disconnect closes the transport and waits for every consumer to return.
func (r *Repository) Disconnect() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	r.transport.Disconnect()
	r.consumers.Wait()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.typing.Set(map[string][]string{})
}

// Reset forgets the session and every piece of state. Queued actions are
// discarded.
func (r *Repository) Reset(ctx context.Context) {
	r.mu.Lock()
	r.creds = models.Credentials{}
	r.joined = make(map[string]struct{})
	r.left = make(map[string]struct{})
	r.pendingSync = make(map[string]string)
	r.localRooms = make(map[string]struct{})
	r.mu.Unlock()

	if _, err := r.outbox.Drain(ctx); err != nil {
		log.Warn().Err(err).Msg("discarding outbox failed")
	}
	r.reportDepth(ctx)
	r.users.Set(nil)
	r.rooms.Set(nil)
	r.messages.Set(map[string][]models.Message{})
	r.typing.Set(map[string][]string{})
	r.requests.Set(nil)
}

// Hydrate loads cached rooms and messages so they display before the server
// answers.
func (r *Repository) Hydrate(ctx context.Context) error {
	if r.roomCache == nil {
		return nil
	}
	rooms, err := r.roomCache.ListRooms(ctx)
	if err != nil {
		cacheFailed("list_rooms", err)
		return err
	}
	r.rooms.Update(func(cur []models.ChatRoom) []models.ChatRoom {
		if len(cur) > 0 {
			return cur
		}
		return rooms
	})
	if r.messageCache == nil {
		return nil
	}

	cached := make(map[string][]models.Message, len(rooms))
	for _, room := range rooms {
		msgs, err := r.messageCache.ListRoomMessages(ctx, room.ID, r.historyLimit)
		if err != nil {
			cacheFailed("list_messages", err)
			return err
		}
		if len(msgs) > 0 {
			cached[room.ID] = msgs
		}
	}
	r.messages.Update(func(cur map[string][]models.Message) map[string][]models.Message {
		out := make(map[string][]models.Message, len(cur)+len(cached))
		for id, msgs := range cached {
			out[id] = msgs
		}
		for id, msgs := range cur {
			out[id] = msgs
		}
		return out
	})
	log.Info().Int("rooms", len(rooms)).Msg("realtime state hydrated from cache")
	return nil
}

func (r *Repository) consume(ctx context.Context, frames <-chan models.Frame) {
	defer r.consumers.Done()
	for frame := range frames {
		r.handle(ctx, frame)
	}
}

func (r *Repository) joinedRooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.joined))
	for id := range r.joined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// onConnected runs on every lifecycle connect: rejoin, flush queued actions,
// resync joined rooms, then refresh users and rooms.
func (r *Repository) onConnected(ctx context.Context) {
	joined := r.joinedRooms()
	for _, roomID := range joined {
		r.emitEphemeral(ctx, models.EventJoinRoom, roomID)
	}
	r.flush(ctx)
	for _, roomID := range joined {
		if _, err := r.SyncMessages(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("resync failed")
		}
	}
	r.emitEphemeral(ctx, models.EventGetOnlineUsers, nil)
	r.emitEphemeral(ctx, models.EventGetRooms, nil)
	log.Info().Int("rooms", len(joined)).Msg("realtime session restored")
}
