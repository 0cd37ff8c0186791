package repositories

import (
	"context"
	"sync"

	"chat-client/internal/models"
)

// MemoryStore implements both repositories in process memory. It is used
// when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]models.ChatRoom
	order    []string
	messages map[string][]models.Message
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]models.ChatRoom),
		messages: make(map[string][]models.Message),
	}
}

func (s *MemoryStore) SaveRooms(_ context.Context, rooms []models.ChatRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range rooms {
		if _, ok := s.rooms[room.ID]; !ok {
			s.order = append(s.order, room.ID)
		}
		room.Members = append([]string(nil), room.Members...)
		s.rooms[room.ID] = room
	}
	return nil
}

func (s *MemoryStore) ListRooms(_ context.Context) ([]models.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatRoom, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rooms[id])
	}
	return out, nil
}

func (s *MemoryStore) UpsertMessage(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[msg.RoomID]
	for i, existing := range list {
		if existing.ID == msg.ID || (msg.ClientID != "" && existing.ID == msg.ClientID) {
			next := append([]models.Message(nil), list...)
			next[i] = msg
			s.messages[msg.RoomID] = next
			return nil
		}
	}
	s.messages[msg.RoomID] = append(append([]models.Message(nil), list...), msg)
	return nil
}

func (s *MemoryStore) ReplaceRoomMessages(_ context.Context, roomID string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[roomID] = append([]models.Message(nil), msgs...)
	return nil
}

func (s *MemoryStore) ListRoomMessages(_ context.Context, roomID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[roomID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]models.Message(nil), list...), nil
}

var (
	_ RoomRepository    = (*MemoryStore)(nil)
	_ MessageRepository = (*MemoryStore)(nil)
	_ RoomRepository    = (*RoomRepo)(nil)
	_ MessageRepository = (*MessageRepo)(nil)
)
