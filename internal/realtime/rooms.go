package realtime

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"chat-client/internal/models"
)

func (r *Repository) self() (string, error) {
	id := r.SelfID()
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}

func (r *Repository) addLocalRoom(ctx context.Context, room models.ChatRoom) {
	r.mu.Lock()
	r.localRooms[room.ID] = struct{}{}
	r.mu.Unlock()
	r.upsertRoom(room)
	r.cacheRooms(ctx, []models.ChatRoom{room})
}

// EnsurePrivateRoom returns the private room with other, creating and
// joining it when it does not exist yet.
func (r *Repository) EnsurePrivateRoom(ctx context.Context, other models.User) (models.ChatRoom, error) {
	selfID, err := r.self()
	if err != nil {
		return models.ChatRoom{}, err
	}
	if room, ok := r.Room(models.PrivateRoomID(selfID, other.ID)); ok {
		r.JoinRoom(ctx, room.ID)
		return room, nil
	}
	room, err := models.NewPrivateRoom(selfID, other, r.decode.Now())
	if err != nil {
		return models.ChatRoom{}, err
	}
	r.addLocalRoom(ctx, room)
	r.JoinRoom(ctx, room.ID)
	return room, nil
}

// CreateGroup creates a group administered by the current user.
func (r *Repository) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.ChatRoom, error) {
	selfID, err := r.self()
	if err != nil {
		return models.ChatRoom{}, err
	}
	room, err := models.NewGroupRoom(r.decode.NewID(), name, selfID, memberIDs, r.decode.Now())
	if err != nil {
		return models.ChatRoom{}, err
	}
	r.addLocalRoom(ctx, room)
	r.JoinRoom(ctx, room.ID)

	err = r.emitOrQueue(ctx, models.EventCreateGroup, models.GroupSpec{
		RoomID:  room.ID,
		Name:    room.Name,
		Members: room.Members,
		AdminID: room.AdminID,
	})
	if err != nil {
		return room, err
	}
	log.Info().Str("room_id", room.ID).Int("members", len(room.Members)).Msg("group created")
	return room, nil
}

// RenameGroup renames a group.
func (r *Repository) RenameGroup(ctx context.Context, roomID, name string) (models.ChatRoom, error) {
	room, err := r.modifyRoom(ctx, roomID, func(room models.ChatRoom) (models.ChatRoom, error) {
		return room.Renamed(name)
	})
	if err != nil {
		return room, err
	}
	return room, r.emitOrQueue(ctx, models.EventRenameGroup, models.GroupSpec{RoomID: roomID, Name: room.Name})
}

// AddMember adds a user to a group.
func (r *Repository) AddMember(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	room, err := r.modifyRoom(ctx, roomID, func(room models.ChatRoom) (models.ChatRoom, error) {
		return room.WithMember(userID)
	})
	if err != nil {
		return room, err
	}
	return room, r.emitOrQueue(ctx, models.EventAddMember, models.MemberChange{RoomID: roomID, UserID: userID})
}

// KickMember removes another user from a group. Only the admin may do this.
func (r *Repository) KickMember(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	selfID, err := r.self()
	if err != nil {
		return models.ChatRoom{}, err
	}
	room, err := r.modifyRoom(ctx, roomID, func(room models.ChatRoom) (models.ChatRoom, error) {
		if room.Type == models.RoomGroup && room.AdminID != selfID {
			return room, models.ErrNotAdmin
		}
		return room.WithoutMember(userID)
	})
	if err != nil {
		return room, err
	}
	return room, r.emitOrQueue(ctx, models.EventKickMember, models.MemberChange{RoomID: roomID, UserID: userID})
}

// TransferAdmin hands the admin role to another member.
func (r *Repository) TransferAdmin(ctx context.Context, roomID, userID string) (models.ChatRoom, error) {
	selfID, err := r.self()
	if err != nil {
		return models.ChatRoom{}, err
	}
	room, err := r.modifyRoom(ctx, roomID, func(room models.ChatRoom) (models.ChatRoom, error) {
		if room.Type == models.RoomGroup && room.AdminID != selfID {
			return room, models.ErrNotAdmin
		}
		return room.WithAdmin(userID)
	})
	if err != nil {
		return room, err
	}
	return room, r.emitOrQueue(ctx, models.EventTransferAdmin, models.MemberChange{RoomID: roomID, UserID: userID})
}

// LeaveGroup removes the current user from a group and archives it. An admin
// leaving hands the role to the next member.
func (r *Repository) LeaveGroup(ctx context.Context, roomID string) error {
	selfID, err := r.self()
	if err != nil {
		return err
	}
	if _, err := r.modifyRoom(ctx, roomID, func(room models.ChatRoom) (models.ChatRoom, error) {
		next, err := room.WithoutMember(selfID)
		if err != nil && !errors.Is(err, models.ErrNotMember) {
			return room, err
		}
		if err == nil {
			room = next
		}
		room.Archived = true
		return room, nil
	}); err != nil {
		return err
	}
	return r.LeaveRoom(ctx, roomID)
}

func (r *Repository) Pin(ctx context.Context, roomID string) error {
	return r.updateSettings(ctx, roomID, func(s *models.RoomSettings) { s.Pinned = true })
}

func (r *Repository) Unpin(ctx context.Context, roomID string) error {
	return r.updateSettings(ctx, roomID, func(s *models.RoomSettings) { s.Pinned = false })
}

func (r *Repository) Mute(ctx context.Context, roomID string) error {
	return r.updateSettings(ctx, roomID, func(s *models.RoomSettings) { s.Muted = true })
}

func (r *Repository) Unmute(ctx context.Context, roomID string) error {
	return r.updateSettings(ctx, roomID, func(s *models.RoomSettings) { s.Muted = false })
}

func (r *Repository) Archive(ctx context.Context, roomID string) error {
	return r.updateSettings(ctx, roomID, func(s *models.RoomSettings) { s.Archived = true })
}

func (r *Repository) Unarchive(ctx context.Context, roomID string) error {
	return r.updateSettings(ctx, roomID, func(s *models.RoomSettings) { s.Archived = false })
}

func (r *Repository) updateSettings(ctx context.Context, roomID string, fn func(*models.RoomSettings)) error {
	room, err := r.modifyRoom(ctx, roomID, func(room models.ChatRoom) (models.ChatRoom, error) {
		settings := room.Settings()
		fn(&settings)
		room.Pinned, room.Muted, room.Archived = settings.Pinned, settings.Muted, settings.Archived
		return room, nil
	})
	if err != nil {
		return err
	}
	return r.emitOrQueue(ctx, models.EventRoomSettings, room.Settings())
}
