package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-client/internal/models"
)

// RoomRepository caches the room list between runs.
type RoomRepository interface {
	SaveRooms(ctx context.Context, rooms []models.ChatRoom) error
	ListRooms(ctx context.Context) ([]models.ChatRoom, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const upsertRoom = `INSERT INTO rooms (id, name, type, admin_id, avatar, pinned, muted, archived, unread_count, updated_at)
    VALUES (:id, :name, :type, :admin_id, :avatar, :pinned, :muted, :archived, :unread_count, :updated_at)
    ON CONFLICT (id) DO UPDATE SET
        name = EXCLUDED.name,
        type = EXCLUDED.type,
        admin_id = EXCLUDED.admin_id,
        avatar = EXCLUDED.avatar,
        pinned = EXCLUDED.pinned,
        muted = EXCLUDED.muted,
        archived = EXCLUDED.archived,
        unread_count = EXCLUDED.unread_count,
        updated_at = EXCLUDED.updated_at`

// SaveRooms upserts rooms and replaces their member lists atomically.
func (r *RoomRepo) SaveRooms(ctx context.Context, rooms []models.ChatRoom) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, room := range rooms {
		if _, err = tx.NamedExecContext(ctx, upsertRoom, room); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1`, room.ID); err != nil {
			return err
		}
		for i, member := range room.Members {
			if _, err = tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id, position) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, room.ID, member, i); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ListRooms returns cached rooms, most recently updated first.
func (r *RoomRepo) ListRooms(ctx context.Context) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	if err := r.db.SelectContext(ctx, &rooms, `SELECT id, name, type, admin_id, avatar, pinned, muted, archived, unread_count, updated_at FROM rooms ORDER BY updated_at DESC`); err != nil {
		return nil, err
	}

	var members []struct {
		RoomID string `db:"room_id"`
		UserID string `db:"user_id"`
	}
	if err := r.db.SelectContext(ctx, &members, `SELECT room_id, user_id FROM room_members ORDER BY room_id, position`); err != nil {
		return nil, err
	}
	byRoom := map[string][]string{}
	for _, m := range members {
		byRoom[m.RoomID] = append(byRoom[m.RoomID], m.UserID)
	}
	for i := range rooms {
		rooms[i].Members = byRoom[rooms[i].ID]
	}
	return rooms, nil
}
