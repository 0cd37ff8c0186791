package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-client/internal/models"
)

// MessageRepository caches per-room message lists between runs.
type MessageRepository interface {
	UpsertMessage(ctx context.Context, msg models.Message) error
	ReplaceRoomMessages(ctx context.Context, roomID string, msgs []models.Message) error
	ListRoomMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const upsertMessage = `INSERT INTO messages (id, client_id, room_id, sender_id, content, type, status, sent_at)
    VALUES (:id, :client_id, :room_id, :sender_id, :content, :type, :status, :sent_at)
    ON CONFLICT (id) DO UPDATE SET
        client_id = EXCLUDED.client_id,
        content = EXCLUDED.content,
        type = EXCLUDED.type,
        status = EXCLUDED.status,
        sent_at = EXCLUDED.sent_at`

// UpsertMessage stores msg. A row saved under the optimistic client id is
// replaced once the server id is known.
func (r *MessageRepo) UpsertMessage(ctx context.Context, msg models.Message) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if msg.ClientID != "" && msg.ClientID != msg.ID {
		if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, msg.ClientID); err != nil {
			return err
		}
	}
	if _, err = tx.NamedExecContext(ctx, upsertMessage, msg); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceRoomMessages swaps the cached list of a room for msgs, keeping their
// order.
func (r *MessageRepo) ReplaceRoomMessages(ctx context.Context, roomID string, msgs []models.Message) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id=$1`, roomID); err != nil {
		return err
	}
	for _, msg := range msgs {
		if msg.RoomID == "" {
			msg.RoomID = roomID
		}
		if _, err = tx.NamedExecContext(ctx, upsertMessage, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRoomMessages returns the newest limit messages of a room in arrival
// order. A non-positive limit returns all of them.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	if limit <= 0 {
		err := r.db.SelectContext(ctx, &msgs, `SELECT id, client_id, room_id, sender_id, content, type, status, sent_at
            FROM messages WHERE room_id=$1 ORDER BY seq ASC`, roomID)
		return msgs, err
	}
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, client_id, room_id, sender_id, content, type, status, sent_at FROM (
            SELECT seq, id, client_id, room_id, sender_id, content, type, status, sent_at
            FROM messages WHERE room_id=$1 ORDER BY seq DESC LIMIT $2
        ) recent ORDER BY seq ASC`, roomID, limit)
	return msgs, err
}
