package realtime

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/outbox"
	"chat-client/internal/ws"
)

// emitOrQueue sends a frame now, or queues it for the next connect. Frames
// never overtake older queued ones, including ones a flush is replaying.
func (r *Repository) emitOrQueue(ctx context.Context, event string, payload any) error {
	if r.transport.Connected() {
		sent, err := r.emitDirect(ctx, event, payload)
		if sent || err != nil {
			return err
		}
	}

	data, err := jsoniter.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	entry := outbox.Entry{ID: r.decode.NewID(), Event: event, Data: data, QueuedAt: r.decode.Now()}
	if err := r.outbox.Push(ctx, entry); err != nil {
		if errors.Is(err, outbox.ErrFull) {
			observability.IncOutboxRejected()
		}
		log.Warn().Err(err).Str("event", event).Msg("queueing realtime action failed")
		return err
	}
	log.Debug().Str("event", event).Msg("realtime action queued")
	r.reportDepth(ctx)

	// the connection may have come up after the check above
	if r.transport.Connected() {
		r.flush(ctx)
	}
	return nil
}

// emitDirect emits a frame when the outbox is empty. It holds flushMu, so it
// waits for a running flush to finish replaying before it looks at the outbox.
func (r *Repository) emitDirect(ctx context.Context, event string, payload any) (bool, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	if n, err := r.outbox.Len(ctx); err != nil || n > 0 {
		return false, nil
	}
	err := r.transport.Emit(ctx, event, payload)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ws.ErrNotConnected):
		return false, nil
	default:
		return false, err
	}
}

// emitEphemeral sends a frame that is worthless once stale. It is dropped
// while disconnected.
func (r *Repository) emitEphemeral(ctx context.Context, event string, payload any) {
	if !r.transport.Connected() {
		log.Debug().Str("event", event).Msg("dropping realtime signal while offline")
		return
	}
	if err := r.transport.Emit(ctx, event, payload); err != nil && !errors.Is(err, ws.ErrNotConnected) {
		log.Warn().Err(err).Str("event", event).Msg("realtime emit failed")
	}
}

// flush replays queued frames in order. Whatever could not be sent goes back
// to the head of the outbox.
func (r *Repository) flush(ctx context.Context) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	entries, err := r.outbox.Drain(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("draining outbox failed")
		return
	}
	for i, e := range entries {
		var payload any
		if len(e.Data) > 0 {
			payload = e.Data
		}
		if err := r.transport.Emit(ctx, e.Event, payload); err != nil {
			if rqErr := r.outbox.Requeue(ctx, entries[i:]); rqErr != nil {
				log.Error().Err(rqErr).Int("lost", len(entries)-i).Msg("requeueing outbox failed")
			}
			log.Warn().Err(err).Int("remaining", len(entries)-i).Msg("outbox flush interrupted")
			break
		}
	}
	if len(entries) > 0 {
		log.Info().Int("entries", len(entries)).Msg("outbox flushed")
	}
	r.reportDepth(ctx)
}

func (r *Repository) reportDepth(ctx context.Context) {
	if n, err := r.outbox.Len(ctx); err == nil {
		observability.SetOutboxDepth(n)
	}
}

// JoinRoom subscribes to a room. Joined rooms are rejoined on every connect,
// so nothing is queued while offline.
func (r *Repository) JoinRoom(ctx context.Context, roomID string) {
	r.mu.Lock()
	r.joined[roomID] = struct{}{}
	delete(r.left, roomID)
	r.mu.Unlock()
	r.emitEphemeral(ctx, models.EventJoinRoom, roomID)
}

// LeaveRoom unsubscribes from a room and archives it locally. History that
// arrives for the room afterwards is ignored until it is joined again.
func (r *Repository) LeaveRoom(ctx context.Context, roomID string) error {
	r.mu.Lock()
	delete(r.joined, roomID)
	delete(r.pendingSync, roomID)
	r.left[roomID] = struct{}{}
	r.mu.Unlock()

	if _, err := r.modifyRoom(ctx, roomID, func(room models.ChatRoom) (models.ChatRoom, error) {
		room.Archived = true
		return room, nil
	}); err != nil && !errors.Is(err, ErrRoomNotFound) {
		return err
	}
	return r.emitOrQueue(ctx, models.EventLeaveRoom, roomID)
}

// SendMessage inserts an optimistic message and emits it without waiting for
// the acknowledgement. When the action cannot even be queued the message is
// marked failed and returned together with the error.
func (r *Repository) SendMessage(ctx context.Context, content, roomID, senderID string, typ models.MessageType) (models.Message, error) {
	if typ == "" {
		typ = models.MessageText
	}
	id := r.decode.NewID()
	msg := models.Message{
		ID:        id,
		ClientID:  id,
		SenderID:  senderID,
		RoomID:    roomID,
		Content:   content,
		Type:      typ,
		Status:    models.StatusSending,
		Timestamp: r.decode.Now(),
	}
	r.mergeMessage(models.Incoming{Message: msg, Present: models.AllMessageFields})
	r.refreshLastMessage(roomID, false)

	return r.dispatchMessage(ctx, msg)
}

// ResendMessage retries a failed message.
func (r *Repository) ResendMessage(ctx context.Context, roomID, messageID string) (models.Message, error) {
	msg, ok := r.setStatus(roomID, models.Message{ID: messageID}, models.StatusSending)
	if !ok {
		if existing, found := r.findMessage(roomID, messageID); found {
			return existing, nil
		}
		return models.Message{}, ErrMessageNotFound
	}
	return r.dispatchMessage(ctx, msg)
}

func (r *Repository) dispatchMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	err := r.emitOrQueue(ctx, models.EventSendMessage, models.OutboundMessage{
		ClientID: msg.ClientID,
		RoomID:   msg.RoomID,
		Content:  msg.Content,
		SenderID: msg.SenderID,
		Type:     msg.Type,
	})
	if err != nil {
		if failed, ok := r.setStatus(msg.RoomID, msg, models.StatusFailed); ok {
			msg = failed
		}
		r.cacheMessage(ctx, msg)
		return msg, err
	}
	r.cacheMessage(ctx, msg)
	return msg, nil
}

// SyncMessages asks the server for a room's history and returns the request
// id the response will carry. Nothing is sent while offline; the next connect
// resyncs every joined room.
func (r *Repository) SyncMessages(ctx context.Context, roomID string) (string, error) {
	ctx, span := otel.Tracer("chat-client/realtime").Start(ctx, "realtime.sync")
	defer span.End()
	span.SetAttributes(attribute.String("room.id", roomID))

	if !r.transport.Connected() {
		return "", nil
	}
	requestID := r.decode.NewID()
	r.mu.Lock()
	r.pendingSync[roomID] = requestID
	r.mu.Unlock()

	err := r.transport.Emit(ctx, models.EventSyncMessages, models.SyncRequest{RoomID: roomID, RequestID: requestID})
	if err != nil {
		r.mu.Lock()
		if r.pendingSync[roomID] == requestID {
			delete(r.pendingSync, roomID)
		}
		r.mu.Unlock()
		if errors.Is(err, ws.ErrNotConnected) {
			return "", nil
		}
		span.RecordError(err)
		return "", err
	}
	return requestID, nil
}

// MarkSeen marks one message as seen and reports it.
func (r *Repository) MarkSeen(ctx context.Context, roomID, messageID string) error {
	r.setStatus(roomID, models.Message{ID: messageID}, models.StatusSeen)
	r.refreshLastMessage(roomID, false)
	return r.emitOrQueue(ctx, models.EventMarkSeen, models.SeenReceipt{RoomID: roomID, MessageID: messageID})
}

// MarkRoomAsRead clears the unread counter and reports the newest message
// from someone else as seen.
func (r *Repository) MarkRoomAsRead(ctx context.Context, roomID string) error {
	self := r.SelfID()
	var latest string
	r.messages.Update(func(cur map[string][]models.Message) map[string][]models.Message {
		list := cur[roomID]
		var next []models.Message
		for i, m := range list {
			if m.SenderID == self {
				continue
			}
			seen, changed := m.Advance(models.StatusSeen)
			if !changed {
				continue
			}
			if next == nil {
				next = cloneMessages(list)
			}
			next[i] = seen
			latest = seen.ID
		}
		if next == nil {
			return cur
		}
		return withRoomMessages(cur, roomID, next)
	})

	if _, err := r.modifyRoom(ctx, roomID, func(room models.ChatRoom) (models.ChatRoom, error) {
		room.UnreadCount = 0
		return room, nil
	}); err != nil && !errors.Is(err, ErrRoomNotFound) {
		return err
	}
	r.refreshLastMessage(roomID, false)
	if latest == "" {
		return nil
	}
	return r.emitOrQueue(ctx, models.EventMarkSeen, models.SeenReceipt{RoomID: roomID, MessageID: latest})
}

// SendTyping signals that the user is typing in a room.
func (r *Repository) SendTyping(ctx context.Context, roomID string) {
	r.emitEphemeral(ctx, models.EventTyping, roomID)
}

// SendStopTyping signals that the user stopped typing.
func (r *Repository) SendStopTyping(ctx context.Context, roomID string) {
	r.emitEphemeral(ctx, models.EventStopTyping, roomID)
}

// SendFriendRequestSignal notifies the other user over the realtime channel.
func (r *Repository) SendFriendRequestSignal(ctx context.Context, userID string) error {
	return r.emitOrQueue(ctx, models.EventFriendRequest, models.FriendSignal{UserID: userID})
}

func (r *Repository) cacheMessage(ctx context.Context, msg models.Message) {
	if r.messageCache == nil {
		return
	}
	if err := r.messageCache.UpsertMessage(ctx, msg); err != nil {
		cacheFailed("upsert_message", err)
	}
}

func (r *Repository) cacheRoomMessages(ctx context.Context, roomID string, msgs []models.Message) {
	if r.messageCache == nil {
		return
	}
	if err := r.messageCache.ReplaceRoomMessages(ctx, roomID, msgs); err != nil {
		cacheFailed("replace_messages", err)
	}
}

func (r *Repository) cacheRooms(ctx context.Context, rooms []models.ChatRoom) {
	if r.roomCache == nil || len(rooms) == 0 {
		return
	}
	if err := r.roomCache.SaveRooms(ctx, rooms); err != nil {
		cacheFailed("save_rooms", err)
	}
}

func cacheFailed(op string, err error) {
	observability.IncCacheError(op)
	log.Warn().Err(err).Str("op", op).Msg("local cache operation failed")
}

// RefreshUsers asks the server for the current user list.
func (r *Repository) RefreshUsers(ctx context.Context) {
	r.emitEphemeral(ctx, models.EventGetOnlineUsers, nil)
}
