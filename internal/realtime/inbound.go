package realtime

import (
	"context"

	"github.com/rs/zerolog/log"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

func (r *Repository) handle(ctx context.Context, frame models.Frame) {
	raw := []byte(frame.Data)
	switch frame.Event {
	case models.EventConnect:
		r.onConnected(ctx)
	case models.EventDisconnect:
		r.typing.Set(map[string][]string{})
		log.Info().Msg("realtime connection lost, actions will be queued")
	case models.EventError:
		log.Warn().Str("detail", string(raw)).Msg("realtime server reported an error")

	case models.EventReceive, models.EventReceived:
		r.onMessage(ctx, raw)
	case models.EventMessageStatus:
		r.onStatus(ctx, raw)
	case models.EventMessageSeen:
		r.onSeen(ctx, raw)
	case models.EventMessagesSync:
		r.onSynced(ctx, raw)

	case models.EventOnlineUsersList, models.EventUsersList:
		r.onUsers(raw)
	case models.EventUserOnline:
		r.onPresence(raw, true)
	case models.EventUserOffline:
		r.onPresence(raw, false)
	case models.EventTyping:
		r.onTyping(raw, true)
	case models.EventStopTyping:
		r.onTyping(raw, false)

	case models.EventRoomsList:
		r.onRooms(ctx, raw)
	case models.EventRoomUpdated:
		r.onRoomUpdated(ctx, raw)

	case models.EventFriendRequestReceived:
		r.onFriendRequest(raw)
	case models.EventFriendRequestAccepted:
		r.onFriendAccepted(ctx, raw)
	default:
		log.Debug().Str("event", frame.Event).Msg("unhandled realtime event")
	}
}

func (r *Repository) onMessage(ctx context.Context, raw []byte) {
	in := r.decode.Incoming(raw)
	msg := in.Message
	if msg.RoomID == "" {
		observability.IncDecodeError("message")
		log.Warn().Str("message_id", msg.ID).Msg("dropping message without room")
		return
	}
	stored, added := r.mergeMessage(in)
	r.removeTyping(stored.RoomID, stored.SenderID)

	unread := added && stored.SenderID != r.SelfID()
	if !r.refreshLastMessage(stored.RoomID, unread) {
		// unknown room, most likely a conversation someone else started
		r.emitEphemeral(ctx, models.EventGetRooms, nil)
	}
	r.cacheMessage(ctx, stored)
}

func (r *Repository) onStatus(ctx context.Context, raw []byte) {
	update := r.decode.StatusUpdate(raw)
	if update.ID == "" && update.ClientID == "" {
		observability.IncDecodeError("message_status")
		return
	}

	var stored models.Message
	found := false
	r.messages.Update(func(cur map[string][]models.Message) map[string][]models.Message {
		ref := models.Message{ID: update.ID, ClientID: update.ClientID}
		for roomID, list := range cur {
			if update.RoomID != "" && roomID != update.RoomID {
				continue
			}
			for i, m := range list {
				if !m.Matches(ref) {
					continue
				}
				found = true
				next := m
				if m.IsPending() && !isPendingStatus(update.Status) {
					next.Status = update.Status
				} else if advanced, ok := m.Advance(update.Status); ok {
					next = advanced
				}
				// adopt the server id once the optimistic copy is acknowledged
				if update.ID != "" && update.ClientID != "" && m.ID == m.ClientID {
					next.ID = update.ID
				}
				stored = next
				msgs := cloneMessages(list)
				msgs[i] = next
				return withRoomMessages(cur, roomID, msgs)
			}
		}
		return cur
	})
	if !found {
		log.Debug().Str("message_id", update.ID).Str("client_id", update.ClientID).Msg("status for unknown message")
		return
	}
	r.refreshLastMessage(stored.RoomID, false)
	r.cacheMessage(ctx, stored)
}

func isPendingStatus(s models.MessageStatus) bool {
	return s == models.StatusSending || s == models.StatusFailed
}

// onSeen marks the referenced message and every earlier message from the
// same sender as seen.
func (r *Repository) onSeen(ctx context.Context, raw []byte) {
	roomID := r.decode.String(raw, "roomId")
	messageID := r.decode.String(raw, "messageId")
	if messageID == "" {
		messageID = r.decode.String(raw, "id")
	}
	if roomID == "" || messageID == "" {
		observability.IncDecodeError("message_seen")
		return
	}

	var changed []models.Message
	r.messages.Update(func(cur map[string][]models.Message) map[string][]models.Message {
		list := cur[roomID]
		ref := models.Message{ID: messageID}
		upTo := -1
		for i, m := range list {
			if m.Matches(ref) {
				upTo = i
				break
			}
		}
		if upTo < 0 {
			return cur
		}
		sender := list[upTo].SenderID
		msgs := cloneMessages(list)
		for i := 0; i <= upTo; i++ {
			if msgs[i].SenderID != sender {
				continue
			}
			if next, ok := msgs[i].Advance(models.StatusSeen); ok {
				msgs[i] = next
				changed = append(changed, next)
			}
		}
		if len(changed) == 0 {
			return cur
		}
		return withRoomMessages(cur, roomID, msgs)
	})
	if len(changed) == 0 {
		return
	}
	r.refreshLastMessage(roomID, false)
	for _, m := range changed {
		r.cacheMessage(ctx, m)
	}
}

// onSynced applies a history response. A response to anything but the latest
// request for its room is dropped.
func (r *Repository) onSynced(ctx context.Context, raw []byte) {
	roomID := r.decode.String(raw, "roomId")
	requestID := r.decode.String(raw, "requestId")
	server := r.decode.IncomingList(raw, "messages")
	if len(server) == 0 {
		if bare := r.decode.IncomingList(raw, ""); len(bare) > 0 {
			server = bare
		}
	}
	if roomID == "" && len(server) > 0 {
		roomID = server[0].Message.RoomID
	}
	if roomID == "" {
		observability.IncDecodeError("messages_synced")
		log.Warn().Msg("dropping history without room")
		return
	}

	r.mu.Lock()
	latest, tracked := r.pendingSync[roomID]
	_, left := r.left[roomID]
	r.mu.Unlock()
	if left {
		log.Debug().Str("room_id", roomID).Str("request_id", requestID).Msg("dropping history for left room")
		return
	}
	if requestID != "" && tracked && latest != requestID {
		log.Debug().Str("room_id", roomID).Str("request_id", requestID).Msg("dropping superseded history")
		return
	}

	for i := range server {
		if server[i].Message.RoomID == "" {
			server[i].Message.RoomID = roomID
		}
	}
	var merged []models.Message
	r.messages.Update(func(cur map[string][]models.Message) map[string][]models.Message {
		merged = reconcile(cur[roomID], server)
		return withRoomMessages(cur, roomID, merged)
	})
	r.refreshLastMessage(roomID, false)
	r.cacheRoomMessages(ctx, roomID, merged)
	log.Debug().Str("room_id", roomID).Int("messages", len(merged)).Msg("history synced")
}

func (r *Repository) onUsers(raw []byte) {
	users := r.decode.Users(raw, "users")
	if len(users) == 0 {
		users = r.decode.Users(raw, "")
	}
	r.users.Set(users)
}

func (r *Repository) onPresence(raw []byte, online bool) {
	userID := r.decode.Ref(raw, "userId")
	full, hasFull := r.decode.User(r.decode.Nested(raw, "user"))
	if userID == "" && hasFull {
		userID = full.ID
	}
	if userID == "" {
		observability.IncDecodeError("presence")
		return
	}
	now := r.decode.Now()
	r.users.Update(func(cur []models.User) []models.User {
		next := append([]models.User(nil), cur...)
		for i := range next {
			if next[i].ID != userID {
				continue
			}
			next[i].IsOnline = online
			if !online {
				next[i].LastSeen = now
			}
			return next
		}
		if !hasFull || full.ID != userID {
			return cur
		}
		full.IsOnline = online
		return append(next, full)
	})
}

func (r *Repository) onTyping(raw []byte, typing bool) {
	roomID, userID := r.decode.RoomRef(raw)
	if roomID == "" || userID == "" || userID == r.SelfID() {
		return
	}
	if !typing {
		r.removeTyping(roomID, userID)
		return
	}
	r.typing.Update(func(cur map[string][]string) map[string][]string {
		for _, id := range cur[roomID] {
			if id == userID {
				return cur
			}
		}
		out := make(map[string][]string, len(cur)+1)
		for id, users := range cur {
			out[id] = users
		}
		out[roomID] = append(append([]string(nil), cur[roomID]...), userID)
		return out
	})
}

func (r *Repository) removeTyping(roomID, userID string) {
	r.typing.Update(func(cur map[string][]string) map[string][]string {
		users := cur[roomID]
		idx := -1
		for i, id := range users {
			if id == userID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return cur
		}
		out := make(map[string][]string, len(cur))
		for id, list := range cur {
			out[id] = list
		}
		rest := append(append([]string(nil), users[:idx]...), users[idx+1:]...)
		if len(rest) == 0 {
			delete(out, roomID)
		} else {
			out[roomID] = rest
		}
		return out
	})
}

// onRooms replaces the room list. Rooms created locally and not yet known to
// the server are kept.
func (r *Repository) onRooms(ctx context.Context, raw []byte) {
	rooms := r.decode.Rooms(raw, "rooms")
	if len(rooms) == 0 {
		rooms = r.decode.Rooms(raw, "")
	}

	r.mu.Lock()
	for _, room := range rooms {
		delete(r.localRooms, room.ID)
	}
	local := make(map[string]struct{}, len(r.localRooms))
	for id := range r.localRooms {
		local[id] = struct{}{}
	}
	r.mu.Unlock()

	msgs := r.messages.Get()
	r.rooms.Update(func(cur []models.ChatRoom) []models.ChatRoom {
		next := make([]models.ChatRoom, 0, len(rooms)+len(local))
		for _, room := range rooms {
			if room.LastMessage == nil {
				if list := msgs[room.ID]; len(list) > 0 {
					last := list[len(list)-1]
					room.LastMessage = &last
				} else if i := roomIndex(cur, room.ID); i >= 0 {
					room.LastMessage = cur[i].LastMessage
				}
			}
			next = append(next, room)
		}
		for _, room := range cur {
			if _, ok := local[room.ID]; ok {
				next = append(next, room)
			}
		}
		return next
	})
	r.cacheRooms(ctx, rooms)
}

func (r *Repository) onRoomUpdated(ctx context.Context, raw []byte) {
	room, ok := r.decode.Room(r.decode.Nested(raw, "room"))
	if !ok {
		observability.IncDecodeError("room_updated")
		return
	}
	r.mu.Lock()
	delete(r.localRooms, room.ID)
	r.mu.Unlock()

	r.upsertRoom(room)
	r.cacheRooms(ctx, []models.ChatRoom{room})
}

func (r *Repository) onFriendRequest(raw []byte) {
	user, ok := r.decode.User(r.decode.Nested(raw, "user"))
	if !ok {
		observability.IncDecodeError("friend_request")
		return
	}
	r.requests.Update(func(cur []models.User) []models.User {
		for _, u := range cur {
			if u.ID == user.ID {
				return cur
			}
		}
		return append(append([]models.User(nil), cur...), user)
	})
}

func (r *Repository) onFriendAccepted(ctx context.Context, raw []byte) {
	userID := r.decode.Ref(raw, "userId")
	if userID == "" {
		if user, ok := r.decode.User(r.decode.Nested(raw, "user")); ok {
			userID = user.ID
		}
	}
	if userID != "" {
		r.dropFriendRequest(userID)
	}
	r.emitEphemeral(ctx, models.EventGetOnlineUsers, nil)
}

func (r *Repository) dropFriendRequest(userID string) {
	r.requests.Update(func(cur []models.User) []models.User {
		next := make([]models.User, 0, len(cur))
		for _, u := range cur {
			if u.ID != userID {
				next = append(next, u)
			}
		}
		return next
	})
}
