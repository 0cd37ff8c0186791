package realtime

import (
	"context"

	"chat-client/internal/models"
)

// State containers hold immutable snapshots, so every change copies the
// slice or map it touches.

func roomIndex(rooms []models.ChatRoom, roomID string) int {
	for i := range rooms {
		if rooms[i].ID == roomID {
			return i
		}
	}
	return -1
}

func cloneRooms(rooms []models.ChatRoom) []models.ChatRoom {
	return append([]models.ChatRoom(nil), rooms...)
}

func cloneMessages(msgs []models.Message) []models.Message {
	return append([]models.Message(nil), msgs...)
}

func withRoomMessages(cur map[string][]models.Message, roomID string, list []models.Message) map[string][]models.Message {
	out := make(map[string][]models.Message, len(cur)+1)
	for id, msgs := range cur {
		out[id] = msgs
	}
	out[roomID] = list
	return out
}

// mergeMessage folds in into its room: merged into a matching entry, or
// appended. It returns the stored copy and whether it was appended.
func (r *Repository) mergeMessage(in models.Incoming) (models.Message, bool) {
	msg := in.Message
	var stored models.Message
	var added bool
	r.messages.Update(func(cur map[string][]models.Message) map[string][]models.Message {
		list := cur[msg.RoomID]
		for i := range list {
			if list[i].Matches(msg) {
				next := cloneMessages(list)
				next[i] = list[i].Merge(msg, in.Present)
				stored = next[i]
				return withRoomMessages(cur, msg.RoomID, next)
			}
		}
		stored, added = msg, true
		next := make([]models.Message, 0, len(list)+1)
		next = append(next, list...)
		return withRoomMessages(cur, msg.RoomID, append(next, msg))
	})
	return stored, added
}

// setStatus advances the message matching ref. An empty roomID searches
// every room.
func (r *Repository) setStatus(roomID string, ref models.Message, status models.MessageStatus) (models.Message, bool) {
	var out models.Message
	var changed bool
	r.messages.Update(func(cur map[string][]models.Message) map[string][]models.Message {
		for id, list := range cur {
			if roomID != "" && id != roomID {
				continue
			}
			for i := range list {
				if !list[i].Matches(ref) {
					continue
				}
				next, ok := list[i].Advance(status)
				if !ok {
					return cur
				}
				msgs := cloneMessages(list)
				msgs[i] = next
				out, changed = next, true
				return withRoomMessages(cur, id, msgs)
			}
		}
		return cur
	})
	return out, changed
}

func (r *Repository) findMessage(roomID, messageID string) (models.Message, bool) {
	ref := models.Message{ID: messageID}
	for _, m := range r.messages.Get()[roomID] {
		if m.Matches(ref) {
			return m, true
		}
	}
	return models.Message{}, false
}

// refreshLastMessage points the room's preview at its newest message. It
// reports false when the room is unknown.
func (r *Repository) refreshLastMessage(roomID string, unread bool) bool {
	msgs := r.messages.Get()[roomID]
	known := false
	r.rooms.Update(func(cur []models.ChatRoom) []models.ChatRoom {
		i := roomIndex(cur, roomID)
		if i < 0 {
			return cur
		}
		known = true
		next := cloneRooms(cur)
		room := next[i]
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			room.LastMessage = &last
			if last.Timestamp.After(room.UpdatedAt) {
				room.UpdatedAt = last.Timestamp
			}
		}
		if unread {
			room.UnreadCount++
		}
		next[i] = room
		return next
	})
	return known
}

// modifyRoom applies fn to a room and caches the result.
func (r *Repository) modifyRoom(ctx context.Context, roomID string, fn func(models.ChatRoom) (models.ChatRoom, error)) (models.ChatRoom, error) {
	var out models.ChatRoom
	var ferr error
	r.rooms.Update(func(cur []models.ChatRoom) []models.ChatRoom {
		i := roomIndex(cur, roomID)
		if i < 0 {
			ferr = ErrRoomNotFound
			return cur
		}
		room, err := fn(cur[i])
		if err != nil {
			ferr = err
			return cur
		}
		out = room
		next := cloneRooms(cur)
		next[i] = room
		return next
	})
	if ferr != nil {
		return models.ChatRoom{}, ferr
	}
	r.cacheRooms(ctx, []models.ChatRoom{out})
	return out, nil
}

// upsertRoom inserts or replaces a room, keeping the local preview when the
// incoming copy has none.
func (r *Repository) upsertRoom(room models.ChatRoom) {
	r.rooms.Update(func(cur []models.ChatRoom) []models.ChatRoom {
		next := cloneRooms(cur)
		if i := roomIndex(cur, room.ID); i >= 0 {
			if room.LastMessage == nil {
				room.LastMessage = cur[i].LastMessage
			}
			next[i] = room
			return next
		}
		return append(next, room)
	})
}

// reconcile merges a server history into the local list. Server order wins
// and statuses never regress. Local messages the server has not seen yet stay
// at the end in their original order.
func reconcile(local []models.Message, server []models.Incoming) []models.Message {
	out := make([]models.Message, 0, len(server)+len(local))
	used := make([]bool, len(local))
	for _, in := range server {
		merged := in.Message
		for i, m := range local {
			if !used[i] && m.Matches(in.Message) {
				merged = m.Merge(in.Message, in.Present)
				used[i] = true
				break
			}
		}
		out = append(out, merged)
	}
	for i, m := range local {
		if !used[i] && m.IsPending() {
			out = append(out, m)
		}
	}
	return out
}
