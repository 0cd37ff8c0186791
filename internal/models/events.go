package models

import "encoding/json"

// Realtime event names.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"

	EventJoinRoom      = "join_room"
	EventLeaveRoom     = "leave_room"
	EventSendMessage   = "send_message"
	EventReceive       = "receive_message"
	EventReceived      = "message_received"
	EventMessageStatus = "message_status"
	EventMarkSeen      = "mark_seen"
	EventMessageSeen   = "message_seen"
	EventSyncMessages  = "sync_messages"
	EventMessagesSync  = "messages_synced"

	EventTyping     = "typing"
	EventStopTyping = "stop_typing"

	EventGetOnlineUsers  = "get_online_users"
	EventOnlineUsersList = "online_users_list"
	EventUsersList       = "users_list"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"

	EventGetRooms      = "get_rooms"
	EventRoomsList     = "rooms_list"
	EventRoomUpdated   = "room_updated"
	EventCreateGroup   = "create_group"
	EventRenameGroup   = "rename_group"
	EventAddMember     = "add_member"
	EventKickMember    = "kick_member"
	EventTransferAdmin = "transfer_admin"
	EventRoomSettings  = "room_settings"

	EventFriendRequest         = "friend_request"
	EventFriendRequestReceived = "friend_request_received"
	EventFriendRequestAccepted = "friend_request_accepted"
)

// EventCategory groups inbound events that share a consumer.
type EventCategory string

const (
	CategoryLifecycle EventCategory = "lifecycle"
	CategoryMessages  EventCategory = "messages"
	CategoryPresence  EventCategory = "presence"
	CategoryRooms     EventCategory = "rooms"
	CategoryContacts  EventCategory = "contacts"
)

// Categories lists every inbound category.
var Categories = []EventCategory{
	CategoryLifecycle,
	CategoryMessages,
	CategoryPresence,
	CategoryRooms,
	CategoryContacts,
}

var eventCategories = map[string]EventCategory{
	EventConnect:    CategoryLifecycle,
	EventDisconnect: CategoryLifecycle,
	EventError:      CategoryLifecycle,

	EventReceive:       CategoryMessages,
	EventReceived:      CategoryMessages,
	EventMessageStatus: CategoryMessages,
	EventMessageSeen:   CategoryMessages,
	EventMessagesSync:  CategoryMessages,

	EventOnlineUsersList: CategoryPresence,
	EventUsersList:       CategoryPresence,
	EventUserOnline:      CategoryPresence,
	EventUserOffline:     CategoryPresence,
	EventTyping:          CategoryPresence,
	EventStopTyping:      CategoryPresence,

	EventRoomsList:   CategoryRooms,
	EventRoomUpdated: CategoryRooms,

	EventFriendRequestReceived: CategoryContacts,
	EventFriendRequestAccepted: CategoryContacts,
}

// CategoryOf returns the category of an inbound event.
func CategoryOf(event string) (EventCategory, bool) {
	c, ok := eventCategories[event]
	return c, ok
}

// Frame is one realtime event on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnStatus is the state of the realtime connection.
type ConnStatus string

const (
	ConnDisconnected ConnStatus = "disconnected"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnReconnecting ConnStatus = "reconnecting"
	ConnFailed       ConnStatus = "failed"
)

// ConnectionState is published to the UI so connection failures are visible.
type ConnectionState struct {
	Status ConnStatus `json:"status"`
	Err    string     `json:"error,omitempty"`
}

// OutboundMessage is the send_message payload.
type OutboundMessage struct {
	ClientID string      `json:"clientId"`
	RoomID   string      `json:"roomId"`
	Content  string      `json:"content"`
	SenderID string      `json:"senderId"`
	Type     MessageType `json:"type"`
}

// SeenReceipt is the mark_seen payload.
type SeenReceipt struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

// SyncRequest is the sync_messages payload.
type SyncRequest struct {
	RoomID    string `json:"roomId"`
	RequestID string `json:"requestId"`
}

// MemberChange is the payload of member and admin events.
type MemberChange struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// GroupSpec is the create_group and rename_group payload.
type GroupSpec struct {
	RoomID  string   `json:"roomId"`
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
	AdminID string   `json:"adminId,omitempty"`
}

// FriendSignal is the friend_request payload.
type FriendSignal struct {
	UserID string `json:"userId"`
}
