package handlers

import (
	"github.com/gin-gonic/gin"

	"chat-client/internal/viewmodel"
)

// Handlers groups every control API handler.
type Handlers struct {
	Session  *SessionHandler
	Chat     *ChatHandler
	Group    *GroupHandler
	Contacts *ContactHandler
}

// Register mounts the control API on r.
func (h Handlers) Register(r gin.IRoutes) {
	r.POST("/session", h.Session.Login)
	r.DELETE("/session", h.Session.Logout)
	r.GET("/session/state", h.Session.State)

	r.GET("/users", h.Chat.ListUsers)
	r.GET("/friends", h.Chat.ListFriends)
	r.GET("/rooms", h.Chat.ListRooms)
	r.PUT("/active-room", h.Chat.SetActiveRoom)
	r.GET("/messages", h.Chat.ListMessages)
	r.POST("/messages", h.Chat.PostMessage)
	r.POST("/messages/image", h.Chat.PostImage)
	r.POST("/messages/:message_id/seen", h.Chat.MarkSeen)
	r.POST("/messages/:message_id/resend", h.Chat.ResendMessage)
	r.POST("/typing", h.Chat.Typing)

	r.POST("/rooms/private", h.Chat.StartPrivateChat)
	r.POST("/rooms/:room_id/join", h.Chat.JoinRoom)
	r.POST("/rooms/:room_id/leave", h.Chat.RoomAction("leave", (*viewmodel.ChatViewModel).LeaveRoom))
	r.POST("/rooms/:room_id/read", h.Chat.RoomAction("read", (*viewmodel.ChatViewModel).MarkRoomAsRead))
	r.POST("/rooms/:room_id/pin", h.Chat.RoomAction("pin", (*viewmodel.ChatViewModel).Pin))
	r.POST("/rooms/:room_id/unpin", h.Chat.RoomAction("unpin", (*viewmodel.ChatViewModel).Unpin))
	r.POST("/rooms/:room_id/mute", h.Chat.RoomAction("mute", (*viewmodel.ChatViewModel).Mute))
	r.POST("/rooms/:room_id/unmute", h.Chat.RoomAction("unmute", (*viewmodel.ChatViewModel).Unmute))
	r.POST("/rooms/:room_id/archive", h.Chat.RoomAction("archive", (*viewmodel.ChatViewModel).Archive))
	r.POST("/rooms/:room_id/unarchive", h.Chat.RoomAction("unarchive", (*viewmodel.ChatViewModel).Unarchive))

	r.POST("/groups", h.Group.CreateGroup)
	r.GET("/groups/:room_id", h.Group.GetGroup)
	r.PATCH("/groups/:room_id", h.Group.RenameGroup)
	r.POST("/groups/:room_id/members", h.Group.AddMember)
	r.DELETE("/groups/:room_id/members/:user_id", h.Group.RemoveMember)
	r.POST("/groups/:room_id/admin", h.Group.TransferAdmin)

	r.GET("/contacts/search", h.Contacts.Search)
	r.GET("/contacts/requests", h.Contacts.PendingRequests)
	r.POST("/contacts/requests", h.Contacts.SendRequest)
	r.POST("/contacts/requests/:user_id/accept", h.Contacts.AcceptRequest)
}
