package handlers

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-client/internal/models"
	"chat-client/internal/telemetry"
	"chat-client/internal/viewmodel"
)

// ChatHandler exposes the chat view-model.
type ChatHandler struct {
	vm    *viewmodel.ChatViewModel
	audit *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler. audit may be nil.
func NewChatHandler(vm *viewmodel.ChatViewModel, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{vm: vm, audit: audit}
}

// ListUsers returns every known user with presence.
func (h *ChatHandler) ListUsers(c *gin.Context) {
	users := h.vm.Users().Get()
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// ListFriends returns the current user's friends.
func (h *ChatHandler) ListFriends(c *gin.Context) {
	friends := h.vm.Friends().Get()
	if friends == nil {
		friends = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// ListRooms returns rooms with pinned rooms first, newest activity next.
// ?archived=true|false filters on the archive flag.
func (h *ChatHandler) ListRooms(c *gin.Context) {
	rooms := h.vm.Rooms().Get()
	out := make([]models.ChatRoom, 0, len(rooms))
	filter := c.Query("archived")
	for _, room := range rooms {
		if filter != "" {
			archived, err := strconv.ParseBool(filter)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid archived filter"})
				return
			}
			if room.Archived != archived {
				continue
			}
		}
		out = append(out, room)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// SetActiveRoom handles PUT /active-room.
func (h *ChatHandler) SetActiveRoom(c *gin.Context) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.vm.SetActiveRoom(c.Request.Context(), req.RoomID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": req.RoomID})
}

// ListMessages returns the active room's messages and who is typing there.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	msgs := h.vm.Messages().Get()
	if msgs == nil {
		msgs = []models.Message{}
	}
	typing := h.vm.TypingUsers().Get()
	if typing == nil {
		typing = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"roomId":   h.vm.ActiveRoomID().Get(),
		"messages": msgs,
		"typing":   typing,
	})
}

// PostMessage sends text to the active room. A message that could not be
// queued comes back with status failed alongside the error.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := h.vm.SendMessage(c.Request.Context(), req.Content)
	h.respondMessage(c, msg, err)
}

// PostImage sends an image to the active room, either as the "image" field of
// a multipart form or as the raw request body.
func (h *ChatHandler) PostImage(c *gin.Context) {
	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing image field"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable image"})
			return
		}
		defer f.Close()
		src = f
	}
	msg, err := h.vm.SendImage(c.Request.Context(), src)
	h.respondMessage(c, msg, err)
}

// ResendMessage handles POST /messages/:message_id/resend.
func (h *ChatHandler) ResendMessage(c *gin.Context) {
	msg, err := h.vm.ResendMessage(c.Request.Context(), c.Param("message_id"))
	h.respondMessage(c, msg, err)
}

func (h *ChatHandler) respondMessage(c *gin.Context, msg models.Message, err error) {
	if err != nil {
		status := statusFor(err)
		body := gin.H{"error": err.Error()}
		if msg.ID != "" {
			body["message"] = msg
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

// MarkSeen handles POST /messages/:message_id/seen for the active room.
func (h *ChatHandler) MarkSeen(c *gin.Context) {
	id := c.Param("message_id")
	for _, msg := range h.vm.Messages().Get() {
		if msg.ID == id || msg.ClientID == id {
			if err := h.vm.MarkAsSeen(c.Request.Context(), msg); err != nil {
				respondError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "message not found in active room"})
}

// Typing handles POST /typing with the current input text.
func (h *ChatHandler) Typing(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.vm.OnUserInputChanged(c.Request.Context(), req.Text)
	c.Status(http.StatusNoContent)
}

// StartPrivateChat handles POST /rooms/private.
func (h *ChatHandler) StartPrivateChat(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	other := models.User{ID: req.UserID}
	for _, u := range h.vm.Users().Get() {
		if u.ID == req.UserID {
			other = u
			break
		}
	}
	room, err := h.vm.StartPrivateChat(c.Request.Context(), other)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// JoinRoom handles POST /rooms/:room_id/join.
func (h *ChatHandler) JoinRoom(c *gin.Context) {
	h.vm.JoinRoom(c.Request.Context(), c.Param("room_id"))
	c.Status(http.StatusNoContent)
}

// RoomAction adapts a view-model room operation to POST /rooms/:room_id/<action>.
func (h *ChatHandler) RoomAction(action string, fn func(*viewmodel.ChatViewModel, context.Context, string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("room_id")
		if err := fn(h.vm, c.Request.Context(), roomID); err != nil {
			respondError(c, err)
			return
		}
		if action == "leave" {
			emitAudit(c, h.audit, "INFO", "Room left", map[string]string{"room_id": roomID})
		}
		c.Status(http.StatusNoContent)
	}
}
