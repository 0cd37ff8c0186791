package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/realtime"
	"chat-client/internal/telemetry"
	"chat-client/internal/viewmodel"
)

// GroupHandler manages group administration.
type GroupHandler struct {
	vm    *viewmodel.ChatViewModel
	audit *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(vm *viewmodel.ChatViewModel, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{vm: vm, audit: audit}
}

// CreateGroup handles POST /groups. A group whose create action is still
// queued is returned with 202.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload", "")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.vm.CreateGroup(c.Request.Context(), req.Name, req.MemberIDs)
	if err != nil {
		if room.ID != "" {
			h.emitAudit(c, "WARN", "Group created locally", room.ID)
			c.JSON(http.StatusAccepted, gin.H{"room": room, "error": err.Error()})
			return
		}
		h.emitAudit(c, "ERROR", "Group creation rejected", "")
		respondError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "Group created", room.ID)
	c.JSON(http.StatusCreated, room)
}

// GetGroup handles GET /groups/:room_id with member roles resolved.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	roomID := c.Param("room_id")
	for _, room := range h.vm.Rooms().Get() {
		if room.ID != roomID {
			continue
		}
		group, err := room.Group()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, group)
		return
	}
	respondError(c, realtime.ErrRoomNotFound)
}

// RenameGroup handles PATCH /groups/:room_id.
func (h *GroupHandler) RenameGroup(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := c.Param("room_id")
	room, err := h.vm.RenameGroup(c.Request.Context(), roomID, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Group renamed", roomID)
	c.JSON(http.StatusOK, room)
}

// AddMember handles POST /groups/:room_id/members.
func (h *GroupHandler) AddMember(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := c.Param("room_id")
	room, err := h.vm.AddMember(c.Request.Context(), roomID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Group member added", roomID)
	c.JSON(http.StatusOK, room)
}

// RemoveMember handles DELETE /groups/:room_id/members/:user_id. Removing
// yourself leaves the group.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	roomID, userID := c.Param("room_id"), c.Param("user_id")
	if userID == h.vm.CurrentUser() {
		if err := h.vm.LeaveGroup(c.Request.Context(), roomID); err != nil {
			respondError(c, err)
			return
		}
		h.emitAudit(c, "INFO", "Group left", roomID)
		c.Status(http.StatusNoContent)
		return
	}

	room, err := h.vm.KickMember(c.Request.Context(), roomID, userID)
	if err != nil {
		h.emitAudit(c, "ERROR", "Group member removal rejected", roomID)
		respondError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Group member removed", roomID)
	c.JSON(http.StatusOK, room)
}

// TransferAdmin handles POST /groups/:room_id/admin.
func (h *GroupHandler) TransferAdmin(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := c.Param("room_id")
	room, err := h.vm.TransferAdmin(c.Request.Context(), roomID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.emitAudit(c, "INFO", "Group admin transferred", roomID)
	c.JSON(http.StatusOK, room)
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text, roomID string) {
	var fields map[string]string
	if roomID != "" {
		fields = map[string]string{"room_id": roomID}
	}
	emitAudit(c, h.audit, level, text, fields)
}
