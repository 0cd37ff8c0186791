package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/models"
	"chat-client/internal/viewmodel"
)

// ContactHandler exposes user search and friend requests.
type ContactHandler struct {
	vm *viewmodel.ContactViewModel
}

func NewContactHandler(vm *viewmodel.ContactViewModel) *ContactHandler {
	return &ContactHandler{vm: vm}
}

// Search handles GET /contacts/search?q=.
func (h *ContactHandler) Search(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		h.vm.ClearSearchResults()
	} else {
		h.vm.SearchUsers(c.Request.Context(), q)
	}
	h.respondUsers(c, "users", h.vm.SearchResults().Get())
}

// PendingRequests handles GET /contacts/requests.
func (h *ContactHandler) PendingRequests(c *gin.Context) {
	h.vm.FetchPendingRequests(c.Request.Context())
	h.respondUsers(c, "requests", h.vm.PendingRequests().Get())
}

// SendRequest handles POST /contacts/requests.
func (h *ContactHandler) SendRequest(c *gin.Context) {
	var req struct {
		UserID string `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respondResult(c, h.vm.SendFriendRequest(c.Request.Context(), req.UserID))
}

// AcceptRequest handles POST /contacts/requests/:user_id/accept.
func (h *ContactHandler) AcceptRequest(c *gin.Context) {
	h.respondResult(c, h.vm.AcceptFriendRequest(c.Request.Context(), c.Param("user_id")))
}

func (h *ContactHandler) respondUsers(c *gin.Context, key string, users []models.User) {
	if users == nil {
		users = []models.User{}
	}
	resp := gin.H{key: users}
	if msg := h.vm.LastError().Get(); msg != "" {
		resp["error"] = msg
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ContactHandler) respondResult(c *gin.Context, ok bool) {
	if msg := h.vm.LastError().Get(); msg != "" {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok})
}
