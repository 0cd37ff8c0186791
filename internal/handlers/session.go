package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/models"
	"chat-client/internal/observable"
)

type sessionManager interface {
	Login(ctx context.Context, creds models.Credentials) (models.Credentials, error)
	Logout(ctx context.Context) error
	Credentials() (models.Credentials, bool)
	State() *observable.Value[models.ConnectionState]
}

// SessionHandler logs the client in and out.
type SessionHandler struct {
	sessions sessionManager
}

func NewSessionHandler(sessions sessionManager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Login handles POST /session.
func (h *SessionHandler) Login(c *gin.Context) {
	var req struct {
		Token  string `json:"token" binding:"required"`
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creds, err := h.sessions.Login(c.Request.Context(), models.Credentials{Token: req.Token, UserID: req.UserID})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": creds.UserID, "state": h.sessions.State().Get()})
}

// Logout handles DELETE /session.
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// State handles GET /session/state.
func (h *SessionHandler) State(c *gin.Context) {
	creds, ok := h.sessions.Credentials()
	resp := gin.H{"loggedIn": ok, "state": h.sessions.State().Get()}
	if ok {
		resp["userId"] = creds.UserID
	}
	c.JSON(http.StatusOK, resp)
}
