package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-client/internal/telemetry"
)

const (
	requestIDContextKey = "request_id"
	userIDContextKey    = "userID"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetString(userIDContextKey); userID != "" {
		return &userID
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		return &header
	}
	return nil
}

// CurrentUser stores the logged-in user id on every request for audit events.
func CurrentUser(userID func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := userID(); id != "" {
			c.Set(userIDContextKey, id)
		}
		c.Next()
	}
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, level, text string, fields map[string]string) {
	if audit == nil {
		return
	}
	audit.EmitFields(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c), fields)
}
