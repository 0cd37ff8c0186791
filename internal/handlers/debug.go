package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/telemetry"
	"chat-client/internal/viewmodel"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter *telemetry.AuditEmitter, chat *viewmodel.ChatViewModel, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), userIDFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"currentUser": chat.CurrentUser(),
			"activeRoom":  chat.ActiveRoomID().Get(),
			"rooms":       len(chat.Rooms().Get()),
			"users":       len(chat.Users().Get()),
			"messages":    len(chat.Messages().Get()),
		})
	})
}
