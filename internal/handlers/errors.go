package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"chat-client/internal/apiclient"
	"chat-client/internal/app"
	"chat-client/internal/models"
	"chat-client/internal/realtime"
	"chat-client/internal/session"
	"chat-client/internal/viewmodel"
	"chat-client/internal/ws"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var apiErr *apiclient.APIError
	switch {
	case errors.Is(err, viewmodel.ErrEmptyMessage),
		errors.Is(err, models.ErrBlankRoomName),
		errors.Is(err, models.ErrTooFewMembers),
		errors.Is(err, models.ErrSelfPrivateRoom),
		errors.Is(err, models.ErrNotGroupRoom),
		errors.Is(err, session.ErrNoCredentials),
		errors.Is(err, session.ErrNoUserID):
		return http.StatusBadRequest
	case errors.Is(err, viewmodel.ErrNoCurrentUser),
		errors.Is(err, realtime.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, realtime.ErrRoomNotFound),
		errors.Is(err, realtime.ErrMessageNotFound),
		errors.Is(err, models.ErrNotMember):
		return http.StatusNotFound
	case errors.Is(err, viewmodel.ErrNoActiveRoom),
		errors.Is(err, models.ErrAlreadyMember),
		errors.Is(err, app.ErrNotLoggedIn):
		return http.StatusConflict
	case errors.Is(err, viewmodel.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, viewmodel.ErrNotAnImage):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, realtime.ErrOutboxFull),
		errors.Is(err, ws.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr),
		errors.Is(err, ws.ErrInvalidEndpoint):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("route", c.FullPath()).Msg("control request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
