package ws

import (
	"time"

	"github.com/google/uuid"
)

type ConnInfo struct {
	ConnID      string    `json:"connId"`
	UserID      string    `json:"userId"`
	Endpoint    string    `json:"endpoint"`
	TraceID     string    `json:"traceId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func newConnInfo(userID, endpoint, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		Endpoint:    endpoint,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}
