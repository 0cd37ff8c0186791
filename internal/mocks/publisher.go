package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/observability"
	"chat-client/internal/telemetry"
)

// PublisherMock stands in for the broker that receives audit records and
// connection lifecycle events.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// AuditEvent matches an audit envelope carrying text.
func AuditEvent(text string) any {
	return mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.EventType == "audit_log" && env.Payload.Text == text
	})
}

// AuditEventFor matches an audit envelope carrying text on behalf of userID.
func AuditEventFor(text, userID string) any {
	return mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Text == text && env.UserID != nil && *env.UserID == userID
	})
}

// WSEvent matches a connection lifecycle envelope named event.
func WSEvent(event string) any {
	return mock.MatchedBy(func(env observability.EventEnvelope) bool {
		return env.EventType == "ws_events" && env.EventName == event
	})
}

var (
	_ telemetry.Publisher     = (*PublisherMock)(nil)
	_ observability.Publisher = (*PublisherMock)(nil)
)
