package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter records session-level actions such as login, logout and group
// administration.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string            `json:"level"`
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.EmitFields(ctx, level, text, requestID, userID, nil)
}

// EmitFields is Emit with extra string attributes attached to the payload.
func (e *AuditEmitter) EmitFields(ctx context.Context, level, text, requestID string, userID *string, fields map[string]string) {
	if e == nil || e.publisher == nil {
		return
	}

	entry := log.Debug().Str("level", level).Str("request_id", requestID).Str("text", text)
	if userID != nil {
		entry = entry.Str("user_id", *userID)
	}
	entry.Msg("audit emit")

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:  level,
			Text:   text,
			Fields: fields,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Error().Err(err).Str("routing_key", e.routingKey).Msg("audit publish failed")
	}
}
