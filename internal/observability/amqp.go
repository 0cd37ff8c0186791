package observability

import (
	"context"
	"sync"
)

// Publisher is satisfied by the rabbitmq publisher and its noop fallback.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type headersKey struct{}

// WithHeaders attaches message headers for the publisher to forward.
func WithHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headersKey{}, headers)
}

// HeadersFromContext returns the headers attached with WithHeaders.
func HeadersFromContext(ctx context.Context) map[string]string {
	headers, _ := ctx.Value(headersKey{}).(map[string]string)
	return headers
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defer publisherMu.Unlock()
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	publisherMu.RLock()
	publisher := defaultPublisher
	publisherMu.RUnlock()
	if publisher == nil {
		return nil
	}

	err := publisher.Publish(WithHeaders(ctx, headers), routingKey, message)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
