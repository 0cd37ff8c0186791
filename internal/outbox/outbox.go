// Package outbox queues outbound realtime actions while the connection is down.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrFull = errors.New("outbox is full")

// DefaultCapacity bounds an outbox when no capacity is configured.
const DefaultCapacity = 500

// Entry is one queued frame.
type Entry struct {
	ID       string          `json:"id"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// Outbox is a bounded FIFO of entries.
type Outbox interface {
	// Push appends e or fails with ErrFull.
	Push(ctx context.Context, e Entry) error
	// Drain removes and returns every entry in order.
	Drain(ctx context.Context) ([]Entry, error)
	// Requeue puts entries back at the head, ahead of anything pushed since
	// they were drained. Capacity is not enforced.
	Requeue(ctx context.Context, entries []Entry) error
	Len(ctx context.Context) (int, error)
}

// MemoryOutbox keeps entries in process memory.
type MemoryOutbox struct {
	mu       sync.Mutex
	entries  []Entry
	capacity int
}

func NewMemoryOutbox(capacity int) *MemoryOutbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryOutbox{capacity: capacity}
}

func (o *MemoryOutbox) Push(_ context.Context, e Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) >= o.capacity {
		return ErrFull
	}
	o.entries = append(o.entries, e)
	return nil
}

func (o *MemoryOutbox) Drain(_ context.Context) ([]Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.entries
	o.entries = nil
	return out, nil
}

func (o *MemoryOutbox) Requeue(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	merged := make([]Entry, 0, len(entries)+len(o.entries))
	merged = append(merged, entries...)
	o.entries = append(merged, o.entries...)
	return nil
}

func (o *MemoryOutbox) Len(_ context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries), nil
}
