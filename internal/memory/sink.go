// Package memory is the boundary to the optional coordination-memory
// collaborator. The engine emits events describing task and workflow
// lifecycle changes; a persistence layer may record them. Absence of a real
// sink never affects correctness, only observability.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/orchestrator/pkg/types"
)

// Sink receives coordination events. Implementations must be safe for
// concurrent use and should never block the engine for long.
type Sink interface {
	Emit(ctx context.Context, event types.Event)
	Close() error
}

// NewEvent builds a coordination event with id and timestamp filled in.
func NewEvent(eventType types.EventType, taskID string, payload map[string]any) types.Event {
	return types.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, event types.Event) {}
func (NopSink) Close() error                                { return nil }

// Broadcast fans events out to subscribers and an optional downstream sink.
// The API layer uses it to serve live event streams.
type Broadcast struct {
	mu          sync.Mutex
	downstream  Sink
	subscribers map[chan types.Event]struct{}
	buffer      int
}

// NewBroadcast creates a broadcast sink forwarding to downstream (which may
// be nil).
func NewBroadcast(downstream Sink) *Broadcast {
	return &Broadcast{
		downstream:  downstream,
		subscribers: make(map[chan types.Event]struct{}),
		buffer:      64,
	}
}

// Emit forwards the event to every subscriber and the downstream sink.
// Slow subscribers drop events rather than blocking the engine.
func (b *Broadcast) Emit(ctx context.Context, event types.Event) {
	b.mu.Lock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	b.mu.Unlock()

	if b.downstream != nil {
		b.downstream.Emit(ctx, event)
	}
}

// Subscribe returns a channel of future events and a cleanup function.
func (b *Broadcast) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, b.buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Close closes the downstream sink and drops all subscribers.
func (b *Broadcast) Close() error {
	b.mu.Lock()
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()

	if b.downstream != nil {
		return b.downstream.Close()
	}
	return nil
}
