// Package eventbus provides the in-process pub/sub channel that carries
// agent lifecycle events to observers such as the gateway's stats.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"nimbus/internal/domain"
)

// Bus fans events out to registered handlers. Handlers run on their own
// goroutines so a slow observer never stalls the agent loop.
type Bus struct {
	mu     sync.RWMutex
	byType map[domain.EventType]map[uint64]domain.EventHandler
	global map[uint64]domain.EventHandler
	seq    uint64 // guarded by mu

	log    *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an event bus.
func New(log *slog.Logger) *Bus {
	return &Bus{
		byType: make(map[domain.EventType]map[uint64]domain.EventHandler),
		global: make(map[uint64]domain.EventHandler),
		log:    log,
	}
}

// Publish delivers an event to subscribers of its type and to all-event
// subscribers. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	handlers := make([]domain.EventHandler, 0, len(b.byType[event.Type])+len(b.global))
	for _, h := range b.byType[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.global {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.run(ctx, event, h)
	}
}

func (b *Bus) run(ctx context.Context, event domain.Event, handler domain.EventHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("event handler panicked",
					"event", string(event.Type),
					"panic", r,
				)
			}
		}()
		handler(ctx, event)
	}()
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	set := b.byType[eventType]
	if set == nil {
		set = make(map[uint64]domain.EventHandler)
		b.byType[eventType] = set
	}
	set[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.byType[eventType], id)
		b.mu.Unlock()
	}
}

// SubscribeAll registers a handler for every event and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.global[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.global, id)
		b.mu.Unlock()
	}
}

// Close stops accepting publishes and waits for in-flight handlers.
// Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
