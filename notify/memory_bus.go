package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus is an in-process Bus. Single-instance deployments get a working
// no-dependency bus, and tests get deterministic delivery: Publish invokes
// every handler synchronously before returning.
type MemoryBus struct {
	mu       sync.RWMutex
	closed   bool
	handlers map[string]Handler
}

// NewMemoryBus creates an in-process eviction bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string]Handler)}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(ctx context.Context, key string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(key)
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) (string, error) {
	if handler == nil {
		return "", ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrBusClosed
	}

	id := uuid.NewString()
	b.handlers[id] = handler
	return id, nil
}

// Unsubscribe implements Bus.
func (b *MemoryBus) Unsubscribe(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
	return nil
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[string]Handler)
	return nil
}
