// Package notify propagates counter evictions between replicas. A redis
// counter store does not need it (every replica already shares one
// keyspace), but replicas running in-process memory stores must hear about
// admin resets made elsewhere, or a reset only takes effect on one instance.
package notify

import (
	"context"
	"errors"
)

var (
	// ErrBusClosed is returned by operations on a closed bus.
	ErrBusClosed = errors.New("notify: bus is closed")
	// ErrNilHandler is returned by Subscribe when no handler is given.
	ErrNilHandler = errors.New("notify: handler cannot be nil")
)

// Handler receives the counter key of a remote eviction.
type Handler func(key string)

// Bus is the eviction broadcast contract.
type Bus interface {
	// Publish announces that key was evicted on this replica.
	Publish(ctx context.Context, key string) error

	// Subscribe registers a handler for evictions announced by other
	// replicas. Returns a subscription id for Unsubscribe.
	Subscribe(ctx context.Context, handler Handler) (string, error)

	// Unsubscribe removes the subscription with the given id.
	Unsubscribe(ctx context.Context, id string) error

	// Close shuts the bus down, stopping all subscriptions.
	Close() error
}
