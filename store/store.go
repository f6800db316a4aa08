// Package store defines the counter store contract and its backends. A
// store holds one sliding-window state per counter key and must apply the
// increment-and-check step atomically per key; callers cannot tell backends
// apart through the contract.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/toolink/admit/rules"
)

// ErrStoreUnavailable is returned when the backing store cannot be reached
// or times out. It is transient: the admission engine maps it onto the
// configured fail-open/fail-closed policy instead of surfacing it upstream.
var ErrStoreUnavailable = errors.New("store: unavailable")

// Result is the outcome of one increment-and-check step. RetryAfter is zero
// when admitted, otherwise the time until the window has decayed enough to
// admit one more hit.
type Result struct {
	Admitted   bool
	RetryAfter time.Duration
}

// Store is the counter store contract.
type Store interface {
	// IncrementAndCheck atomically rolls the key's window state, checks the
	// sliding estimate against the limit and records the hit when admitted.
	// Concurrent calls on the same key observe a linearizable order.
	IncrementAndCheck(ctx context.Context, key string, limit rules.Limit) (Result, error)

	// Evict drops the key's state, resetting its window. Used for admin
	// resets and tests; missing keys are not an error.
	Evict(ctx context.Context, key string) error
}
