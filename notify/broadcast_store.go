package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/store"
)

// BroadcastStore decorates a counter store so that local evictions are
// announced on a Bus and remote announcements are applied locally. Wrap
// each replica's MemoryStore with one of these (sharing a RedisBus) and an
// admin reset lands everywhere.
type BroadcastStore struct {
	store.Store
	bus Bus

	subID string
}

// NewBroadcastStore wires a store to a bus. Call Run (or Listen) to start
// applying remote evictions; Evict broadcasts immediately either way.
func NewBroadcastStore(inner store.Store, bus Bus) *BroadcastStore {
	if inner == nil {
		panic("notify: inner store cannot be nil")
	}
	if bus == nil {
		panic("notify: bus cannot be nil")
	}
	return &BroadcastStore{Store: inner, bus: bus}
}

// Evict drops the key locally, then announces it. A failed broadcast does
// not undo the local eviction; the error tells the admin to retry.
func (b *BroadcastStore) Evict(ctx context.Context, key string) error {
	if err := b.Store.Evict(ctx, key); err != nil {
		return err
	}
	return b.bus.Publish(ctx, key)
}

// Listen subscribes to the bus and applies remote evictions to the inner
// store until Close is called.
func (b *BroadcastStore) Listen(ctx context.Context) error {
	id, err := b.bus.Subscribe(ctx, func(key string) {
		if err := b.Store.Evict(context.Background(), key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to apply remote eviction")
		}
	})
	if err != nil {
		return err
	}
	b.subID = id
	return nil
}

// Run returns a function suitable for errgroup.Go: it starts listening and
// unsubscribes when ctx is cancelled.
func (b *BroadcastStore) Run(ctx context.Context) func() error {
	return func() error {
		if err := b.Listen(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return b.Close()
	}
}

// Close stops applying remote evictions. The bus itself is left open: it
// may be shared.
func (b *BroadcastStore) Close() error {
	if b.subID == "" {
		return nil
	}
	id := b.subID
	b.subID = ""
	return b.bus.Unsubscribe(context.Background(), id)
}
