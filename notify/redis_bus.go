package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// defaultChannel is the redis pub/sub channel eviction announcements use.
const defaultChannel = "admit:evict"

// evictMessage is the wire format of one announcement. Origin lets a
// replica skip its own broadcasts: it already evicted locally before
// publishing.
type evictMessage struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// redisSub tracks one subscription's pub/sub connection and listener.
type redisSub struct {
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// RedisBus broadcasts evictions over redis pub/sub so that every replica's
// memory store drops the key. Delivery is fire-and-forget: a replica that
// is down during the broadcast misses it, which is acceptable for counters
// that expire on their own anyway.
type RedisBus struct {
	client  redis.UniversalClient
	origin  string
	channel string

	mu     sync.Mutex
	closed bool
	subs   map[string]*redisSub
}

// RedisBusOption configures a RedisBus.
type RedisBusOption func(*RedisBus)

// WithChannel overrides the pub/sub channel name, for namespacing several
// engines on one redis.
func WithChannel(channel string) RedisBusOption {
	return func(b *RedisBus) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// NewRedisBus creates an eviction bus on the given client. It needs a
// UniversalClient rather than Cmdable because pub/sub subscriptions hold a
// dedicated connection.
func NewRedisBus(client redis.UniversalClient, opts ...RedisBusOption) *RedisBus {
	if client == nil {
		panic("notify: redis client cannot be nil")
	}

	b := &RedisBus{
		client:  client,
		origin:  uuid.NewString(),
		channel: defaultChannel,
		subs:    make(map[string]*redisSub),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	payload, err := json.Marshal(evictMessage{Origin: b.origin, Key: key})
	if err != nil {
		return fmt.Errorf("notify: marshal eviction: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Str("channel", b.channel).Msg("failed to publish eviction")
		return fmt.Errorf("notify: publish eviction: %w", err)
	}

	log.Debug().Str("key", key).Str("channel", b.channel).Msg("eviction published")
	return nil
}

// Subscribe implements Bus. The handler runs on the subscription's listener
// goroutine; keep it short (a store eviction is).
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) (string, error) {
	if handler == nil {
		return "", ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrBusClosed
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	// force the SUBSCRIBE round trip so a dead redis fails here, not silently
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return "", fmt.Errorf("notify: subscribe: %w", err)
	}

	sub := &redisSub{pubsub: pubsub}
	id := uuid.NewString()
	b.subs[id] = sub

	sub.wg.Add(1)
	go b.listen(sub, handler)

	log.Debug().Str("subscription_id", id).Str("channel", b.channel).Msg("eviction subscription created")
	return id, nil
}

// listen delivers messages until the subscription's connection is closed.
func (b *RedisBus) listen(sub *redisSub, handler Handler) {
	defer sub.wg.Done()

	for msg := range sub.pubsub.Channel() {
		var ev evictMessage
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warn().Err(err).Str("channel", b.channel).Msg("dropping malformed eviction message")
			continue
		}
		if ev.Origin == b.origin {
			continue // our own broadcast, already applied locally
		}
		handler(ev.Key)
	}
}

// Unsubscribe implements Bus.
func (b *RedisBus) Unsubscribe(ctx context.Context, id string) error {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if !ok {
		return nil // already gone
	}

	err := sub.pubsub.Close()
	sub.wg.Wait()
	return err
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*redisSub)
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
		sub.wg.Wait()
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: closing subscriptions: %v", errs)
	}
	return nil
}
