package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/rules"
	"github.com/toolink/admit/window"
)

const defaultShardCount = 64

// entry pairs a key's window state with the window duration it was last
// checked against, so that the sweep can decide expiry without the limit.
type entry struct {
	state  window.State
	window time.Duration
}

// shard is one slice of the key space with its own lock, so that distinct
// subjects never contend on a single global mutex.
type shard struct {
	mu     sync.Mutex
	states map[string]entry
}

// MemoryStore implements Store with a sharded in-process map. Suitable for
// single-instance deployments; multi-replica setups need the redis backend
// for a shared view of each subject's counters.
type MemoryStore struct {
	shards []*shard

	cleanupInterval time.Duration
	now             func() time.Time

	mu      sync.Mutex // guards cancel
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	statesCreated atomic.Int64
	statesRemoved atomic.Int64
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets how often the background sweep removes fully
// elapsed states. Default is 5 minutes.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if interval > 0 {
			ms.cleanupInterval = interval
		}
	}
}

// WithClock overrides the time source. Tests use this to drive the window
// math deterministically.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

// NewMemoryStore creates an in-process counter store. Call Start (or Run
// with an errgroup) to begin the background sweep; the store works without
// it, entries just stay resident until evicted.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		shards:          make([]*shard, defaultShardCount),
		cleanupInterval: 5 * time.Minute,
		now:             time.Now,
	}
	for i := range ms.shards {
		ms.shards[i] = &shard{states: make(map[string]entry)}
	}

	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return ms.shards[h.Sum32()%uint32(len(ms.shards))]
}

// IncrementAndCheck implements Store. The whole read-modify-write runs under
// the key's shard lock.
func (ms *MemoryStore) IncrementAndCheck(ctx context.Context, key string, limit rules.Limit) (Result, error) {
	sh := ms.shardFor(key)
	now := ms.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, exists := sh.states[key]
	if !exists {
		ms.statesCreated.Add(1)
	}

	next, admitted, retryAfter := window.Advance(e.state, now, limit)
	sh.states[key] = entry{state: next, window: limit.Window}

	if !admitted {
		log.Debug().Str("key", key).Stringer("limit", limit).Dur("retry_after", retryAfter).Msg("memory store denied hit")
	}
	return Result{Admitted: admitted, RetryAfter: retryAfter}, nil
}

// Evict implements Store.
func (ms *MemoryStore) Evict(ctx context.Context, key string) error {
	sh := ms.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.states[key]; exists {
		delete(sh.states, key)
		ms.statesRemoved.Add(1)
	}
	return nil
}

// Start runs the background sweep until ctx is cancelled. It blocks; use
// Run for errgroup setups or call it in a goroutine.
func (ms *MemoryStore) Start(ctx context.Context) error {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return fmt.Errorf("memory store already started")
	}
	ctx, ms.cancel = context.WithCancel(ctx)
	ms.mu.Unlock()

	ms.running.Store(true)
	defer ms.running.Store(false)

	log.Info().Dur("cleanup_interval", ms.cleanupInterval).Msg("memory store sweep started")

	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("memory store sweep stopping")
			return ctx.Err()
		case <-ticker.C:
			ms.wg.Add(1)
			ms.removeExpired()
			ms.wg.Done()
		}
	}
}

// Stop cancels the background sweep and waits for an in-flight pass to
// finish.
func (ms *MemoryStore) Stop() error {
	ms.mu.Lock()
	cancel := ms.cancel
	ms.cancel = nil
	ms.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("memory store not started")
	}
	cancel()
	ms.wg.Wait()
	return nil
}

// Run returns a function suitable for errgroup.Go that starts the sweep and
// shuts it down cleanly when ctx is cancelled.
func (ms *MemoryStore) Run(ctx context.Context) func() error {
	return func() error {
		err := ms.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

// removeExpired drops every state whose sub-windows have fully elapsed. It
// takes each shard lock in turn, never all at once, so in-flight increments
// on other shards proceed undisturbed.
func (ms *MemoryStore) removeExpired() {
	now := ms.now()
	removed := 0

	for _, sh := range ms.shards {
		sh.mu.Lock()
		for key, e := range sh.states {
			if e.state.Expired(now, e.window) {
				delete(sh.states, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		ms.statesRemoved.Add(int64(removed))
		log.Debug().Int("removed", removed).Msg("memory store sweep removed expired states")
	}
}

// MemoryStoreStats exposes counters for monitoring.
type MemoryStoreStats struct {
	ActiveStates  int
	StatesCreated int64
	StatesRemoved int64
	SweepRunning  bool
}

// Stats returns a snapshot of the store's counters.
func (ms *MemoryStore) Stats() MemoryStoreStats {
	active := 0
	for _, sh := range ms.shards {
		sh.mu.Lock()
		active += len(sh.states)
		sh.mu.Unlock()
	}
	return MemoryStoreStats{
		ActiveStates:  active,
		StatesCreated: ms.statesCreated.Load(),
		StatesRemoved: ms.statesRemoved.Load(),
		SweepRunning:  ms.running.Load(),
	}
}
