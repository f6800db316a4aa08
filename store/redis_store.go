package store

import (
	"context"
	_ "embed" // needed for go:embed
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolink/admit/rules"
)

//go:embed window.lua
var windowScriptSrc string

var windowScript = redis.NewScript(windowScriptSrc)

// keyPrefix namespaces counter state keys in the shared keyspace.
const keyPrefix = "admit:"

const defaultCallTimeout = 250 * time.Millisecond

// RedisStore implements Store on a shared redis, giving multiple replicas a
// consistent view of the same subject's counters. The whole
// increment-and-check step runs inside a Lua script, so atomicity per key is
// redis's guarantee, and per-key PEXPIRE handles passive eviction without a
// sweep.
type RedisStore struct {
	client      redis.Cmdable // Cmdable so cluster and sentinel clients work too
	callTimeout time.Duration
	now         func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithCallTimeout bounds each redis round trip. The timeout is the only
// abort path for a check; on expiry the engine's failure policy decides the
// outcome. Default is 250ms.
func WithCallTimeout(timeout time.Duration) RedisStoreOption {
	return func(rs *RedisStore) {
		if timeout > 0 {
			rs.callTimeout = timeout
		}
	}
}

// WithRedisClock overrides the time source, for tests.
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(rs *RedisStore) {
		if now != nil {
			rs.now = now
		}
	}
}

// NewRedisStore creates a redis-backed counter store from a pre-configured
// client.
func NewRedisStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisStore {
	if client == nil {
		panic("store: redis client cannot be nil")
	}
	rs := &RedisStore{
		client:      client,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// IncrementAndCheck implements Store.
func (rs *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit rules.Limit) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, rs.callTimeout)
	defer cancel()

	keys := []string{keyPrefix + key}
	args := []any{
		rs.now().UnixMilli(),
		limit.Window.Milliseconds(),
		limit.Max,
	}

	raw, err := windowScript.Run(ctx, rs.client, keys, args...).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis window script failed")
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// the script returns {admitted, retry_after_ms}
	reply, ok := raw.([]any)
	if !ok || len(reply) != 2 {
		log.Error().Str("key", key).Interface("result", raw).Msg("redis window script returned unexpected shape")
		return Result{}, fmt.Errorf("%w: unexpected script result %T", ErrStoreUnavailable, raw)
	}
	admitted, ok1 := reply[0].(int64)
	retryMs, ok2 := reply[1].(int64)
	if !ok1 || !ok2 {
		log.Error().Str("key", key).Interface("result", raw).Msg("redis window script returned unexpected types")
		return Result{}, fmt.Errorf("%w: unexpected script result types", ErrStoreUnavailable)
	}

	res := Result{
		Admitted:   admitted == 1,
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}
	if !res.Admitted {
		log.Debug().Str("key", key).Stringer("limit", limit).Dur("retry_after", res.RetryAfter).Msg("redis store denied hit")
	}
	return res, nil
}

// Evict implements Store.
func (rs *RedisStore) Evict(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, rs.callTimeout)
	defer cancel()

	if err := rs.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
