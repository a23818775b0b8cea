package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-llmgate/internal/gateway/configuration"
	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
)

// incrementWithClamp atomically applies a delta, clamps the counter at zero,
// and ensures a TTL exists so minute buckets always expire. Handling all three
// concerns in one script keeps the operation atomic under concurrent writers
// from many gateway processes and pipeline-safe within a batch.
//
// KEYS[1] = counter key
// ARGV[1] = delta
// ARGV[2] = TTL in seconds
const incrementWithClamp = `
	local value = redis.call('INCRBY', KEYS[1], ARGV[1])
	if value < 0 then
		-- Decrements clamp at zero; counters are never observed negative.
		redis.call('SET', KEYS[1], 0, 'KEEPTTL')
		value = 0
	end
	if redis.call('TTL', KEYS[1]) == -1 then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return value
`

var incrementScript = redis.NewScript(incrementWithClamp)

// RedisStore implements CounterStore on a shared redis instance.
// All mutations go through the clamping increment script, so concurrent
// writers from many processes coordinate purely through additive atomic
// operations with no distributed locks.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a CounterStore backed by the given redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient builds a redis client from engine configuration.
func NewRedisClient(cfg configuration.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}

// Client exposes the underlying redis client for pool statistics.
func (s *RedisStore) Client() *redis.Client { return s.client }

// Increment atomically adds delta to key, clamping at zero and applying ttl
// on key creation.
func (s *RedisStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	value, err := incrementScript.Run(ctx, s.client, []string{key}, delta, ttlSeconds(ttl)).Int64()
	if err != nil {
		return 0, &gwerrors.StoreUnavailableError{Op: "increment", Err: err}
	}
	return value, nil
}

// Get returns the current counter value, with ok=false for missing keys.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &gwerrors.StoreUnavailableError{Op: "get", Err: err}
	}
	return value, true, nil
}

// Set overwrites key with value and ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return &gwerrors.StoreUnavailableError{Op: "set", Err: err}
	}
	return nil
}

// IncrementBatch applies every op in a single MULTI/EXEC pipeline, one round
// trip regardless of batch size. The script text is sent inline rather than
// via EVALSHA because a pipelined NOSCRIPT fallback cannot be handled
// mid-transaction.
func (s *RedisStore) IncrementBatch(ctx context.Context, ops []BatchOp, ttl time.Duration) ([]int64, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	pipe := s.client.TxPipeline()
	cmds := make([]*redis.Cmd, len(ops))
	for i, op := range ops {
		cmds[i] = pipe.Eval(ctx, incrementWithClamp, []string{op.Key}, op.Delta, ttlSeconds(ttl))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &gwerrors.StoreUnavailableError{Op: "batch", Err: err}
	}

	values := make([]int64, len(ops))
	for i, cmd := range cmds {
		value, err := cmd.Int64()
		if err != nil {
			return nil, &gwerrors.StoreUnavailableError{Op: "batch", Err: err}
		}
		values[i] = value
	}
	return values, nil
}

// ttlSeconds converts a TTL to whole seconds with a one-second floor, since
// EXPIRE rejects zero.
func ttlSeconds(ttl time.Duration) int64 {
	secs := int64(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
