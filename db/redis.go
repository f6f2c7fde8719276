package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"lowcard/config"

	"github.com/redis/go-redis/v9"
)

// releaseScript atomically deletes a key only if its current value
// matches the token the caller is holding. Plain GET-then-DEL would
// race: the TTL could expire and a new acquirer could grab the key
// between the two round trips, and the stale holder would delete the
// new holder's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisStore wraps a go-redis client with the primitives the Keyed
// Store (spec §2.2) needs: atomic compare-and-set with TTL, scripted
// compare-and-delete, hashes, pattern scan, and pub/sub.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis using the same dial/read/write
// timeouts and pool sizing the teacher's db.InitRedis used.
func NewRedisStore(env *config.Env) (*RedisStore, error) {
	log.Println("🔌 Connecting to Redis...")

	client := redis.NewClient(&redis.Options{
		Addr:         env.RedisURL,
		Password:     env.RedisPassword,
		DB:           env.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Redis connected successfully - URL: %s", env.RedisURL)
	return &RedisStore{client: client}, nil
}

// Close closes the underlying connection pool.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	log.Println("🔌 Closing Redis connection...")
	return s.client.Close()
}

// SetNX sets key=value with the given TTL only if key does not already
// exist. Returns true if this call created the key.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// CompareDelete deletes key only if its stored value equals token.
// Returns true if the key was deleted by this call.
func (s *RedisStore) CompareDelete(ctx context.Context, key, token string) (bool, error) {
	res, err := s.client.Eval(ctx, releaseScript, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("compare-delete %s: %w", key, err)
	}
	return res == 1, nil
}

// Get returns the raw string at key, or ("", false, nil) if absent.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return val, true, nil
}

// Set writes key=value with the given TTL (0 = no expiry).
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes one or more keys, ignoring missing ones.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del %v: %w", keys, err)
	}
	return nil
}

// Expire refreshes a key's TTL without touching its value.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// HSet stores field=value in the hash at key.
func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("hset %s/%s: %w", key, field, err)
	}
	return nil
}

// HGet reads field from the hash at key.
func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s/%s: %w", key, field, err)
	}
	return val, true, nil
}

// HGetAll returns the whole hash at key.
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return m, nil
}

// Scan enumerates keys matching pattern. Used by the Timer Poller to
// find every `room:*:lowcard:timer` key on each tick, and by Restart
// Recovery to sweep `lowcard:game:*`.
func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Publish publishes a JSON-ish payload (already-marshalled string) to a
// pub/sub channel.
func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw message payloads for the given
// pub/sub channel. Closing ctx unsubscribes.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) <-chan string {
	sub := s.client.Subscribe(ctx, channel)
	out := make(chan string, 64)

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- msg.Payload
			}
		}
	}()

	return out
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
