// Package lock is a thin façade over the keyed store providing named
// mutexes with TTL and token-bound release (spec §4.1). Every
// state-mutating operation on a LowCard game holds the appropriate
// lock for the whole mutation: two replicas, or the Timer Poller
// racing a user command, can otherwise interleave reads and writes of
// the game snapshot.
package lock

import (
	"context"
	"fmt"
	"time"

	"lowcard/crypto"
)

// Store is the subset of the Keyed Store the Lock Manager needs.
// *db.RedisStore satisfies this structurally.
type Store interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareDelete(ctx context.Context, key, token string) (bool, error)
}

// Manager acquires and releases named, TTL-bound mutexes.
type Manager struct {
	store Store
}

// New builds a Manager over the given Keyed Store.
func New(store Store) *Manager {
	return &Manager{store: store}
}

// Acquire attempts a single "set if absent" with the given TTL. On
// success it returns the random token that must be presented to
// Release.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = crypto.GenerateToken()
	ok, err = m.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return "", false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// AcquireWithRetry retries Acquire up to attempts times with a fixed
// delay between tries, returning the first success.
func (m *Manager) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, attempts int, delay time.Duration) (token string, ok bool, err error) {
	for i := 0; i < attempts; i++ {
		token, ok, err = m.Acquire(ctx, key, ttl)
		if err != nil {
			return "", false, err
		}
		if ok {
			return token, true, nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return "", false, nil
}

// Release deletes key only if its stored value still equals token.
// This is required because TTL expiry followed by a new acquirer must
// not be released by the stale holder: a bare DEL would do exactly
// that.
func (m *Manager) Release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	_, err := m.store.CompareDelete(ctx, key, token)
	if err != nil {
		return fmt.Errorf("lock release %s: %w", key, err)
	}
	return nil
}
