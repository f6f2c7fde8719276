// Package dicebot mirrors the interface shape of the sibling DiceBot
// and FlagBot games (spec.md's explicit non-goal: only LowCard is
// specified in full here). It satisfies internal/router.BotManager and
// internal/recovery's sibling-game sweep so the admin dispatch table
// and restart recovery are exercised end-to-end without implementing
// either game's rules.
package dicebot

import (
	"context"
	"fmt"
	"time"
)

// Store is the subset of the Keyed Store the stub needs to persist a
// per-room, per-game-type enabled flag.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

const keyPattern = "%s:bot:%s" // {gameType}:bot:{roomId}
const recordTTL = 7 * 24 * time.Hour

// Manager is a minimal bot-enabled toggle, grounded on
// internal/lowcard's own BotRecord shape but generalized across game
// types since it never implements a single game's rules.
type Manager struct {
	store Store
}

// New builds a Manager.
func New(store Store) *Manager {
	return &Manager{store: store}
}

// SetEnabled marks gameType's bot active (or inactive) for roomID.
func (m *Manager) SetEnabled(ctx context.Context, gameType, roomID string, active bool, defaultAmount int64) error {
	key := fmt.Sprintf(keyPattern, gameType, roomID)
	if !active {
		return m.store.Delete(ctx, key)
	}
	return m.store.Set(ctx, key, fmt.Sprintf("%d", defaultAmount), recordTTL)
}

// IsEnabled reports whether gameType's bot is active for roomID.
func (m *Manager) IsEnabled(ctx context.Context, gameType, roomID string) (bool, error) {
	_, ok, err := m.store.Get(ctx, fmt.Sprintf(keyPattern, gameType, roomID))
	return ok, err
}
